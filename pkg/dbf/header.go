// Package dbf reads and writes dBase/FoxPro tables and their memo files.
//
// A table starts with a 32-byte little-endian header followed by one 32-byte
// descriptor per field and a 0x0D terminator. Rows follow at the header
// length offset; each row starts with a deletion flag and holds space padded
// fixed-width values. The file ends with 0x1A.
//
// Memo fields store a block number in the row. The block lives in a companion
// .fpt (FoxPro) or .dbt (dBase) file; see MemoReader and MemoWriter.
package dbf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ajitpratap0/quasar/pkg/errors"
)

// Table type bytes
const (
	TypeFoxBase         byte = 0x02
	TypeDBase3          byte = 0x03
	TypeVisualFoxPro    byte = 0x30
	TypeVisualFoxProInc byte = 0x31
	TypeDBase3Memo      byte = 0x83
	TypeDBase4Memo      byte = 0x8B
	TypeFoxProMemo      byte = 0xF5
)

// Layout constants
const (
	HeaderSize      = 32
	DescriptorSize  = 32
	HeaderTerm byte = 0x0D
	EOFMarker  byte = 0x1A
	RowLive    byte = 0x20
	RowDeleted byte = 0x2A

	// vfpBacklink is the database container path stored after the
	// directory of Visual FoxPro tables
	vfpBacklink = 263

	maxNameLength    = 10
	maxCharLength    = 254
	maxNumericLength = 20
)

// Field type codes
const (
	FieldChar    byte = 'C'
	FieldNumeric byte = 'N'
	FieldFloat   byte = 'F'
	FieldDate    byte = 'D'
	FieldLogical byte = 'L'
	FieldMemo    byte = 'M'
	FieldInteger byte = 'I'
)

// TypeName returns a readable name for a table type byte
func TypeName(t byte) string {
	switch t {
	case TypeFoxBase:
		return "FoxBASE"
	case TypeDBase3:
		return "dBASE III"
	case TypeVisualFoxPro, TypeVisualFoxProInc:
		return "Visual FoxPro"
	case TypeDBase3Memo:
		return "dBASE III with memo"
	case TypeDBase4Memo:
		return "dBASE IV with memo"
	case TypeFoxProMemo:
		return "FoxPro with memo"
	}
	return fmt.Sprintf("unknown (0x%02X)", t)
}

// HasMemoFile reports whether the table type declares a memo file
func HasMemoFile(t byte) bool {
	switch t {
	case TypeDBase3Memo, TypeDBase4Memo, TypeFoxProMemo:
		return true
	}
	return false
}

func isVisualFoxPro(t byte) bool {
	return t == TypeVisualFoxPro || t == TypeVisualFoxProInc
}

// FieldDescriptor is one entry of the field directory
type FieldDescriptor struct {
	Name     string `json:"name"`
	Type     byte   `json:"-"`
	Length   int    `json:"length"`
	Decimals int    `json:"decimals"`
	// Offset within the row, including the deletion flag byte
	Offset int `json:"offset"`
}

// TypeCode returns the field type letter, such as "C" or "N"
func (d FieldDescriptor) TypeCode() string { return string(rune(d.Type)) }

func (d FieldDescriptor) String() string {
	if d.Decimals > 0 {
		return fmt.Sprintf("%s %c(%d,%d)", d.Name, d.Type, d.Length, d.Decimals)
	}
	return fmt.Sprintf("%s %c(%d)", d.Name, d.Type, d.Length)
}

// Header is the decoded table header and field directory
type Header struct {
	Type         byte
	LastUpdate   time.Time
	Rows         uint32
	HeaderLength int
	RowSize      int
	CodePage     byte
	Fields       []FieldDescriptor
}

// HasMemoFields reports whether any field is stored in a memo file
func (h *Header) HasMemoFields() bool {
	for _, f := range h.Fields {
		if f.Type == FieldMemo {
			return true
		}
	}
	return false
}

// ReadHeader decodes the header and directory and consumes the stream up to
// the first row.
func ReadHeader(r io.Reader) (*Header, error) {
	var fixed [HeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "cannot read dbf header")
	}
	h := &Header{
		Type:         fixed[0],
		Rows:         binary.LittleEndian.Uint32(fixed[4:8]),
		HeaderLength: int(binary.LittleEndian.Uint16(fixed[8:10])),
		RowSize:      int(binary.LittleEndian.Uint16(fixed[10:12])),
		CodePage:     fixed[29],
	}
	if fixed[2] >= 1 && fixed[2] <= 12 && fixed[3] >= 1 && fixed[3] <= 31 {
		h.LastUpdate = time.Date(1900+int(fixed[1]), time.Month(fixed[2]), int(fixed[3]), 0, 0, 0, 0, time.UTC)
	}
	if h.HeaderLength < HeaderSize+1 || h.RowSize < 1 {
		return nil, errors.Newf(errors.ErrorTypeData, "corrupt dbf header: header length %d, row size %d", h.HeaderLength, h.RowSize)
	}

	read := HeaderSize
	offset := 1
	var desc [DescriptorSize]byte
	for {
		if _, err := io.ReadFull(r, desc[:1]); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "cannot read dbf field directory")
		}
		read++
		if desc[0] == HeaderTerm {
			break
		}
		if _, err := io.ReadFull(r, desc[1:]); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "cannot read dbf field directory")
		}
		read += DescriptorSize - 1
		f := FieldDescriptor{
			Name:     decodeName(desc[0:11]),
			Type:     desc[11],
			Length:   int(desc[16]),
			Decimals: int(desc[17]),
			Offset:   offset,
		}
		if f.Type == FieldChar && !isVisualFoxPro(h.Type) {
			// Clipper and FoxPro store long character widths in the decimals byte
			f.Length = int(desc[16]) | int(desc[17])<<8
			f.Decimals = 0
		}
		if err := checkFieldType(f); err != nil {
			return nil, err
		}
		offset += f.Length
		h.Fields = append(h.Fields, f)
		if read >= h.HeaderLength {
			return nil, errors.New(errors.ErrorTypeData, "corrupt dbf header: directory runs past header length")
		}
	}
	if len(h.Fields) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "dbf table has no fields")
	}
	if offset != h.RowSize {
		return nil, errors.Newf(errors.ErrorTypeData, "corrupt dbf header: fields cover %d bytes, row size is %d", offset, h.RowSize)
	}
	if skip := h.HeaderLength - read; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(skip)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "cannot skip dbf header padding")
		}
	}
	return h, nil
}

func checkFieldType(f FieldDescriptor) error {
	switch f.Type {
	case FieldChar, FieldNumeric, FieldFloat, FieldDate, FieldLogical, FieldMemo:
	case FieldInteger:
		if f.Length != 4 {
			return errors.Newf(errors.ErrorTypeData, "dbf field %s: integer field must be 4 bytes", f.Name)
		}
	default:
		return errors.Newf(errors.ErrorTypeCapability, "dbf field %s: unsupported field type %q", f.Name, f.Type).
			WithDetail("field", f.Name)
	}
	if f.Length <= 0 {
		return errors.Newf(errors.ErrorTypeData, "dbf field %s has zero length", f.Name)
	}
	return nil
}

func decodeName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// headerLength returns the header length written for n fields
func headerLength(tableType byte, n int) int {
	l := HeaderSize + n*DescriptorSize + 1
	if isVisualFoxPro(tableType) {
		l += vfpBacklink
	}
	return l
}

// MarshalBinary encodes the header and directory. The row count is written
// as given; formatters rewrite it on close.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerLength(h.Type, len(h.Fields)))
	buf[0] = h.Type
	d := h.LastUpdate
	if d.IsZero() {
		d = time.Now()
	}
	buf[1] = byte(d.Year() - 1900)
	buf[2] = byte(d.Month())
	buf[3] = byte(d.Day())
	binary.LittleEndian.PutUint32(buf[4:8], h.Rows)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(buf)))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(h.RowSize))
	buf[29] = h.CodePage

	for i, f := range h.Fields {
		desc := buf[HeaderSize+i*DescriptorSize : HeaderSize+(i+1)*DescriptorSize]
		if len(f.Name) > maxNameLength {
			return nil, errors.Newf(errors.ErrorTypeConfig, "dbf field name %s is longer than %d characters", f.Name, maxNameLength)
		}
		copy(desc[0:11], f.Name)
		desc[11] = f.Type
		desc[16] = byte(f.Length)
		desc[17] = byte(f.Decimals)
	}
	buf[HeaderSize+len(h.Fields)*DescriptorSize] = HeaderTerm
	return buf, nil
}
