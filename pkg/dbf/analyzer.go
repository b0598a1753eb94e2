package dbf

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
)

// DateLayout is the layout of D fields
const DateLayout = "20060102"

// MemoFormat marks string and byte fields stored in a memo file
const MemoFormat = "memo"

// TableInfo summarizes a table header
type TableInfo struct {
	Type       byte              `json:"type"`
	TypeName   string            `json:"type_name"`
	LastUpdate time.Time         `json:"last_update"`
	Rows       uint32            `json:"rows"`
	RowSize    int               `json:"row_size"`
	CodePage   byte              `json:"code_page"`
	Charset    string            `json:"charset"`
	MemoFile   bool              `json:"memo_file"`
	Fields     []FieldDescriptor `json:"fields"`
}

// Analyze reads the header of a table
func Analyze(r io.Reader) (*TableInfo, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	return newTableInfo(h), nil
}

func newTableInfo(h *Header) *TableInfo {
	return &TableInfo{
		Type:       h.Type,
		TypeName:   TypeName(h.Type),
		LastUpdate: h.LastUpdate,
		Rows:       h.Rows,
		RowSize:    h.RowSize,
		CodePage:   h.CodePage,
		Charset:    CharsetForCodePage(h.CodePage),
		MemoFile:   HasMemoFile(h.Type) || h.HasMemoFields(),
		Fields:     h.Fields,
	}
}

// Metadata converts the field directory into fixed record metadata. Every
// field is nullable since blank DBF values carry no type.
func (t *TableInfo) Metadata(name string) *metadata.Metadata {
	meta := &metadata.Metadata{
		Name:    name,
		Type:    metadata.RecordFixed,
		Charset: t.Charset,
	}
	for _, d := range t.Fields {
		meta.Fields = append(meta.Fields, fieldMetadata(d))
	}
	meta.RecordSize = meta.RowSize()
	return meta
}

func fieldMetadata(d FieldDescriptor) metadata.FieldMetadata {
	fm := metadata.FieldMetadata{Name: d.Name, Size: d.Length, Nullable: true}
	switch d.Type {
	case FieldChar:
		fm.Type = metadata.TypeString
	case FieldNumeric:
		switch {
		case d.Decimals > 0:
			fm.Type = metadata.TypeDecimal
			fm.Scale = d.Decimals
		case d.Length < 10:
			fm.Type = metadata.TypeInteger
		case d.Length < 19:
			fm.Type = metadata.TypeLong
		default:
			fm.Type = metadata.TypeDecimal
		}
	case FieldFloat:
		fm.Type = metadata.TypeNumber
		fm.Scale = d.Decimals
	case FieldDate:
		fm.Type = metadata.TypeDate
		fm.Format = DateLayout
	case FieldLogical:
		fm.Type = metadata.TypeBoolean
	case FieldMemo:
		fm.Type = metadata.TypeString
		fm.Format = MemoFormat
	case FieldInteger:
		fm.Type = metadata.TypeInteger
	}
	return fm
}

// compatible reports whether values of a DBF field can populate a field of type t
func compatible(d FieldDescriptor, t metadata.FieldType) bool {
	if t == metadata.TypeString {
		return true
	}
	switch d.Type {
	case FieldChar, FieldMemo:
		return t == metadata.TypeByte
	case FieldNumeric, FieldFloat:
		return t.IsNumeric()
	case FieldInteger:
		return t == metadata.TypeInteger || t == metadata.TypeLong
	case FieldDate:
		return t == metadata.TypeDate
	case FieldLogical:
		return t == metadata.TypeBoolean
	}
	return false
}

// descriptorFor maps a field description to a DBF field
func descriptorFor(fm *metadata.FieldMetadata) (FieldDescriptor, error) {
	d := FieldDescriptor{Name: strings.ToUpper(fm.Name)}
	if len(d.Name) > maxNameLength {
		return d, errors.Newf(errors.ErrorTypeConfig, "dbf field name %s is longer than %d characters", fm.Name, maxNameLength)
	}
	sizeOr := func(def int) int {
		if fm.Size > 0 {
			return fm.Size
		}
		return def
	}
	switch fm.Type {
	case metadata.TypeString, metadata.TypeByte:
		if fm.Format == MemoFormat {
			d.Type, d.Length = FieldMemo, 10
			break
		}
		d.Type, d.Length = FieldChar, fm.Size
		if fm.Size <= 0 || fm.Size > maxCharLength {
			return d, errors.Newf(errors.ErrorTypeConfig, "dbf field %s: character size must be 1..%d", fm.Name, maxCharLength)
		}
	case metadata.TypeInteger:
		d.Type, d.Length = FieldNumeric, sizeOr(11)
	case metadata.TypeLong:
		d.Type, d.Length = FieldNumeric, sizeOr(maxNumericLength)
	case metadata.TypeDecimal:
		d.Type, d.Length, d.Decimals = FieldNumeric, sizeOr(maxNumericLength), fm.Scale
	case metadata.TypeNumber:
		d.Type, d.Length, d.Decimals = FieldFloat, sizeOr(maxNumericLength), fm.Scale
	case metadata.TypeDate:
		d.Type, d.Length = FieldDate, 8
	case metadata.TypeBoolean:
		d.Type, d.Length = FieldLogical, 1
	default:
		return d, errors.Newf(errors.ErrorTypeConfig, "dbf field %s: type %s has no dbf equivalent", fm.Name, fm.Type)
	}
	if (d.Type == FieldNumeric || d.Type == FieldFloat) && d.Length > maxNumericLength {
		return d, errors.Newf(errors.ErrorTypeConfig, "dbf field %s: numeric size %d exceeds %d", fm.Name, d.Length, maxNumericLength)
	}
	if d.Decimals > 0 && d.Decimals > d.Length-2 {
		return d, errors.Newf(errors.ErrorTypeConfig, "dbf field %s: %d decimals do not fit size %d", fm.Name, d.Decimals, d.Length)
	}
	return d, nil
}

// String renders the table summary printed by the CLI
func (t *TableInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "type:        %s (0x%02X)\n", t.TypeName, t.Type)
	if !t.LastUpdate.IsZero() {
		fmt.Fprintf(&b, "last update: %s\n", t.LastUpdate.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "rows:        %d\n", t.Rows)
	fmt.Fprintf(&b, "row size:    %d\n", t.RowSize)
	fmt.Fprintf(&b, "code page:   0x%02X (%s)\n", t.CodePage, t.Charset)
	fmt.Fprintf(&b, "memo file:   %t\n", t.MemoFile)
	fmt.Fprintf(&b, "fields:      %d\n", len(t.Fields))
	for _, f := range t.Fields {
		fmt.Fprintf(&b, "  %s\n", f)
	}
	return b.String()
}
