package dbf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"time"

	"github.com/ajitpratap0/quasar/pkg/charset"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/parser"
	"github.com/ajitpratap0/quasar/pkg/record"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Formatter writes records as a table. It implements parser.Formatter.
//
// When the target is an io.WriteSeeker the header is written up front and
// its row count is patched by WriteFooter. Other targets receive the whole
// table on WriteFooter or Close, since the row count must precede the rows.
type Formatter struct {
	opts    parser.Options
	meta    *metadata.Metadata
	header  Header
	cols    []column
	enc     *charset.Encoder
	memo    *MemoWriter
	target  io.Writer
	seeker  io.WriteSeeker
	start   int64
	w       *bufio.Writer
	pending bytes.Buffer
	row     []byte
	started bool
	footer  bool
}

var _ parser.Formatter = (*Formatter)(nil)

// NewFormatter creates an uninitialized formatter
func NewFormatter(opts parser.Options) *Formatter {
	return &Formatter{opts: opts}
}

// Init implements parser.Formatter. Fields that cannot be represented in a
// table are configuration errors. Auto-filled fields are not written.
func (f *Formatter) Init(meta *metadata.Metadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	cp, err := CodePageForCharset(meta.Charset)
	if err != nil {
		return err
	}
	enc, err := charset.NewEncoder(CharsetForCodePage(cp))
	if err != nil {
		return err
	}

	h := Header{Type: TypeDBase3, CodePage: cp, RowSize: 1}
	f.cols = f.cols[:0]
	for i := range meta.Fields {
		fm := &meta.Fields[i]
		if fm.AutoFilling != metadata.AutoFillNone {
			continue
		}
		d, err := descriptorFor(fm)
		if err != nil {
			return err
		}
		d.Offset = h.RowSize
		h.RowSize += d.Length
		h.Fields = append(h.Fields, d)
		f.cols = append(f.cols, column{field: i, desc: d})
	}
	if len(h.Fields) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "metadata %s has no fields to write", meta.Name)
	}
	if h.HasMemoFields() {
		h.Type = TypeDBase4Memo
	}
	f.opts.Format = "dbf"
	if f.opts.Logger == nil {
		f.opts.Logger = zap.NewNop()
	}
	f.meta = meta
	f.header = h
	f.enc = enc
	f.row = make([]byte, h.RowSize)
	return nil
}

// SetMemoWriter attaches the memo file that memo fields are written to. The
// table type follows the memo layout.
func (f *Formatter) SetMemoWriter(mw *MemoWriter) {
	f.memo = mw
	if mw != nil && mw.kind == MemoFPT {
		f.header.Type = TypeFoxProMemo
	} else if f.header.HasMemoFields() {
		f.header.Type = TypeDBase4Memo
	}
}

// Header returns the header as it will be written
func (f *Formatter) Header() Header { return f.header }

// SetDataTarget implements parser.Formatter
func (f *Formatter) SetDataTarget(w io.Writer) error {
	if f.meta == nil {
		return errors.New(errors.ErrorTypeContract, "formatter used before Init")
	}
	f.target = w
	f.seeker = nil
	if ws, ok := w.(io.WriteSeeker); ok {
		if start, err := ws.Seek(0, io.SeekCurrent); err == nil {
			f.seeker, f.start = ws, start
		}
	}
	out := io.Writer(&f.pending)
	if f.seeker != nil {
		out = w
	}
	if f.w == nil {
		f.w = bufio.NewWriterSize(out, 64*1024)
	} else {
		f.w.Reset(out)
	}
	f.pending.Reset()
	f.header.Rows = 0
	f.started = false
	f.footer = false
	return nil
}

// WriteHeader implements parser.Formatter. The header carries a zero row
// count until the footer is written.
func (f *Formatter) WriteHeader() (int, error) {
	if f.w == nil {
		return 0, errors.New(errors.ErrorTypeContract, "formatter has no data target")
	}
	if f.started {
		return 0, nil
	}
	if f.header.HasMemoFields() && f.memo == nil {
		return 0, errors.Newf(errors.ErrorTypeConfig, "metadata %s has memo fields but no memo file is attached", f.meta.Name)
	}
	f.started = true
	if f.seeker == nil {
		return 0, nil
	}
	b, err := f.header.MarshalBinary()
	if err != nil {
		return 0, err
	}
	return f.emit(b)
}

func (f *Formatter) emit(b []byte) (int, error) {
	n, err := f.w.Write(b)
	if err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeIO, "dbf write failed")
	}
	return n, nil
}

// Write implements parser.Formatter
func (f *Formatter) Write(rec *record.Record) (int, error) {
	if !f.started {
		if _, err := f.WriteHeader(); err != nil {
			return 0, err
		}
	}
	if f.footer {
		return 0, errors.New(errors.ErrorTypeContract, "dbf write after footer")
	}
	f.row[0] = RowLive
	for _, c := range f.cols {
		cell := f.row[c.desc.Offset : c.desc.Offset+c.desc.Length]
		if err := f.formatField(cell, rec.Field(c.field), c.desc); err != nil {
			return 0, err
		}
	}
	n, err := f.emit(f.row)
	if err != nil {
		return n, err
	}
	f.header.Rows++
	metrics.RecordsFormatted.WithLabelValues(f.opts.Format).Inc()
	return n, nil
}

func (f *Formatter) formatField(cell []byte, fld *record.Field, d FieldDescriptor) error {
	fill(cell, ' ')
	if fld.IsNull() {
		if d.Type == FieldLogical {
			cell[0] = '?'
		}
		return nil
	}

	switch d.Type {
	case FieldChar:
		b, err := f.encodeValue(fld)
		if err != nil {
			return err
		}
		copy(cell, b)
	case FieldNumeric, FieldFloat:
		s := numericText(fld, d.Decimals)
		if len(s) > len(cell) {
			return errors.Newf(errors.ErrorTypeData, "value %s does not fit dbf field %s(%d)", s, d.Name, d.Length)
		}
		copy(cell[len(cell)-len(s):], s)
	case FieldDate:
		if t, ok := fld.Value().(time.Time); ok {
			copy(cell, t.Format(DateLayout))
		} else {
			t, err := time.Parse(fld.Metadata().DateLayout(), fld.String())
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "dbf field "+d.Name+" is not a date")
			}
			copy(cell, t.Format(DateLayout))
		}
	case FieldLogical:
		cell[0] = 'F'
		if b, ok := fld.Value().(bool); ok && b {
			cell[0] = 'T'
		}
	case FieldMemo:
		b, err := f.encodeValue(fld)
		if err != nil || len(b) == 0 {
			return err
		}
		block, err := f.memo.Write(b)
		if err != nil {
			return err
		}
		s := strconv.FormatUint(uint64(block), 10)
		copy(cell[len(cell)-len(s):], s)
	}
	return nil
}

func (f *Formatter) encodeValue(fld *record.Field) ([]byte, error) {
	if b, ok := fld.Value().([]byte); ok {
		return b, nil
	}
	return f.enc.Encode(fld.String())
}

func numericText(fld *record.Field, decimals int) string {
	switch v := fld.Value().(type) {
	case float64:
		if decimals > 0 {
			return strconv.FormatFloat(v, 'f', decimals, 64)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case decimal.Decimal:
		return v.StringFixed(int32(decimals))
	}
	return fld.String()
}

func fill(b []byte, c byte) {
	for i := range b {
		b[i] = c
	}
}

// WriteFooter implements parser.Formatter. It writes the end-of-file marker
// and the final row count; later calls do nothing.
func (f *Formatter) WriteFooter() (int, error) {
	if f.w == nil || f.footer {
		return 0, nil
	}
	if !f.started {
		if _, err := f.WriteHeader(); err != nil {
			return 0, err
		}
	}
	f.footer = true
	if _, err := f.emit([]byte{EOFMarker}); err != nil {
		return 0, err
	}
	if err := f.w.Flush(); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeIO, "dbf flush failed")
	}

	if f.seeker == nil {
		b, err := f.header.MarshalBinary()
		if err != nil {
			return 0, err
		}
		if _, err := f.target.Write(b); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeIO, "dbf write failed")
		}
		if _, err := f.pending.WriteTo(f.target); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeIO, "dbf write failed")
		}
		return 1, nil
	}

	var rows [4]byte
	binary.LittleEndian.PutUint32(rows[:], f.header.Rows)
	if _, err := f.seeker.Seek(f.start+4, io.SeekStart); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeIO, "dbf seek failed")
	}
	if _, err := f.seeker.Write(rows[:]); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeIO, "dbf row count rewrite failed")
	}
	if _, err := f.seeker.Seek(0, io.SeekEnd); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeIO, "dbf seek failed")
	}
	f.opts.Logger.Debug("dbf table written", zap.Uint32("rows", f.header.Rows), zap.Int("row_size", f.header.RowSize))
	return 1, nil
}

// Flush implements parser.Formatter. Targets that cannot seek only receive
// data once the footer is written.
func (f *Formatter) Flush() error {
	if f.w == nil {
		return nil
	}
	if err := f.w.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "dbf flush failed")
	}
	return nil
}

// Close writes the footer when it is still missing and closes the memo
// writer. The data target is not closed.
func (f *Formatter) Close() error {
	if f.w == nil {
		return nil
	}
	if _, err := f.WriteFooter(); err != nil {
		return err
	}
	if f.memo != nil {
		mw := f.memo
		f.memo = nil
		return mw.Close()
	}
	return nil
}
