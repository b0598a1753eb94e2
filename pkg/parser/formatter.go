package parser

import (
	"bufio"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ajitpratap0/quasar/pkg/charset"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/record"
)

// textFormatter holds what the fixed and delimited formatters share: the
// encoder, the buffered target and a scratch row.
type textFormatter struct {
	opts     Options
	meta     *metadata.Metadata
	enc      *charset.Encoder
	utf8     bool
	recDelim []byte
	w        *bufio.Writer
	row      []byte
}

func (t *textFormatter) init(meta *metadata.Metadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	enc, err := charset.NewEncoder(meta.CharsetName())
	if err != nil {
		return err
	}
	if t.recDelim, err = encodeDelimiter(meta.CharsetName(), meta.RecordDelimiter); err != nil {
		return err
	}
	t.opts = t.opts.withDefaults(meta)
	t.meta = meta
	t.enc = enc
	t.utf8 = charset.IsUTF8(meta.CharsetName())
	return nil
}

func (t *textFormatter) setTarget(w io.Writer) error {
	if t.meta == nil {
		return errors.New(errors.ErrorTypeContract, "formatter used before Init")
	}
	if t.w == nil {
		t.w = bufio.NewWriterSize(w, defaultBufferSize)
	} else {
		t.w.Reset(w)
	}
	return nil
}

func (t *textFormatter) emit(b []byte) (int, error) {
	if t.w == nil {
		return 0, errors.New(errors.ErrorTypeContract, "formatter has no data target")
	}
	n, err := t.w.Write(b)
	if err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeIO, "write failed")
	}
	return n, nil
}

// appendFixed pads or cuts b to width. Numeric values are right-justified.
func (t *textFormatter) appendFixed(dst, b []byte, width int, right bool) []byte {
	if len(b) > width {
		cut := width
		if t.utf8 {
			for cut > 0 && !utf8.RuneStart(b[cut]) {
				cut--
			}
		}
		b = b[:cut]
	}
	pad := width - len(b)
	if right {
		dst = appendSpaces(dst, pad)
		return append(dst, b...)
	}
	dst = append(dst, b...)
	return appendSpaces(dst, pad)
}

func appendSpaces(dst []byte, n int) []byte {
	for ; n > 0; n-- {
		dst = append(dst, ' ')
	}
	return dst
}

// Flush implements Formatter
func (t *textFormatter) Flush() error {
	if t.w == nil {
		return nil
	}
	if err := t.w.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "flush failed")
	}
	return nil
}

// Close flushes buffered output. The data target is not closed.
func (t *textFormatter) Close() error {
	return t.Flush()
}

// WriteFooter implements Formatter; text layouts have no footer
func (t *textFormatter) WriteFooter() (int, error) { return 0, nil }

// FixedLengthFormatter writes rows of fixed-width fields
type FixedLengthFormatter struct {
	textFormatter
}

// NewFixedLengthFormatter creates an uninitialized formatter
func NewFixedLengthFormatter(opts Options) *FixedLengthFormatter {
	return &FixedLengthFormatter{textFormatter{opts: opts}}
}

// Init implements Formatter
func (f *FixedLengthFormatter) Init(meta *metadata.Metadata) error {
	if err := f.init(meta); err != nil {
		return err
	}
	if meta.Type != metadata.RecordFixed {
		return errors.Newf(errors.ErrorTypeConfig, "metadata %s is %s, fixed-length formatter needs fixed", meta.Name, meta.Type)
	}
	return nil
}

// SetDataTarget implements Formatter
func (f *FixedLengthFormatter) SetDataTarget(w io.Writer) error { return f.setTarget(w) }

// WriteHeader writes field names padded to their widths when Options.Header
// is set.
func (f *FixedLengthFormatter) WriteHeader() (int, error) {
	if !f.opts.Header {
		return 0, nil
	}
	row := f.row[:0]
	for i := range f.meta.Fields {
		fm := &f.meta.Fields[i]
		if fm.AutoFilling != metadata.AutoFillNone {
			continue
		}
		b, err := f.enc.Encode(fm.Name)
		if err != nil {
			return 0, err
		}
		row = f.appendFixed(row, b, fm.Size, false)
	}
	row = append(row, f.recDelim...)
	f.row = row
	return f.emit(row)
}

// Write implements Formatter
func (f *FixedLengthFormatter) Write(rec *record.Record) (int, error) {
	row := f.row[:0]
	for i := range f.meta.Fields {
		fm := &f.meta.Fields[i]
		if fm.AutoFilling != metadata.AutoFillNone {
			continue
		}
		b, err := f.enc.Encode(rec.Field(i).String())
		if err != nil {
			return 0, err
		}
		row = f.appendFixed(row, b, fm.Size, fm.Type.IsNumeric())
	}
	row = append(row, f.recDelim...)
	f.row = row
	n, err := f.emit(row)
	if err == nil {
		metrics.RecordsFormatted.WithLabelValues(f.opts.Format).Inc()
	}
	return n, err
}

// DelimitedFormatter writes each field followed by its delimiter
type DelimitedFormatter struct {
	textFormatter
	delims   [][]byte
	recAfter bool
}

// NewDelimitedFormatter creates an uninitialized formatter
func NewDelimitedFormatter(opts Options) *DelimitedFormatter {
	return &DelimitedFormatter{textFormatter: textFormatter{opts: opts}}
}

// Init implements Formatter
func (f *DelimitedFormatter) Init(meta *metadata.Metadata) error {
	if err := f.init(meta); err != nil {
		return err
	}
	if meta.Type == metadata.RecordFixed {
		return errors.Newf(errors.ErrorTypeConfig, "metadata %s is fixed, use the fixed-length formatter", meta.Name)
	}
	f.delims = make([][]byte, len(meta.Fields))
	last := -1
	for i := range meta.Fields {
		fm := &meta.Fields[i]
		if fm.AutoFilling != metadata.AutoFillNone {
			continue
		}
		last = i
		if fm.IsFixed() {
			continue
		}
		var err error
		if f.delims[i], err = encodeDelimiter(meta.CharsetName(), meta.FieldDelimiter(i)); err != nil {
			return err
		}
	}
	if last < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "metadata %s has only auto-filled fields", meta.Name)
	}
	f.recAfter = len(f.recDelim) > 0 && string(f.delims[last]) != string(f.recDelim)
	return nil
}

// SetDataTarget implements Formatter
func (f *DelimitedFormatter) SetDataTarget(w io.Writer) error { return f.setTarget(w) }

// WriteHeader writes a row of field names when Options.Header is set
func (f *DelimitedFormatter) WriteHeader() (int, error) {
	if !f.opts.Header {
		return 0, nil
	}
	return f.writeRow(func(i int) string { return f.meta.Fields[i].Name }, false)
}

// Write implements Formatter
func (f *DelimitedFormatter) Write(rec *record.Record) (int, error) {
	n, err := f.writeRow(func(i int) string { return rec.Field(i).String() }, true)
	if err == nil {
		metrics.RecordsFormatted.WithLabelValues(f.opts.Format).Inc()
	}
	return n, err
}

func (f *DelimitedFormatter) writeRow(value func(i int) string, justify bool) (int, error) {
	row := f.row[:0]
	for i := range f.meta.Fields {
		fm := &f.meta.Fields[i]
		if fm.AutoFilling != metadata.AutoFillNone {
			continue
		}
		s := value(i)
		if fm.IsFixed() {
			b, err := f.enc.Encode(s)
			if err != nil {
				return 0, err
			}
			row = f.appendFixed(row, b, fm.Size, justify && fm.Type.IsNumeric())
			continue
		}
		if f.meta.QuotedStrings && fm.Type == metadata.TypeString && f.needsQuote(s, i) {
			s = `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
		}
		b, err := f.enc.Encode(s)
		if err != nil {
			return 0, err
		}
		row = append(row, b...)
		row = append(row, f.delims[i]...)
	}
	if f.recAfter {
		row = append(row, f.recDelim...)
	}
	f.row = row
	return f.emit(row)
}

func (f *DelimitedFormatter) needsQuote(s string, i int) bool {
	if s == "" {
		return false
	}
	if s[0] == '"' || s[0] == '\'' || strings.ContainsAny(s, "\r\n") {
		return true
	}
	if d := f.meta.FieldDelimiter(i); d != "" && strings.Contains(s, d) {
		return true
	}
	return f.meta.RecordDelimiter != "" && strings.Contains(s, f.meta.RecordDelimiter)
}
