package seqfile

import (
	"io"
	"strconv"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/parser"
	"github.com/ajitpratap0/quasar/pkg/record"
	"go.uber.org/zap"
)

const format = "seqfile"

// keyValueFields returns the indexes of the first two fields that are read
// from the file rather than auto-filled.
func keyValueFields(meta *metadata.Metadata) ([2]int, error) {
	var kv [2]int
	n := 0
	for i := range meta.Fields {
		if meta.Fields[i].AutoFilling != metadata.AutoFillNone {
			continue
		}
		if n == 2 {
			return kv, errors.Newf(errors.ErrorTypeConfig, "metadata %s: sequence files hold a key and a value, field %s has no source",
				meta.Name, meta.Fields[i].Name)
		}
		kv[n] = i
		n++
	}
	if n != 2 {
		return kv, errors.Newf(errors.ErrorTypeConfig, "metadata %s needs a key and a value field", meta.Name)
	}
	return kv, nil
}

// Parser adapts Reader to parser.Parser. The key populates the first field
// and the value the second.
type Parser struct {
	opts    parser.Options
	meta    *metadata.Metadata
	kv      [2]int
	r       *Reader
	handler *parser.ExceptionHandler
	source  string
	count   int64
}

var _ parser.Parser = (*Parser)(nil)

// NewParser creates an uninitialized parser
func NewParser(opts parser.Options) *Parser {
	return &Parser{opts: opts}
}

// Init implements parser.Parser
func (p *Parser) Init(meta *metadata.Metadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	kv, err := keyValueFields(meta)
	if err != nil {
		return err
	}
	p.meta = meta
	p.kv = kv
	p.opts.Format = format
	if p.opts.Logger == nil {
		p.opts.Logger = zap.NewNop()
	}
	return nil
}

// SetDataSource implements parser.Parser
func (p *Parser) SetDataSource(r io.Reader, name string) error {
	if p.meta == nil {
		return errors.New(errors.ErrorTypeContract, "parser used before Init")
	}
	sr, err := NewReader(r)
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "sequence file "+name)
	}
	for _, c := range []string{sr.Header().KeyClass, sr.Header().ValueClass} {
		if !supportedClass(c) {
			return unsupportedClass(c)
		}
	}
	p.r = sr
	p.source = name
	p.count = 0
	p.opts.Logger.Debug("sequence file opened",
		zap.String("source", name),
		zap.String("key_class", sr.Header().KeyClass),
		zap.String("value_class", sr.Header().ValueClass),
		zap.String("codec", sr.Header().Codec))
	return nil
}

// Header returns the header of the current source
func (p *Parser) Header() *Header {
	if p.r == nil {
		return nil
	}
	return p.r.Header()
}

// SetExceptionHandler implements parser.Parser
func (p *Parser) SetExceptionHandler(h *parser.ExceptionHandler) { p.handler = h }

// RecordCount implements parser.Parser
func (p *Parser) RecordCount() int64 { return p.count }

// GetNext implements parser.Parser
func (p *Parser) GetNext(rec *record.Record) (*record.Record, error) {
	if p.r == nil {
		return nil, errors.New(errors.ErrorTypeContract, "parser has no data source")
	}
	for {
		key, value, err := p.r.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		p.count++
		recNo := p.count

		var firstErr error
		classes := [2]string{p.r.Header().KeyClass, p.r.Header().ValueClass}
		for i, raw := range [2][]byte{key, value} {
			if err := p.populate(rec, p.kv[i], classes[i], raw, recNo); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := parser.AutoFill(rec, recNo, p.source); err != nil {
			return nil, err
		}
		if firstErr != nil {
			metrics.RecordsParsed.WithLabelValues(format, metrics.StatusFailed).Inc()
			return nil, firstErr
		}
		keep, err := parser.FinishRecord(rec, p.handler, format)
		if err != nil {
			return nil, err
		}
		if keep {
			return rec, nil
		}
	}
}

func (p *Parser) populate(rec *record.Record, idx int, class string, raw []byte, recNo int64) error {
	f := rec.Field(idx)
	v, err := DecodeWritable(class, raw)
	if err != nil {
		bad := parser.NewBadDataFormatError(recNo, idx, f.Name(), "", err)
		if p.handler == nil {
			return bad
		}
		p.handler.Populate(bad)
		return nil
	}
	var s string
	switch t := v.(type) {
	case nil:
	case string:
		s = t
	case []byte:
		if f.Metadata().Type == metadata.TypeByte {
			return f.SetValue(t)
		}
		s = string(t)
	case int32:
		s = strconv.FormatInt(int64(t), 10)
	case int64:
		s = strconv.FormatInt(t, 10)
	}
	return parser.PopulateField(rec, idx, s, recNo, p.handler)
}

// Skip implements parser.Parser
func (p *Parser) Skip(n int) (int, error) {
	if p.r == nil {
		return 0, errors.New(errors.ErrorTypeContract, "parser has no data source")
	}
	for i := 0; i < n; i++ {
		if _, _, err := p.r.Next(); err != nil {
			if err == io.EOF {
				return i, nil
			}
			return i, err
		}
		p.count++
	}
	return n, nil
}

// Close implements parser.Parser. The data source is not closed.
func (p *Parser) Close() error {
	p.r = nil
	return nil
}

// ClassFor returns the writable class a field type is written as
func ClassFor(t metadata.FieldType) string {
	switch t {
	case metadata.TypeByte:
		return ClassBytesWritable
	case metadata.TypeInteger:
		return ClassIntWritable
	case metadata.TypeLong:
		return ClassLongWritable
	}
	return ClassText
}

// Formatter adapts Writer to parser.Formatter
type Formatter struct {
	opts    parser.Options
	meta    *metadata.Metadata
	kv      [2]int
	classes [2]string
	codec   string
	target  io.Writer
	w       *Writer
	key     []byte
	value   []byte
}

var _ parser.Formatter = (*Formatter)(nil)

// NewFormatter creates an uninitialized formatter. codec is a codec class
// name or empty for uncompressed values.
func NewFormatter(opts parser.Options, codec string) *Formatter {
	return &Formatter{opts: opts, codec: codec}
}

// Init implements parser.Formatter
func (f *Formatter) Init(meta *metadata.Metadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	kv, err := keyValueFields(meta)
	if err != nil {
		return err
	}
	if f.codec != "" {
		if _, err := codecAlgorithm(f.codec); err != nil {
			return err
		}
	}
	f.meta = meta
	f.kv = kv
	for i := range kv {
		f.classes[i] = ClassFor(meta.Fields[kv[i]].Type)
	}
	f.opts.Format = format
	return nil
}

// SetDataTarget implements parser.Formatter
func (f *Formatter) SetDataTarget(w io.Writer) error {
	if f.meta == nil {
		return errors.New(errors.ErrorTypeContract, "formatter used before Init")
	}
	f.target = w
	f.w = nil
	return nil
}

// WriteHeader implements parser.Formatter. It is called implicitly by the
// first Write.
func (f *Formatter) WriteHeader() (int, error) {
	if f.target == nil {
		return 0, errors.New(errors.ErrorTypeContract, "formatter has no data target")
	}
	if f.w != nil {
		return 0, nil
	}
	w, err := NewWriter(f.target, WriterOptions{
		KeyClass:   f.classes[0],
		ValueClass: f.classes[1],
		Codec:      f.codec,
	})
	if err != nil {
		return 0, err
	}
	f.w = w
	return int(w.pos), nil
}

// Write implements parser.Formatter
func (f *Formatter) Write(rec *record.Record) (int, error) {
	if _, err := f.WriteHeader(); err != nil {
		return 0, err
	}
	var err error
	if f.key, err = AppendWritable(f.key[:0], f.classes[0], writableValue(rec.Field(f.kv[0]))); err != nil {
		return 0, err
	}
	if f.value, err = AppendWritable(f.value[:0], f.classes[1], writableValue(rec.Field(f.kv[1]))); err != nil {
		return 0, err
	}
	before := f.w.pos
	if err := f.w.Append(f.key, f.value); err != nil {
		return 0, err
	}
	metrics.RecordsFormatted.WithLabelValues(format).Inc()
	return int(f.w.pos - before), nil
}

// writableValue returns the field value in the Go type its class expects
func writableValue(fld *record.Field) interface{} {
	switch fld.Value().(type) {
	case nil, []byte, int32, int64:
		return fld.Value()
	}
	return fld.String()
}

// WriteFooter implements parser.Formatter; sequence files have no footer
func (f *Formatter) WriteFooter() (int, error) { return 0, nil }

// Flush implements parser.Formatter
func (f *Formatter) Flush() error {
	if f.w == nil {
		return nil
	}
	return f.w.Flush()
}

// Close writes the header of an empty file and flushes. The data target is
// not closed.
func (f *Formatter) Close() error {
	if f.target == nil {
		return nil
	}
	if _, err := f.WriteHeader(); err != nil {
		return err
	}
	return f.Flush()
}
