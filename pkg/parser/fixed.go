package parser

import (
	"io"
	"strings"

	"github.com/ajitpratap0/quasar/pkg/charset"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/record"
)

// FixedLengthParser reads rows of fixed-width fields. Rows may be separated
// by the metadata record delimiter; a "\r\n" is accepted where "\n" is
// declared.
type FixedLengthParser struct {
	opts     Options
	meta     *metadata.Metadata
	offsets  []int
	rowSize  int
	recDelim []byte
	in       inputBuffer
	dec      *charset.Decoder
	handler  *ExceptionHandler
	source   string
	count    int64
}

// NewFixedLengthParser creates an uninitialized parser
func NewFixedLengthParser(opts Options) *FixedLengthParser {
	return &FixedLengthParser{opts: opts}
}

// Init implements Parser
func (p *FixedLengthParser) Init(meta *metadata.Metadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	if meta.Type != metadata.RecordFixed {
		return errors.Newf(errors.ErrorTypeConfig, "metadata %s is %s, fixed-length parser needs fixed", meta.Name, meta.Type)
	}
	dec, err := charset.NewDecoder(meta.CharsetName())
	if err != nil {
		return err
	}
	recDelim, err := encodeDelimiter(meta.CharsetName(), meta.RecordDelimiter)
	if err != nil {
		return err
	}
	p.opts = p.opts.withDefaults(meta)
	p.meta = meta
	p.offsets = meta.Offsets()
	p.rowSize = meta.RowSize()
	p.recDelim = recDelim
	p.dec = dec
	return nil
}

// SetDataSource implements Parser
func (p *FixedLengthParser) SetDataSource(r io.Reader, name string) error {
	if p.meta == nil {
		return errors.New(errors.ErrorTypeContract, "parser used before Init")
	}
	p.in.reset(r)
	p.dec.Reset()
	p.source = name
	p.count = 0
	if p.opts.Header {
		if _, err := p.Skip(1); err != nil {
			return err
		}
		p.count = 0
	}
	return nil
}

// SetExceptionHandler implements Parser
func (p *FixedLengthParser) SetExceptionHandler(h *ExceptionHandler) { p.handler = h }

// RecordCount implements Parser
func (p *FixedLengthParser) RecordCount() int64 { return p.count }

// GetNext implements Parser
func (p *FixedLengthParser) GetNext(rec *record.Record) (*record.Record, error) {
	for {
		n, err := p.in.ensure(p.rowSize)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		if n > p.rowSize {
			n = p.rowSize
		}
		p.count++
		recNo := p.count
		row := p.in.peek(n)

		var firstErr error
		for i := range p.meta.Fields {
			fm := &p.meta.Fields[i]
			if fm.AutoFilling != metadata.AutoFillNone {
				continue
			}
			off := p.offsets[i]
			var err error
			if off+fm.Size > n {
				err = p.report(NewBadDataFormatError(recNo, i, fm.Name, "",
					errors.New(errors.ErrorTypeData, "record is incomplete")))
			} else {
				var s string
				s, err = p.dec.Decode(row[off : off+fm.Size])
				if err != nil {
					err = p.report(NewBadDataFormatError(recNo, i, fm.Name, string(row[off:off+fm.Size]), err))
				} else {
					err = PopulateField(rec, i, trimFixed(s, fm, p.meta.SkipLeadingBlanks), recNo, p.handler)
				}
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		p.in.discard(n)
		if err := p.skipRecordDelimiter(); err != nil {
			return nil, err
		}
		if err := AutoFill(rec, recNo, p.source); err != nil {
			return nil, err
		}
		if firstErr != nil {
			metrics.RecordsParsed.WithLabelValues(p.opts.Format, metrics.StatusFailed).Inc()
			return nil, firstErr
		}
		keep, err := FinishRecord(rec, p.handler, p.opts.Format)
		if err != nil {
			return nil, err
		}
		if keep {
			return rec, nil
		}
	}
}

// Skip implements Parser
func (p *FixedLengthParser) Skip(n int) (int, error) {
	for i := 0; i < n; i++ {
		avail, err := p.in.ensure(p.rowSize)
		if err != nil {
			return i, err
		}
		if avail == 0 {
			return i, nil
		}
		if avail > p.rowSize {
			avail = p.rowSize
		}
		p.in.discard(avail)
		p.count++
		if err := p.skipRecordDelimiter(); err != nil {
			return i, err
		}
	}
	return n, nil
}

// Close implements Parser. The data source is not closed.
func (p *FixedLengthParser) Close() error {
	p.in.release()
	return nil
}

func (p *FixedLengthParser) report(bad *BadDataFormatError) error {
	if p.handler == nil {
		return bad
	}
	p.handler.Populate(bad)
	return nil
}

func (p *FixedLengthParser) skipRecordDelimiter() error {
	if len(p.recDelim) == 0 {
		return nil
	}
	ok, err := p.in.hasPrefix(p.recDelim)
	if err != nil {
		return err
	}
	if ok {
		p.in.discard(len(p.recDelim))
		return nil
	}
	if p.recDelim[0] == '\n' {
		if ok, err = p.in.hasPrefix(crlf); err != nil {
			return err
		}
		if ok {
			p.in.discard(len(crlf))
		}
	}
	return nil
}

var crlf = []byte("\r\n")

// trimFixed strips the padding a fixed formatter adds to string values.
// Other types are trimmed by Field.FromString.
func trimFixed(s string, fm *metadata.FieldMetadata, leading bool) string {
	if fm.Type != metadata.TypeString {
		return s
	}
	s = strings.TrimRight(s, " ")
	if leading {
		s = strings.TrimLeft(s, " ")
	}
	return s
}

func encodeDelimiter(charsetName, delim string) ([]byte, error) {
	if delim == "" {
		return nil, nil
	}
	enc, err := charset.NewEncoder(charsetName)
	if err != nil {
		return nil, err
	}
	return enc.Encode(delim)
}
