package parser

import (
	"bytes"
	"io"

	"github.com/ajitpratap0/quasar/pkg/charset"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/record"
	"go.uber.org/zap"
)

type fieldEnd int

const (
	endDelimiter fieldEnd = iota
	endRecord
	endEOF
)

// DelimitedParser reads records whose fields end with a delimiter. Mixed
// metadata is supported: fixed fields inside a delimited record are read by
// width.
//
// Blank lines at the very end of the input are ignored. A final line that
// stops before its last field ("A,B\nC") is an incomplete record and is
// reported through the exception handler like any other short record.
type DelimitedParser struct {
	opts      Options
	meta      *metadata.Metadata
	delims    [][]byte
	recDelim  []byte
	lastData  int
	recAfter  bool
	quoted    []bool
	in        inputBuffer
	dec       *charset.Decoder
	handler   *ExceptionHandler
	source    string
	count     int64
	raw       [][]byte
	missing   []bool
	truncated []bool
}

// NewDelimitedParser creates an uninitialized parser
func NewDelimitedParser(opts Options) *DelimitedParser {
	return &DelimitedParser{opts: opts}
}

// Init implements Parser
func (p *DelimitedParser) Init(meta *metadata.Metadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	if meta.Type == metadata.RecordFixed {
		return errors.Newf(errors.ErrorTypeConfig, "metadata %s is fixed, use the fixed-length parser", meta.Name)
	}
	dec, err := charset.NewDecoder(meta.CharsetName())
	if err != nil {
		return err
	}
	n := len(meta.Fields)
	p.delims = make([][]byte, n)
	p.quoted = make([]bool, n)
	p.lastData = -1
	for i := range meta.Fields {
		fm := &meta.Fields[i]
		if fm.AutoFilling != metadata.AutoFillNone {
			continue
		}
		p.lastData = i
		p.quoted[i] = meta.QuotedStrings && fm.Type == metadata.TypeString
		if fm.IsFixed() {
			continue
		}
		if p.delims[i], err = encodeDelimiter(meta.CharsetName(), meta.FieldDelimiter(i)); err != nil {
			return err
		}
	}
	if p.lastData < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "metadata %s has only auto-filled fields", meta.Name)
	}
	if p.recDelim, err = encodeDelimiter(meta.CharsetName(), meta.RecordDelimiter); err != nil {
		return err
	}
	p.recAfter = len(p.recDelim) > 0 && !bytes.Equal(p.delims[p.lastData], p.recDelim)

	p.opts = p.opts.withDefaults(meta)
	p.meta = meta
	p.dec = dec
	p.raw = make([][]byte, n)
	p.missing = make([]bool, n)
	p.truncated = make([]bool, n)
	return nil
}

// SetDataSource implements Parser
func (p *DelimitedParser) SetDataSource(r io.Reader, name string) error {
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
func (p *DelimitedParser) SetExceptionHandler(h *ExceptionHandler) { p.handler = h }

// RecordCount implements Parser
func (p *DelimitedParser) RecordCount() int64 { return p.count }

// GetNext implements Parser
func (p *DelimitedParser) GetNext(rec *record.Record) (*record.Record, error) {
	for {
		ok, err := p.readRecord()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		p.count++
		recNo := p.count

		var firstErr error
		for i := range p.meta.Fields {
			fm := &p.meta.Fields[i]
			if fm.AutoFilling != metadata.AutoFillNone {
				continue
			}
			var err error
			switch {
			case p.missing[i]:
				err = p.report(NewBadDataFormatError(recNo, i, fm.Name, "",
					errors.New(errors.ErrorTypeData, "record is incomplete")))
			default:
				if p.truncated[i] {
					p.opts.Logger.Warn("field value truncated",
						zap.String("source", p.source),
						zap.Int64("record", recNo),
						zap.String("field", fm.Name),
						zap.Int("max_length", p.opts.MaxFieldLength))
					metrics.FieldsTruncated.WithLabelValues(p.opts.Format).Inc()
				}
				var s string
				s, err = p.dec.Decode(p.raw[i])
				if err != nil {
					err = p.report(NewBadDataFormatError(recNo, i, fm.Name, string(p.raw[i]), err))
				} else {
					err = PopulateField(rec, i, s, recNo, p.handler)
				}
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
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
func (p *DelimitedParser) Skip(n int) (int, error) {
	for i := 0; i < n; i++ {
		ok, err := p.readRecord()
		if err != nil {
			return i, err
		}
		if !ok {
			return i, nil
		}
		p.count++
	}
	return n, nil
}

// Close implements Parser. The data source is not closed.
func (p *DelimitedParser) Close() error {
	p.in.release()
	return nil
}

func (p *DelimitedParser) report(bad *BadDataFormatError) error {
	if p.handler == nil {
		return bad
	}
	p.handler.Populate(bad)
	return nil
}

// trailingBlankLines consumes the rest of the stream when it holds nothing
// but line endings. Blank lines followed by data are left for readRecord.
func (p *DelimitedParser) trailingBlankLines() (bool, error) {
	end := p.recDelim
	if len(end) == 0 {
		end = p.delims[p.lastData]
	}
	if len(end) == 0 {
		return false, nil
	}
	for k := 1; ; k++ {
		n, err := p.in.ensure(k*len(end) + 1)
		if err != nil {
			return false, err
		}
		if n < k*len(end) || !bytes.Equal(p.in.peek(k * len(end))[(k-1)*len(end):], end) {
			return false, nil
		}
		if n == k*len(end) {
			p.in.discard(n)
			return true, nil
		}
	}
}

// readRecord scans one raw record into p.raw. It returns false at the end
// of the stream.
func (p *DelimitedParser) readRecord() (bool, error) {
	n, err := p.in.ensure(1)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if done, err := p.trailingBlankLines(); done || err != nil {
		return false, err
	}

	short := false
	for i := range p.meta.Fields {
		fm := &p.meta.Fields[i]
		p.raw[i] = p.raw[i][:0]
		p.missing[i] = false
		p.truncated[i] = false
		if fm.AutoFilling != metadata.AutoFillNone {
			continue
		}
		if short {
			p.missing[i] = true
			continue
		}
		if fm.IsFixed() {
			avail, err := p.in.ensure(fm.Size)
			if err != nil {
				return false, err
			}
			if avail >= fm.Size {
				p.raw[i] = append(p.raw[i], p.in.peek(fm.Size)...)
				p.in.discard(fm.Size)
			} else {
				p.in.discard(avail)
				p.missing[i] = true
				short = true
			}
			continue
		}
		end, err := p.scanField(i)
		if err != nil {
			return false, err
		}
		switch end {
		case endRecord:
			short = i != p.lastData
		case endEOF:
			short = i != p.lastData
		}
	}
	if p.recAfter && !short {
		if err := p.skipPrefix(p.recDelim); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (p *DelimitedParser) scanField(i int) (fieldEnd, error) {
	delim := p.delims[i]
	checkRec := i != p.lastData && len(p.recDelim) > 0 && !bytes.Equal(delim, p.recDelim)

	if p.meta.SkipLeadingBlanks {
		if err := p.skipBlanks(delim); err != nil {
			return endEOF, err
		}
	}
	if p.quoted[i] {
		if b := p.in.peek(1); len(b) == 1 && (b[0] == '"' || b[0] == '\'') {
			p.in.discard(1)
			if err := p.scanQuoted(i, b[0]); err != nil {
				return endEOF, err
			}
		}
	}

	for {
		match, err := p.in.hasPrefix(delim)
		if err != nil {
			return endEOF, err
		}
		if match {
			p.in.discard(len(delim))
			return endDelimiter, nil
		}
		if checkRec {
			if match, err = p.in.hasPrefix(p.recDelim); err != nil {
				return endEOF, err
			}
			if match {
				p.in.discard(len(p.recDelim))
				return endRecord, nil
			}
		}
		c, ok, err := p.in.readByte()
		if err != nil {
			return endEOF, err
		}
		if !ok {
			return endEOF, nil
		}
		if c == '\r' {
			if _, err := p.in.ensure(1); err != nil {
				return endEOF, err
			}
			if next := p.in.peek(1); len(next) == 1 && next[0] == '\n' {
				continue
			}
		}
		p.appendByte(i, c)
	}
}

// scanQuoted reads up to the closing quote q. A doubled quote stands for one
// quote character.
func (p *DelimitedParser) scanQuoted(i int, q byte) error {
	for {
		c, ok, err := p.in.readByte()
		if err != nil || !ok {
			return err
		}
		if c == q {
			if _, err := p.in.ensure(1); err != nil {
				return err
			}
			if next := p.in.peek(1); len(next) == 1 && next[0] == q {
				p.in.discard(1)
				p.appendByte(i, q)
				continue
			}
			return nil
		}
		p.appendByte(i, c)
	}
}

func (p *DelimitedParser) skipBlanks(delim []byte) error {
	for {
		if _, err := p.in.ensure(1); err != nil {
			return err
		}
		b := p.in.peek(1)
		if len(b) == 0 || (b[0] != ' ' && b[0] != '\t') {
			return nil
		}
		if match, err := p.in.hasPrefix(delim); err != nil || match {
			return err
		}
		p.in.discard(1)
	}
}

func (p *DelimitedParser) skipPrefix(delim []byte) error {
	ok, err := p.in.hasPrefix(delim)
	if err != nil {
		return err
	}
	if ok {
		p.in.discard(len(delim))
		return nil
	}
	if delim[0] == '\n' {
		if ok, err = p.in.hasPrefix(crlf); err == nil && ok {
			p.in.discard(len(crlf))
		}
	}
	return err
}

func (p *DelimitedParser) appendByte(i int, c byte) {
	if len(p.raw[i]) >= p.opts.MaxFieldLength {
		p.truncated[i] = true
		return
	}
	p.raw[i] = append(p.raw[i], c)
}
