package dbf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/quasar/pkg/charset"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/parser"
	"github.com/ajitpratap0/quasar/pkg/record"
	"go.uber.org/zap"
)

// column binds a metadata field to a DBF field
type column struct {
	field int
	desc  FieldDescriptor
}

// Parser reads the rows of a table. It implements parser.Parser.
//
// Init may be given nil metadata; the layout is then derived from the field
// directory when the data source is set and is available from Metadata.
type Parser struct {
	opts           parser.Options
	meta           *metadata.Metadata
	derived        bool
	header         *Header
	cols           []column
	in             *bufio.Reader
	row            []byte
	dec            *charset.Decoder
	memo           MemoReader
	handler        *parser.ExceptionHandler
	includeDeleted bool
	source         string
	count          int64
	done           bool
}

var _ parser.Parser = (*Parser)(nil)

// NewParser creates an uninitialized parser
func NewParser(opts parser.Options) *Parser {
	return &Parser{opts: opts}
}

// SetMemoReader attaches the memo file of the table
func (p *Parser) SetMemoReader(m MemoReader) { p.memo = m }

// IncludeDeleted makes GetNext deliver rows flagged as deleted
func (p *Parser) IncludeDeleted(v bool) { p.includeDeleted = v }

// Header returns the header of the current source
func (p *Parser) Header() *Header { return p.header }

// Metadata returns the layout records are populated with
func (p *Parser) Metadata() *metadata.Metadata { return p.meta }

// Init implements parser.Parser
func (p *Parser) Init(meta *metadata.Metadata) error {
	if meta == nil {
		p.derived = true
		p.opts.Format = "dbf"
		p.opts = withDefaults(p.opts)
		return nil
	}
	if err := meta.Validate(); err != nil {
		return err
	}
	p.meta = meta
	p.opts.Format = "dbf"
	p.opts = withDefaults(p.opts)
	return nil
}

func withDefaults(o parser.Options) parser.Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// SetDataSource implements parser.Parser. The header and field directory are
// read here, so layout mismatches and unsupported field types fail before the
// first row.
func (p *Parser) SetDataSource(r io.Reader, name string) error {
	if p.meta == nil && !p.derived {
		return errors.New(errors.ErrorTypeContract, "parser used before Init")
	}
	if p.in == nil {
		p.in = bufio.NewReaderSize(r, 64*1024)
	} else {
		p.in.Reset(r)
	}
	h, err := ReadHeader(p.in)
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "dbf source "+name)
	}
	p.header = h
	p.source = name
	p.count = 0
	p.done = false

	info := newTableInfo(h)
	if p.derived {
		p.meta = info.Metadata(TableName(name))
		if err := p.meta.Validate(); err != nil {
			return err
		}
	}
	if err := p.bind(); err != nil {
		return err
	}

	cs := info.Charset
	if h.CodePage == 0 && p.meta.Charset != "" {
		cs = p.meta.Charset
	}
	if p.dec, err = charset.NewDecoder(cs); err != nil {
		return err
	}
	if cap(p.row) < h.RowSize {
		p.row = make([]byte, h.RowSize)
	}
	p.row = p.row[:h.RowSize]
	p.opts.Logger.Debug("dbf table opened",
		zap.String("source", name),
		zap.String("type", TypeName(h.Type)),
		zap.Uint32("rows", h.Rows),
		zap.Int("fields", len(h.Fields)),
		zap.String("charset", cs))
	return nil
}

// TableName derives a record metadata name from a file path: the lower
// cased base name up to its first dot.
func TableName(source string) string {
	if i := strings.LastIndexAny(source, "/\\"); i >= 0 {
		source = source[i+1:]
	}
	if i := strings.IndexByte(source, '.'); i > 0 {
		source = source[:i]
	}
	if source == "" {
		return "dbf"
	}
	return strings.ToLower(source)
}

// bind maps the non auto-filled metadata fields, in order, onto the directory
func (p *Parser) bind() error {
	p.cols = p.cols[:0]
	for i := range p.meta.Fields {
		if p.meta.Fields[i].AutoFilling == metadata.AutoFillNone {
			p.cols = append(p.cols, column{field: i})
		}
	}
	if len(p.cols) != len(p.header.Fields) {
		return errors.Newf(errors.ErrorTypeConfig, "metadata %s has %d fields, dbf table has %d",
			p.meta.Name, len(p.cols), len(p.header.Fields))
	}
	for i := range p.cols {
		d := p.header.Fields[i]
		fm := p.meta.Field(p.cols[i].field)
		if !compatible(d, fm.Type) {
			return errors.Newf(errors.ErrorTypeConfig, "metadata %s, field %s: type %s cannot hold dbf field %s",
				p.meta.Name, fm.Name, fm.Type, d).
				WithDetail("field", fm.Name)
		}
		p.cols[i].desc = d
	}
	return nil
}

// SetExceptionHandler implements parser.Parser
func (p *Parser) SetExceptionHandler(h *parser.ExceptionHandler) { p.handler = h }

// RecordCount implements parser.Parser
func (p *Parser) RecordCount() int64 { return p.count }

// readRow reads the next raw row. It returns n == 0 at the end of the table
// and n < row size for a truncated last row.
func (p *Parser) readRow() (int, error) {
	if p.done || (p.header.Rows > 0 && p.count >= int64(p.header.Rows)) {
		return 0, nil
	}
	n, err := io.ReadFull(p.in, p.row)
	switch {
	case err == io.EOF:
		p.done = true
		return 0, nil
	case err == io.ErrUnexpectedEOF:
		p.done = true
		if n == 1 && p.row[0] == EOFMarker {
			return 0, nil
		}
	case err != nil:
		return 0, errors.Wrap(err, errors.ErrorTypeIO, "cannot read dbf row")
	}
	if p.row[0] == EOFMarker && n < len(p.row) {
		return 0, nil
	}
	p.count++
	return n, nil
}

// GetNext implements parser.Parser
func (p *Parser) GetNext(rec *record.Record) (*record.Record, error) {
	if p.header == nil {
		return nil, errors.New(errors.ErrorTypeContract, "parser has no data source")
	}
	for {
		n, err := p.readRow()
		if err != nil || n == 0 {
			return nil, err
		}
		if p.row[0] == RowDeleted && !p.includeDeleted {
			continue
		}
		if p.row[0] == EOFMarker {
			return nil, nil
		}
		recNo := p.count

		var firstErr error
		for _, c := range p.cols {
			d := c.desc
			var err error
			if d.Offset+d.Length > n {
				err = p.report(parser.NewBadDataFormatError(recNo, c.field, d.Name, "",
					errors.New(errors.ErrorTypeData, "record is incomplete")))
			} else {
				err = p.populate(rec, c, p.row[d.Offset:d.Offset+d.Length], recNo)
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := parser.AutoFill(rec, recNo, p.source); err != nil {
			return nil, err
		}
		if firstErr != nil {
			metrics.RecordsParsed.WithLabelValues(p.opts.Format, metrics.StatusFailed).Inc()
			return nil, firstErr
		}
		keep, err := parser.FinishRecord(rec, p.handler, p.opts.Format)
		if err != nil {
			return nil, err
		}
		if keep {
			return rec, nil
		}
	}
}

func (p *Parser) populate(rec *record.Record, c column, raw []byte, recNo int64) error {
	f := rec.Field(c.field)
	d := c.desc
	switch d.Type {
	case FieldChar:
		s, err := p.dec.Decode(bytes.TrimRight(raw, " \x00"))
		if err != nil {
			return p.report(parser.NewBadDataFormatError(recNo, c.field, d.Name, string(raw), err))
		}
		return parser.PopulateField(rec, c.field, s, recNo, p.handler)

	case FieldDate:
		s := strings.TrimSpace(string(raw))
		if s == "" || strings.Trim(s, "0") == "" {
			return parser.PopulateField(rec, c.field, "", recNo, p.handler)
		}
		if f.Metadata().Type != metadata.TypeDate {
			return parser.PopulateField(rec, c.field, s, recNo, p.handler)
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return p.report(parser.NewBadDataFormatError(recNo, c.field, d.Name, s, err))
		}
		return f.SetValue(t)

	case FieldLogical:
		var s string
		switch raw[0] {
		case 'T', 't', 'Y', 'y':
			s = "true"
		case 'F', 'f', 'N', 'n':
			s = "false"
		case '?', ' ':
		default:
			s = string(raw[:1])
		}
		return parser.PopulateField(rec, c.field, s, recNo, p.handler)

	case FieldInteger:
		v := int32(binary.LittleEndian.Uint32(raw))
		return parser.PopulateField(rec, c.field, strconv.FormatInt(int64(v), 10), recNo, p.handler)

	case FieldMemo:
		return p.populateMemo(rec, c, raw, recNo)
	}
	return parser.PopulateField(rec, c.field, strings.TrimSpace(string(raw)), recNo, p.handler)
}

func (p *Parser) populateMemo(rec *record.Record, c column, raw []byte, recNo int64) error {
	var (
		block  uint32
		status BlockStatus
	)
	if len(raw) == 4 {
		block, status = parseBinaryBlockNumber(raw)
	} else {
		block, status = ParseBlockNumber(raw)
	}
	switch status {
	case BlockBlank:
		return parser.PopulateField(rec, c.field, "", recNo, p.handler)
	case BlockInvalid:
		return p.report(parser.NewBadDataFormatError(recNo, c.field, c.desc.Name, string(raw),
			errors.New(errors.ErrorTypeData, "invalid memo block number")))
	}
	if p.memo == nil {
		return errors.Newf(errors.ErrorTypeConfig, "dbf field %s refers to memo block %d but no memo file is attached", c.desc.Name, block)
	}
	data, err := p.memo.ReadBlock(block)
	if err != nil {
		if errors.HasType(err, errors.ErrorTypeData) {
			return p.report(parser.NewBadDataFormatError(recNo, c.field, c.desc.Name, string(raw), err))
		}
		return err
	}
	data = bytes.TrimRight(data, "\x00\x1a")
	f := rec.Field(c.field)
	if f.Metadata().Type == metadata.TypeByte {
		return f.SetValue(data)
	}
	s, err := p.dec.Decode(data)
	if err != nil {
		return p.report(parser.NewBadDataFormatError(recNo, c.field, c.desc.Name, "", err))
	}
	return parser.PopulateField(rec, c.field, s, recNo, p.handler)
}

func (p *Parser) report(bad *parser.BadDataFormatError) error {
	if p.handler == nil {
		return bad
	}
	p.handler.Populate(bad)
	return nil
}

// Skip implements parser.Parser. Deleted rows are passed over without
// counting toward n unless they are delivered.
func (p *Parser) Skip(n int) (int, error) {
	if p.header == nil {
		return 0, errors.New(errors.ErrorTypeContract, "parser has no data source")
	}
	skipped := 0
	for skipped < n {
		read, err := p.readRow()
		if err != nil || read == 0 {
			return skipped, err
		}
		if p.row[0] == RowDeleted && !p.includeDeleted {
			continue
		}
		skipped++
	}
	return skipped, nil
}

// Close implements parser.Parser. Neither the data source nor the memo file
// is closed.
func (p *Parser) Close() error {
	p.header = nil
	return nil
}
