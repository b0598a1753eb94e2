// Package parser turns byte streams into records and records back into byte
// streams.
//
// A Parser is bound to one metadata with Init and to one input stream at a
// time with SetDataSource. GetNext fills a caller supplied record in place and
// returns (nil, nil) once the stream is exhausted. Field values that cannot be
// converted to their declared type are reported as *BadDataFormatError; when an
// ExceptionHandler is attached the handler's DataPolicy decides whether the
// record aborts the stream, is rejected, or is repaired with field defaults.
//
// Formatters are the mirror image: Init, SetDataTarget, then Write per record,
// with optional header and footer.
//
// Parsers and formatters are owned by a single node and are not safe for
// concurrent use.
package parser

import (
	"io"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/record"
	"go.uber.org/zap"
)

// DefaultMaxFieldLength bounds a single delimited value
const DefaultMaxFieldLength = 64 * 1024

// Parser reads records from a byte stream
type Parser interface {
	// Init binds the parser to a record layout. Invalid layouts fail here.
	Init(meta *metadata.Metadata) error
	// SetDataSource switches to a new input, resetting buffers and counters.
	// name is used for source_name auto-filling and in error messages.
	SetDataSource(r io.Reader, name string) error
	// GetNext populates rec with the next record. It returns (nil, nil) at
	// the end of the stream.
	GetNext(rec *record.Record) (*record.Record, error)
	// Skip advances over up to n raw records without populating fields and
	// returns how many were skipped.
	Skip(n int) (int, error)
	// RecordCount returns the number of raw records consumed from the
	// current source, including skipped and rejected ones.
	RecordCount() int64
	SetExceptionHandler(h *ExceptionHandler)
	Close() error
}

// Formatter writes records to a byte stream
type Formatter interface {
	Init(meta *metadata.Metadata) error
	SetDataTarget(w io.Writer) error
	// Write serializes rec and returns the number of bytes produced
	Write(rec *record.Record) (int, error)
	WriteHeader() (int, error)
	WriteFooter() (int, error)
	Flush() error
	Close() error
}

// Options tunes the text parsers and formatters
type Options struct {
	// MaxFieldLength caps delimited values; longer values are truncated
	MaxFieldLength int
	// Header makes formatters write a line of field names and parsers skip one
	Header bool
	// Format labels metrics; defaults to the record type
	Format string
	Logger *zap.Logger
}

func (o Options) withDefaults(meta *metadata.Metadata) Options {
	if o.MaxFieldLength <= 0 {
		o.MaxFieldLength = DefaultMaxFieldLength
	}
	if o.Format == "" && meta != nil {
		o.Format = string(meta.Type)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// NewParser returns the text parser matching the record type of meta,
// already initialized.
func NewParser(meta *metadata.Metadata, opts Options) (Parser, error) {
	var p Parser
	switch meta.Type {
	case metadata.RecordFixed:
		p = NewFixedLengthParser(opts)
	case metadata.RecordDelimited, metadata.RecordMixed:
		p = NewDelimitedParser(opts)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "no text parser for record type %q", meta.Type)
	}
	if err := p.Init(meta); err != nil {
		return nil, err
	}
	return p, nil
}

// NewFormatter returns the text formatter matching the record type of meta,
// already initialized.
func NewFormatter(meta *metadata.Metadata, opts Options) (Formatter, error) {
	var f Formatter
	switch meta.Type {
	case metadata.RecordFixed:
		f = NewFixedLengthFormatter(opts)
	case metadata.RecordDelimited, metadata.RecordMixed:
		f = NewDelimitedFormatter(opts)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "no text formatter for record type %q", meta.Type)
	}
	if err := f.Init(meta); err != nil {
		return nil, err
	}
	return f, nil
}
