package components

import (
	"path"
	"strings"

	"github.com/ajitpratap0/quasar/pkg/compression"
	"github.com/ajitpratap0/quasar/pkg/dbf"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/parser"
	"github.com/ajitpratap0/quasar/pkg/seqfile"
)

// Data formats understood by reader and writer
const (
	FormatFixed     = "fixed"
	FormatDelimited = "delimited"
	FormatDBF       = "dbf"
	FormatSeqFile   = "seqfile"
)

// resolveFormat picks the format from the format property, then from the
// file extension behind any compression suffix, then from the record type.
func resolveFormat(props graph.Properties, meta *metadata.Metadata, file string) (string, error) {
	if f := strings.ToLower(props.String("format", "")); f != "" {
		switch f {
		case FormatFixed, FormatDelimited, FormatDBF, FormatSeqFile:
			return f, nil
		}
		return "", errors.Newf(errors.ErrorTypeConfig, "unsupported format %q", f)
	}
	name := file
	if compression.FromExtension(name) != compression.None {
		name = strings.TrimSuffix(name, path.Ext(name))
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".dbf":
		return FormatDBF, nil
	case ".seq":
		return FormatSeqFile, nil
	}
	if meta != nil && meta.Type == metadata.RecordFixed {
		return FormatFixed, nil
	}
	return FormatDelimited, nil
}

func parserOptions(props graph.Properties, format string) (parser.Options, error) {
	maxLen, err := props.Int("max_field_length", 0)
	if err != nil {
		return parser.Options{}, err
	}
	header, err := props.Bool("header", false)
	if err != nil {
		return parser.Options{}, err
	}
	return parser.Options{MaxFieldLength: maxLen, Header: header, Format: format}, nil
}

func newParser(format string, opts parser.Options) parser.Parser {
	switch format {
	case FormatFixed:
		return parser.NewFixedLengthParser(opts)
	case FormatDBF:
		return dbf.NewParser(opts)
	case FormatSeqFile:
		return seqfile.NewParser(opts)
	default:
		return parser.NewDelimitedParser(opts)
	}
}

func newFormatter(format string, opts parser.Options, props graph.Properties) parser.Formatter {
	switch format {
	case FormatFixed:
		return parser.NewFixedLengthFormatter(opts)
	case FormatDBF:
		return dbf.NewFormatter(opts)
	case FormatSeqFile:
		return seqfile.NewFormatter(opts, props.String("codec", ""))
	default:
		return parser.NewDelimitedFormatter(opts)
	}
}

// compressionFor resolves the compression property, "auto" meaning by
// extension.
func compressionFor(props graph.Properties, file string) (compression.Algorithm, error) {
	raw := props.String("compression", "auto")
	alg, err := compression.Parse(raw)
	if err != nil {
		return "", err
	}
	if alg == compression.None && strings.EqualFold(strings.TrimSpace(raw), "auto") {
		return compression.FromExtension(file), nil
	}
	return alg, nil
}
