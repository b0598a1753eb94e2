// Package charset resolves character set names to golang.org/x/text encodings
// and provides the per-stream decoder and encoder used by parsers and formatters.
package charset

import (
	"strings"
	"unicode/utf8"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// Default is the charset used when metadata does not name one
const Default = "UTF-8"

// Names accepted in metadata. Keys are upper-cased.
var known = map[string]encoding.Encoding{
	"UTF-8":        unicode.UTF8,
	"UTF8":         unicode.UTF8,
	"US-ASCII":     charmap.ISO8859_1,
	"ASCII":        charmap.ISO8859_1,
	"ISO-8859-1":   charmap.ISO8859_1,
	"ISO-8859-2":   charmap.ISO8859_2,
	"ISO-8859-15":  charmap.ISO8859_15,
	"IBM437":       charmap.CodePage437,
	"CP437":        charmap.CodePage437,
	"IBM850":       charmap.CodePage850,
	"CP850":        charmap.CodePage850,
	"IBM852":       charmap.CodePage852,
	"CP852":        charmap.CodePage852,
	"IBM866":       charmap.CodePage866,
	"CP866":        charmap.CodePage866,
	"WINDOWS-1250": charmap.Windows1250,
	"WINDOWS-1251": charmap.Windows1251,
	"WINDOWS-1252": charmap.Windows1252,
	"WINDOWS-1253": charmap.Windows1253,
	"WINDOWS-1254": charmap.Windows1254,
	"WINDOWS-1255": charmap.Windows1255,
	"WINDOWS-1256": charmap.Windows1256,
}

// Lookup returns the encoding registered for name. Names not in the built-in
// table are resolved through the IANA index. An unknown or unsupported name is
// a configuration error.
func Lookup(name string) (encoding.Encoding, error) {
	if name == "" {
		name = Default
	}
	if enc, ok := known[strings.ToUpper(name)]; ok {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported charset %q", name)
	}
	return enc, nil
}

// IsUTF8 reports whether name denotes UTF-8
func IsUTF8(name string) bool {
	n := strings.ToUpper(name)
	return n == "" || n == "UTF-8" || n == "UTF8"
}

// Decoder turns raw field bytes into strings. One Decoder belongs to one
// parser stream and is not safe for concurrent use.
type Decoder struct {
	name string
	utf8 bool
	dec  *encoding.Decoder
}

// NewDecoder creates a decoder for the named charset
func NewDecoder(name string) (*Decoder, error) {
	enc, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return &Decoder{name: name, utf8: IsUTF8(name), dec: enc.NewDecoder()}, nil
}

// Name returns the charset name the decoder was created for
func (d *Decoder) Name() string { return d.name }

// Decode converts b into a string
func (d *Decoder) Decode(b []byte) (string, error) {
	if d.utf8 && utf8.Valid(b) {
		return string(b), nil
	}
	out, err := d.dec.Bytes(b)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "cannot decode bytes as "+d.name)
	}
	return string(out), nil
}

// Reset clears any state carried between calls
func (d *Decoder) Reset() {
	d.dec.Reset()
}

// Encoder turns strings into bytes of the target charset
type Encoder struct {
	name string
	utf8 bool
	enc  *encoding.Encoder
}

// NewEncoder creates an encoder for the named charset. Characters that do not
// exist in the target charset are replaced rather than failing the record.
func NewEncoder(name string) (*Encoder, error) {
	enc, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return &Encoder{name: name, utf8: IsUTF8(name), enc: encoding.ReplaceUnsupported(enc.NewEncoder())}, nil
}

// Name returns the charset name the encoder was created for
func (e *Encoder) Name() string { return e.name }

// Encode converts s into bytes of the target charset
func (e *Encoder) Encode(s string) ([]byte, error) {
	if e.utf8 {
		return []byte(s), nil
	}
	out, err := e.enc.Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot encode value as "+e.name)
	}
	return out, nil
}
