package dbf

import (
	"strings"

	"github.com/ajitpratap0/quasar/pkg/errors"
)

// DefaultCharset is used for tables without a code page mark
const DefaultCharset = "US-ASCII"

// codePages maps the language driver byte at header offset 29 to a charset
var codePages = map[byte]string{
	0x00: DefaultCharset,
	0x01: "IBM437",
	0x02: "IBM850",
	0x03: "windows-1252",
	0x64: "IBM852",
	0x65: "IBM866",
	0x7D: "windows-1255",
	0x7E: "windows-1256",
	0xC8: "windows-1250",
	0xC9: "windows-1251",
	0xCA: "windows-1254",
	0xCB: "windows-1253",
}

// CharsetForCodePage returns the charset of a code page byte. Unknown code
// pages fall back to DefaultCharset.
func CharsetForCodePage(cp byte) string {
	if name, ok := codePages[cp]; ok {
		return name
	}
	return DefaultCharset
}

// CodePageForCharset returns the code page byte for a charset name. An empty
// name selects code page 0. Charsets without a code page are a configuration
// error.
func CodePageForCharset(name string) (byte, error) {
	if name == "" || strings.EqualFold(name, DefaultCharset) || strings.EqualFold(name, "ASCII") {
		return 0x00, nil
	}
	for cp, cs := range codePages {
		if strings.EqualFold(cs, name) {
			return cp, nil
		}
	}
	// CP-prefixed aliases of the IBM code pages
	if strings.HasPrefix(strings.ToUpper(name), "CP") {
		return CodePageForCharset("IBM" + name[2:])
	}
	return 0, errors.Newf(errors.ErrorTypeConfig, "charset %s has no dbf code page", name)
}
