// Package metadata describes the layout of records flowing through a graph:
// field names, types, fixed sizes or delimiters, nullability and auto-filling.
//
// A Metadata value is immutable once validated and may be shared by any number
// of parsers, formatters and records.
package metadata

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/quasar/pkg/charset"
	"github.com/ajitpratap0/quasar/pkg/errors"
)

// FieldType is the declared type of a field value
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeLong    FieldType = "long"
	TypeNumber  FieldType = "number"
	TypeDecimal FieldType = "decimal"
	TypeDate    FieldType = "date"
	TypeByte    FieldType = "byte"
	TypeBoolean FieldType = "boolean"
)

// Valid reports whether t is a known field type
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeLong, TypeNumber, TypeDecimal, TypeDate, TypeByte, TypeBoolean:
		return true
	}
	return false
}

// IsNumeric reports whether values of t are right-justified in fixed layouts
func (t FieldType) IsNumeric() bool {
	switch t {
	case TypeInteger, TypeLong, TypeNumber, TypeDecimal:
		return true
	}
	return false
}

// RecordType selects how a record is laid out in a byte stream
type RecordType string

const (
	// RecordFixed records consist of fixed-width fields only
	RecordFixed RecordType = "fixed"
	// RecordDelimited records consist of delimiter-terminated fields only
	RecordDelimited RecordType = "delimited"
	// RecordMixed records combine both kinds of field
	RecordMixed RecordType = "mixed"
)

// AutoFill names a value the parser fills in instead of reading it from input
type AutoFill string

const (
	AutoFillNone         AutoFill = ""
	AutoFillRecordNumber AutoFill = "record_number"
	AutoFillSourceName   AutoFill = "source_name"
	AutoFillRowTimestamp AutoFill = "row_timestamp"
)

// DefaultDateFormat is the Go layout used for date fields without a format
const DefaultDateFormat = "2006-01-02"

// FieldMetadata describes one field
type FieldMetadata struct {
	Name        string    `yaml:"name" json:"name"`
	Type        FieldType `yaml:"type" json:"type"`
	Size        int       `yaml:"size,omitempty" json:"size,omitempty"`
	Delimiter   string    `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	Nullable    bool      `yaml:"nullable" json:"nullable"`
	Trim        bool      `yaml:"trim,omitempty" json:"trim,omitempty"`
	AutoFilling AutoFill  `yaml:"auto_filling,omitempty" json:"auto_filling,omitempty"`
	Format      string    `yaml:"format,omitempty" json:"format,omitempty"`
	Default     string    `yaml:"default,omitempty" json:"default,omitempty"`
	Scale       int       `yaml:"scale,omitempty" json:"scale,omitempty"`
}

// IsFixed reports whether the field is read by width rather than by delimiter
func (f *FieldMetadata) IsFixed() bool {
	return f.Size > 0 && f.Delimiter == ""
}

// DateLayout returns the Go time layout for date fields
func (f *FieldMetadata) DateLayout() string {
	if f.Format != "" {
		return f.Format
	}
	return DefaultDateFormat
}

// Metadata describes a record
type Metadata struct {
	Name              string          `yaml:"name" json:"name"`
	Type              RecordType      `yaml:"type" json:"type"`
	Fields            []FieldMetadata `yaml:"fields" json:"fields"`
	RecordDelimiter   string          `yaml:"record_delimiter,omitempty" json:"record_delimiter,omitempty"`
	Charset           string          `yaml:"charset,omitempty" json:"charset,omitempty"`
	RecordSize        int             `yaml:"record_size,omitempty" json:"record_size,omitempty"`
	SkipLeadingBlanks bool            `yaml:"skip_leading_blanks,omitempty" json:"skip_leading_blanks,omitempty"`
	QuotedStrings     bool            `yaml:"quoted_strings,omitempty" json:"quoted_strings,omitempty"`
}

// NumFields returns the number of fields
func (m *Metadata) NumFields() int {
	return len(m.Fields)
}

// Field returns the i-th field description
func (m *Metadata) Field(i int) *FieldMetadata {
	return &m.Fields[i]
}

// FieldIndex returns the position of the named field or -1
func (m *Metadata) FieldIndex(name string) int {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// CharsetName returns the declared charset or the default one
func (m *Metadata) CharsetName() string {
	if m.Charset == "" {
		return charset.Default
	}
	return m.Charset
}

// Offsets returns the start offset of every fixed field within a row.
// Delimited fields get -1.
func (m *Metadata) Offsets() []int {
	offsets := make([]int, len(m.Fields))
	pos := 0
	for i := range m.Fields {
		if m.Fields[i].IsFixed() {
			offsets[i] = pos
			pos += m.Fields[i].Size
		} else {
			offsets[i] = -1
		}
	}
	return offsets
}

// RowSize returns the sum of fixed field widths
func (m *Metadata) RowSize() int {
	size := 0
	for i := range m.Fields {
		if m.Fields[i].IsFixed() {
			size += m.Fields[i].Size
		}
	}
	return size
}

// FieldDelimiter returns the effective delimiter of the i-th field. The last
// delimited field falls back to the record delimiter.
func (m *Metadata) FieldDelimiter(i int) string {
	f := &m.Fields[i]
	if f.Delimiter != "" {
		return f.Delimiter
	}
	if i == len(m.Fields)-1 && !f.IsFixed() {
		return m.RecordDelimiter
	}
	return ""
}

// Validate checks the metadata for configuration errors
func (m *Metadata) Validate() error {
	if m.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "metadata name is required")
	}
	if len(m.Fields) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "metadata %s has no fields", m.Name)
	}
	switch m.Type {
	case RecordFixed, RecordDelimited, RecordMixed:
	case "":
		m.Type = m.inferType()
	default:
		return errors.Newf(errors.ErrorTypeConfig, "metadata %s: unknown record type %q", m.Name, m.Type)
	}
	if _, err := charset.Lookup(m.CharsetName()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "metadata "+m.Name)
	}

	seen := make(map[string]bool, len(m.Fields))
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Name == "" {
			return errors.Newf(errors.ErrorTypeConfig, "metadata %s: field %d has no name", m.Name, i)
		}
		if seen[f.Name] {
			return errors.Newf(errors.ErrorTypeConfig, "metadata %s: duplicate field %s", m.Name, f.Name)
		}
		seen[f.Name] = true
		if f.Type == "" {
			f.Type = TypeString
		}
		if !f.Type.Valid() {
			return m.fieldError(f, fmt.Sprintf("unsupported type %q", f.Type))
		}
		if f.AutoFilling != AutoFillNone {
			continue
		}
		if err := m.validateLayout(i, f); err != nil {
			return err
		}
	}

	if m.Type == RecordFixed {
		rowSize := m.RowSize()
		if m.RecordSize != 0 && m.RecordSize != rowSize {
			return errors.Newf(errors.ErrorTypeConfig,
				"metadata %s: record size %d does not match sum of field sizes %d", m.Name, m.RecordSize, rowSize)
		}
		m.RecordSize = rowSize
	}
	return nil
}

func (m *Metadata) validateLayout(i int, f *FieldMetadata) error {
	switch m.Type {
	case RecordFixed:
		if f.Size <= 0 {
			return m.fieldError(f, "fixed field size must be positive")
		}
		if f.Delimiter != "" {
			return m.fieldError(f, "fixed field cannot declare a delimiter")
		}
	case RecordDelimited, RecordMixed:
		if m.Type == RecordMixed && f.IsFixed() {
			return nil
		}
		delim := m.FieldDelimiter(i)
		if delim == "" {
			return m.fieldError(f, "delimited field has no delimiter")
		}
		if delim == "\r" {
			return m.fieldError(f, "carriage return cannot be used as a delimiter")
		}
		if f.Size < 0 {
			return m.fieldError(f, "field size cannot be negative")
		}
		// A field delimiter that starts the record delimiter would end the
		// field in the middle of the row terminator.
		if i < len(m.Fields)-1 && m.RecordDelimiter != "" && delim != m.RecordDelimiter &&
			strings.HasPrefix(m.RecordDelimiter, delim) {
			return m.fieldError(f, fmt.Sprintf("delimiter %q is ambiguous with record delimiter %q", delim, m.RecordDelimiter))
		}
	}
	return nil
}

func (m *Metadata) inferType() RecordType {
	fixed, delimited := 0, 0
	for i := range m.Fields {
		if m.Fields[i].IsFixed() {
			fixed++
		} else {
			delimited++
		}
	}
	switch {
	case delimited == 0:
		return RecordFixed
	case fixed == 0:
		return RecordDelimited
	default:
		return RecordMixed
	}
}

func (m *Metadata) fieldError(f *FieldMetadata, msg string) error {
	return errors.Newf(errors.ErrorTypeConfig, "metadata %s, field %s: %s", m.Name, f.Name, msg).
		WithDetail("metadata", m.Name).
		WithDetail("field", f.Name)
}

// Clone returns a deep copy
func (m *Metadata) Clone() *Metadata {
	c := *m
	c.Fields = make([]FieldMetadata, len(m.Fields))
	copy(c.Fields, m.Fields)
	return &c
}
