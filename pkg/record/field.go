package record

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/shopspring/decimal"
)

// Field holds one typed value of a record. The Go type of the value is fixed
// by the field metadata:
//
//	string  -> string       integer -> int32      long    -> int64
//	number  -> float64      decimal -> decimal.Decimal
//	date    -> time.Time    byte    -> []byte     boolean -> bool
type Field struct {
	meta  *metadata.FieldMetadata
	value interface{}
	null  bool
}

func newField(meta *metadata.FieldMetadata) Field {
	return Field{meta: meta, null: true}
}

// Metadata returns the field description
func (f *Field) Metadata() *metadata.FieldMetadata { return f.meta }

// Name returns the field name
func (f *Field) Name() string { return f.meta.Name }

// IsNull reports whether the field holds no value
func (f *Field) IsNull() bool { return f.null }

// Value returns the typed value, nil when null
func (f *Field) Value() interface{} {
	if f.null {
		return nil
	}
	return f.value
}

// SetNull clears the value
func (f *Field) SetNull() {
	f.value = nil
	f.null = true
}

// Reset is SetNull; it exists so that records can reset fields uniformly
func (f *Field) Reset() { f.SetNull() }

// SetValue stores v after checking it against the declared type. A nil v
// makes the field null. Storing a value of the wrong Go type is a contract
// violation of the calling component.
func (f *Field) SetValue(v interface{}) error {
	if v == nil {
		f.SetNull()
		return nil
	}
	ok := false
	switch f.meta.Type {
	case metadata.TypeString:
		_, ok = v.(string)
	case metadata.TypeInteger:
		switch n := v.(type) {
		case int32:
			ok = true
		case int:
			v, ok = int32(n), int(int32(n)) == n
		}
	case metadata.TypeLong:
		switch n := v.(type) {
		case int64:
			ok = true
		case int:
			v, ok = int64(n), true
		}
	case metadata.TypeNumber:
		_, ok = v.(float64)
	case metadata.TypeDecimal:
		_, ok = v.(decimal.Decimal)
	case metadata.TypeDate:
		_, ok = v.(time.Time)
	case metadata.TypeByte:
		var b []byte
		b, ok = v.([]byte)
		if ok {
			v = append([]byte(nil), b...)
		}
	case metadata.TypeBoolean:
		_, ok = v.(bool)
	}
	if !ok {
		return errors.Newf(errors.ErrorTypeContract, "field %s of type %s cannot hold %T", f.meta.Name, f.meta.Type, v)
	}
	f.value = v
	f.null = false
	return nil
}

// FromString parses s into the declared type. Numeric, date and boolean text
// is trimmed before parsing; string values are trimmed only when the field
// asks for it. An empty value becomes null for nullable fields.
func (f *Field) FromString(s string) error {
	t := f.meta.Type
	if t != metadata.TypeString && t != metadata.TypeByte || f.meta.Trim {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		if f.meta.Nullable {
			f.SetNull()
			return nil
		}
		switch t {
		case metadata.TypeString:
			f.value, f.null = "", false
			return nil
		case metadata.TypeByte:
			f.value, f.null = []byte{}, false
			return nil
		}
		return errors.Newf(errors.ErrorTypeData, "field %s is not nullable", f.meta.Name)
	}

	var (
		v   interface{}
		err error
	)
	switch t {
	case metadata.TypeString:
		v = s
	case metadata.TypeInteger:
		var n int64
		n, err = strconv.ParseInt(s, 10, 32)
		v = int32(n)
	case metadata.TypeLong:
		v, err = strconv.ParseInt(s, 10, 64)
	case metadata.TypeNumber:
		v, err = strconv.ParseFloat(s, 64)
	case metadata.TypeDecimal:
		v, err = decimal.NewFromString(s)
	case metadata.TypeDate:
		v, err = time.Parse(f.meta.DateLayout(), s)
	case metadata.TypeByte:
		v = []byte(s)
	case metadata.TypeBoolean:
		v, err = parseBool(s)
	default:
		err = fmt.Errorf("unsupported type %s", t)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData,
			fmt.Sprintf("cannot parse %q as %s for field %s", s, t, f.meta.Name))
	}
	f.value = v
	f.null = false
	return nil
}

// SetDefault assigns the declared default value, null when there is none and
// the field is nullable, and the zero value of the type otherwise.
func (f *Field) SetDefault() error {
	if f.meta.Default != "" {
		return f.FromString(f.meta.Default)
	}
	if f.meta.Nullable {
		f.SetNull()
		return nil
	}
	return f.SetValue(zeroValue(f.meta.Type))
}

// String formats the value the way FromString reads it back. Null is "".
func (f *Field) String() string {
	if f.null {
		return ""
	}
	switch v := f.value.(type) {
	case string:
		return v
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case decimal.Decimal:
		if f.meta.Scale > 0 {
			return v.StringFixed(int32(f.meta.Scale))
		}
		return v.String()
	case time.Time:
		return v.Format(f.meta.DateLayout())
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	}
	return fmt.Sprint(f.value)
}

// Equal compares two fields by value
func (f *Field) Equal(o *Field) bool {
	if f.null || o.null {
		return f.null == o.null
	}
	switch v := f.value.(type) {
	case []byte:
		ob, ok := o.value.([]byte)
		return ok && bytes.Equal(v, ob)
	case decimal.Decimal:
		od, ok := o.value.(decimal.Decimal)
		return ok && v.Equal(od)
	case time.Time:
		ot, ok := o.value.(time.Time)
		return ok && v.Equal(ot)
	}
	return f.value == o.value
}

func (f *Field) copyFrom(o *Field) {
	f.null = o.null
	if b, ok := o.value.([]byte); ok {
		f.value = append([]byte(nil), b...)
		return
	}
	f.value = o.value
}

func zeroValue(t metadata.FieldType) interface{} {
	switch t {
	case metadata.TypeString:
		return ""
	case metadata.TypeInteger:
		return int32(0)
	case metadata.TypeLong:
		return int64(0)
	case metadata.TypeNumber:
		return float64(0)
	case metadata.TypeDecimal:
		return decimal.Zero
	case metadata.TypeDate:
		return time.Time{}
	case metadata.TypeByte:
		return []byte{}
	case metadata.TypeBoolean:
		return false
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
