// Package json wraps goccy/go-json for the encoders used by the lineage
// sinks and the command line tools, and converts records to JSON objects.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/record"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// NewEncoder returns an encoder that does not escape HTML
func NewEncoder(w io.Writer) *gojson.Encoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// Marshal is a drop-in replacement for encoding/json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalIndent is a drop-in replacement for encoding/json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// RecordObject maps field names to typed values. Null fields map to nil.
func RecordObject(rec *record.Record) map[string]interface{} {
	obj := make(map[string]interface{}, rec.NumFields())
	for i := 0; i < rec.NumFields(); i++ {
		f := rec.Field(i)
		obj[f.Name()] = f.Value()
	}
	return obj
}

// MarshalRecord encodes rec as a JSON object
func MarshalRecord(rec *record.Record) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if err := NewEncoder(buf).Encode(RecordObject(rec)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode record")
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return append([]byte(nil), out...), nil
}

// StreamingEncoder writes values either as JSON lines or as one array
type StreamingEncoder struct {
	w       io.Writer
	enc     *gojson.Encoder
	isArray bool
	first   bool
	err     error
}

// NewStreamingEncoder starts a stream on w. An array stream writes its
// opening bracket immediately.
func NewStreamingEncoder(w io.Writer, isArray bool) *StreamingEncoder {
	se := &StreamingEncoder{w: w, enc: NewEncoder(w), isArray: isArray, first: true}
	if isArray {
		se.write([]byte{'['})
	}
	return se
}

func (se *StreamingEncoder) write(b []byte) {
	if se.err != nil {
		return
	}
	_, se.err = se.w.Write(b)
}

// Encode appends v to the stream
func (se *StreamingEncoder) Encode(v interface{}) error {
	if se.isArray && !se.first {
		se.write([]byte{','})
	}
	se.first = false
	if se.err != nil {
		return se.err
	}
	if err := se.enc.Encode(v); err != nil {
		se.err = err
	}
	return se.err
}

// EncodeRecord appends rec as an object
func (se *StreamingEncoder) EncodeRecord(rec *record.Record) error {
	return se.Encode(RecordObject(rec))
}

// Close ends an array stream and reports the first write error
func (se *StreamingEncoder) Close() error {
	if se.isArray {
		se.write([]byte{']', '\n'})
	}
	if se.err != nil {
		return errors.Wrap(se.err, errors.ErrorTypeIO, "json stream failed")
	}
	return nil
}
