package json

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/record"
)

func person(t *testing.T, name, qty string) *record.Record {
	t.Helper()
	m := &metadata.Metadata{
		Name:            "person",
		Type:            metadata.RecordDelimited,
		RecordDelimiter: "\n",
		Fields: []metadata.FieldMetadata{
			{Name: "name", Type: metadata.TypeString, Delimiter: ",", Nullable: true},
			{Name: "qty", Type: metadata.TypeLong, Delimiter: ",", Nullable: true},
		},
	}
	require.NoError(t, m.Validate())
	r := record.New(m)
	if name != "" {
		require.NoError(t, r.Field(0).FromString(name))
	}
	if qty != "" {
		require.NoError(t, r.Field(1).FromString(qty))
	}
	return r
}

func TestMarshalRecord(t *testing.T) {
	data, err := MarshalRecord(person(t, "<a&b>", "7"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"<a&b>","qty":7}`, string(data))
	assert.True(t, strings.Contains(string(data), "<a&b>"), "html must not be escaped")

	data, err = MarshalRecord(person(t, "", ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":null,"qty":null}`, string(data))
}

func TestStreamingEncoderLines(t *testing.T) {
	var buf bytes.Buffer
	se := NewStreamingEncoder(&buf, false)
	require.NoError(t, se.EncodeRecord(person(t, "a", "1")))
	require.NoError(t, se.EncodeRecord(person(t, "b", "2")))
	require.NoError(t, se.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"name":"a","qty":1}`, lines[0])
	assert.JSONEq(t, `{"name":"b","qty":2}`, lines[1])
}

func TestStreamingEncoderArray(t *testing.T) {
	var buf bytes.Buffer
	se := NewStreamingEncoder(&buf, true)
	require.NoError(t, se.Encode(map[string]int{"a": 1}))
	require.NoError(t, se.Encode(map[string]int{"b": 2}))
	require.NoError(t, se.Close())

	var out []map[string]int
	require.NoError(t, Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, []map[string]int{{"a": 1}, {"b": 2}}, out)
}

func TestStreamingEncoderEmptyArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewStreamingEncoder(&buf, true).Close())
	assert.Equal(t, "[]\n", buf.String())
}
