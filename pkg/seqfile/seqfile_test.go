package seqfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/metadata"
	"github.com/ajitpratap0/quasar/pkg/parser"
	"github.com/ajitpratap0/quasar/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestVLong(t *testing.T) {
	tests := []struct {
		v    int64
		size int
	}{
		{0, 1}, {127, 1}, {-112, 1}, {128, 2}, {-113, 2}, {255, 2}, {256, 3},
		{-1000, 3}, {1 << 40, 7}, {math.MaxInt64, 9}, {math.MinInt64, 9},
	}
	for _, tt := range tests {
		b := appendVLong(nil, tt.v)
		assert.Len(t, b, tt.size, "%d", tt.v)
		got, err := readVLong(bytes.NewReader(b))
		require.NoError(t, err)
		assert.Equal(t, tt.v, got)
	}
}

func text(s string) []byte {
	b, _ := AppendWritable(nil, ClassText, s)
	return b
}

func TestReaderWriterRoundTrip(t *testing.T) {
	for _, codec := range []string{"", CodecDefault, CodecGzip, CodecSnappy, CodecLz4, CodecZstd} {
		t.Run("codec="+codec, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, WriterOptions{
				KeyClass:   ClassText,
				ValueClass: ClassText,
				Codec:      codec,
				Metadata:   []MetaEntry{{Key: "origin", Value: "test"}},
			})
			require.NoError(t, err)
			for i := 0; i < 300; i++ {
				require.NoError(t, w.Append(text(fmt.Sprintf("k%03d", i)), text(fmt.Sprintf("value number %d", i))))
			}
			require.NoError(t, w.Flush())
			if codec == "" {
				assert.Greater(t, bytes.Count(buf.Bytes(), w.Header().Sync[:]), 3)
			}

			r, err := NewReader(&buf)
			require.NoError(t, err)
			assert.Equal(t, w.Header().Sync, r.Header().Sync)
			assert.Equal(t, []MetaEntry{{Key: "origin", Value: "test"}}, r.Header().Metadata)
			assert.Equal(t, codec != "", r.Header().Compressed)

			n := 0
			for {
				k, v, err := r.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				key, err := DecodeWritable(ClassText, k)
				require.NoError(t, err)
				value, err := DecodeWritable(ClassText, v)
				require.NoError(t, err)
				assert.Equal(t, fmt.Sprintf("k%03d", n), key)
				assert.Equal(t, fmt.Sprintf("value number %d", n), value)
				n++
			}
			assert.Equal(t, 300, n)
			assert.EqualValues(t, 300, r.Count())
		})
	}
}

func TestBlockCompressedUnsupported(t *testing.T) {
	b := append([]byte("SEQ"), Version)
	b = appendText(b, ClassText)
	b = appendText(b, ClassText)
	b = append(b, 1, 1)
	b = appendText(b, CodecDefault)
	b = append(b, 0, 0, 0, 0)
	b = append(b, make([]byte, syncSize)...)

	_, err := NewReader(bytes.NewReader(b))
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
}

func TestUnknownCodec(t *testing.T) {
	_, err := NewWriter(io.Discard, WriterOptions{KeyClass: ClassText, ValueClass: ClassText,
		Codec: "org.apache.hadoop.io.compress.BZip2Codec"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
}

func TestNotASequenceFile(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("PK\x03\x04 not it")))
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestCorruptSync(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, WriterOptions{KeyClass: ClassText, ValueClass: ClassText})
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		require.NoError(t, w.Append(text("key"), text("some value that takes room")))
	}
	require.NoError(t, w.Flush())

	raw := buf.Bytes()
	sync := w.Header().Sync[:]
	first := bytes.Index(raw, sync)
	second := bytes.Index(raw[first+syncSize:], sync) + first + syncSize
	raw[second] ^= 0xFF

	r, err := NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	for {
		_, _, err = r.Next()
		if err != nil {
			break
		}
	}
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestOversizedRecordLength(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, WriterOptions{KeyClass: ClassText, ValueClass: ClassText})
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	raw := binary.BigEndian.AppendUint32(buf.Bytes(), uint32(MaxRecordSize+1))
	raw = binary.BigEndian.AppendUint32(raw, 4)
	r, err := NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	_, _, err = r.Next()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Contains(t, err.Error(), "exceeds limit")
}

func kvMeta(key, value metadata.FieldType) *metadata.Metadata {
	return &metadata.Metadata{
		Name: "kv",
		Type: metadata.RecordDelimited,
		Fields: []metadata.FieldMetadata{
			{Name: "key", Type: key, Delimiter: ","},
			{Name: "value", Type: value, Delimiter: "\n", Nullable: true},
			{Name: "n", Type: metadata.TypeLong, AutoFilling: metadata.AutoFillRecordNumber},
		},
	}
}

func TestFormatterParserRoundTrip(t *testing.T) {
	meta := kvMeta(metadata.TypeInteger, metadata.TypeByte)
	var buf bytes.Buffer
	f := NewFormatter(parser.Options{Logger: zaptest.NewLogger(t)}, CodecDefault)
	require.NoError(t, f.Init(meta))
	require.NoError(t, f.SetDataTarget(&buf))
	rec := record.New(meta)
	for i, v := range []interface{}{[]byte("one"), nil, []byte{0, 1, 2}} {
		require.NoError(t, rec.Field(0).SetValue(int32(i*10)))
		require.NoError(t, rec.Field(1).SetValue(v))
		_, err := f.Write(rec)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	p := NewParser(parser.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, p.Init(meta))
	require.NoError(t, p.SetDataSource(&buf, "kv.seq"))
	assert.Equal(t, ClassIntWritable, p.Header().KeyClass)
	assert.Equal(t, ClassBytesWritable, p.Header().ValueClass)

	var got []string
	for {
		r, err := p.GetNext(rec)
		require.NoError(t, err)
		if r == nil {
			break
		}
		got = append(got, r.String())
	}
	assert.Equal(t, []string{
		"key=0;value=one;n=1",
		"key=10;value=;n=2",
		"key=20;value=\x00\x01\x02;n=3",
	}, got)
}

func TestParserSkip(t *testing.T) {
	meta := kvMeta(metadata.TypeString, metadata.TypeString)
	var buf bytes.Buffer
	f := NewFormatter(parser.Options{}, "")
	require.NoError(t, f.Init(meta))
	require.NoError(t, f.SetDataTarget(&buf))
	rec := record.New(meta)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, rec.Field(0).SetValue(k))
		require.NoError(t, rec.Field(1).SetValue(k+k))
		_, err := f.Write(rec)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	p := NewParser(parser.Options{})
	require.NoError(t, p.Init(meta))
	require.NoError(t, p.SetDataSource(&buf, "kv.seq"))
	n, err := p.Skip(2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	r, err := p.GetNext(rec)
	require.NoError(t, err)
	assert.Equal(t, "cc", r.Field(1).String())
	n, err = p.Skip(5)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBadKeyUnderPolicies(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, WriterOptions{KeyClass: ClassText, ValueClass: ClassText})
	require.NoError(t, err)
	require.NoError(t, w.Append(text("x"), text("first")))
	require.NoError(t, w.Append(text("7"), text("second")))
	require.NoError(t, w.Flush())
	raw := buf.Bytes()

	meta := kvMeta(metadata.TypeInteger, metadata.TypeString)

	p := NewParser(parser.Options{})
	require.NoError(t, p.Init(meta))
	p.SetExceptionHandler(parser.NewExceptionHandler(parser.PolicyStrict, nil))
	require.NoError(t, p.SetDataSource(bytes.NewReader(raw), "kv.seq"))
	_, err = p.GetNext(record.New(meta))
	var bad *parser.BadDataFormatError
	require.True(t, errors.As(err, &bad))
	assert.Equal(t, "key", bad.FieldName)

	h := parser.NewExceptionHandler(parser.PolicyControlled, zaptest.NewLogger(t))
	p = NewParser(parser.Options{})
	require.NoError(t, p.Init(meta))
	p.SetExceptionHandler(h)
	require.NoError(t, p.SetDataSource(bytes.NewReader(raw), "kv.seq"))
	rec, err := p.GetNext(record.New(meta))
	require.NoError(t, err)
	assert.Equal(t, "second", rec.Field(1).String())
	assert.Len(t, h.Rejected(), 1)
}

func TestMetadataNeedsKeyAndValue(t *testing.T) {
	meta := &metadata.Metadata{Name: "one", Type: metadata.RecordDelimited, RecordDelimiter: "\n",
		Fields: []metadata.FieldMetadata{{Name: "only"}}}
	err := NewParser(parser.Options{}).Init(meta)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
