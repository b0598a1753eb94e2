package compression

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = bytes.Repeat([]byte("id,name,amount\n1,Anna,12.50\n"), 200)

func TestStreamRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{None, Gzip, Zlib, Deflate, Snappy, S2, LZ4, Zstd} {
		t.Run(string(alg), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, alg, Default)
			require.NoError(t, err)
			_, err = w.Write(sample)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := NewReader(&buf, alg)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, sample, got)
		})
	}
}

func TestCompressorLevels(t *testing.T) {
	for _, alg := range []Algorithm{Zlib, Gzip, LZ4, Zstd, Snappy, S2} {
		for _, level := range []Level{Fastest, Default, Better, Best} {
			t.Run(string(alg)+"/"+level.String(), func(t *testing.T) {
				c, err := NewCompressor(Config{Algorithm: alg, Level: level})
				require.NoError(t, err)
				assert.Equal(t, alg, c.Algorithm())

				packed, err := c.Compress(sample)
				require.NoError(t, err)
				assert.Less(t, len(packed), len(sample))

				got, err := c.Decompress(packed)
				require.NoError(t, err)
				assert.Equal(t, sample, got)
			})
		}
	}
}

func TestFromExtension(t *testing.T) {
	tests := map[string]Algorithm{
		"orders.csv.gz":   Gzip,
		"orders.CSV.GZ":   Gzip,
		"part-0.zst":      Zstd,
		"table.dbf":       None,
		"noext":           None,
		"events.lz4":      LZ4,
		"s3://b/k.snappy": Snappy,
	}
	for name, want := range tests {
		assert.Equal(t, want, FromExtension(name), name)
	}
	assert.Equal(t, ".gz", Extension(Gzip))
}

func TestParse(t *testing.T) {
	alg, err := Parse("GZIP")
	require.NoError(t, err)
	assert.Equal(t, Gzip, alg)

	alg, err = Parse("auto")
	require.NoError(t, err)
	assert.Equal(t, None, alg)

	_, err = Parse("brotli")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestBlockCompressorLayout(t *testing.T) {
	big := bytes.Repeat(sample, 100) // spans several blocks
	for _, alg := range []Algorithm{Snappy, LZ4} {
		t.Run(string(alg), func(t *testing.T) {
			c, err := NewCompressor(Config{Algorithm: alg})
			require.NoError(t, err)

			packed, err := c.Compress(big)
			require.NoError(t, err)
			require.Greater(t, len(packed), 8)
			assert.Equal(t, uint32(BlockSize), binary.BigEndian.Uint32(packed))
			chunk := binary.BigEndian.Uint32(packed[4:])
			assert.Less(t, int(chunk), len(packed)-8)

			got, err := c.Decompress(packed)
			require.NoError(t, err)
			assert.Equal(t, big, got)

			empty, err := c.Compress(nil)
			require.NoError(t, err)
			assert.Empty(t, empty)
			got, err = c.Decompress(empty)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestBlockCompressorCorrupt(t *testing.T) {
	c, err := NewCompressor(Config{Algorithm: Snappy})
	require.NoError(t, err)
	packed, err := c.Compress(sample)
	require.NoError(t, err)

	tests := map[string][]byte{
		"short header":  packed[:2],
		"missing chunk": packed[:4],
		"cut chunk":     packed[:len(packed)-3],
		"huge block":    {0x7f, 0xff, 0xff, 0xff, 0, 0, 0, 1, 0},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decompress(data)
			assert.True(t, errors.IsType(err, errors.ErrorTypeData), "%v", err)
		})
	}
}

func TestCorruptInput(t *testing.T) {
	c, err := NewCompressor(Config{Algorithm: Zlib})
	require.NoError(t, err)
	_, err = c.Decompress([]byte("not zlib at all"))
	assert.Error(t, err)
}
