package fs

import (
	"context"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw, scheme, key, path string
	}{
		{"data/in.txt", "file", "file://", "data/in.txt"},
		{"/abs/in.dbf", "file", "file://", "/abs/in.dbf"},
		{"file:///abs/in.dbf", "file", "file://", "/abs/in.dbf"},
		{"s3://bucket/in/orders.dbf?region=eu-west-1", "s3", "s3://bucket", "in/orders.dbf"},
		{"gs://other/x.seq", "gs", "gs://other", "x.seq"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			loc, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, loc.Scheme)
			assert.Equal(t, tt.key, loc.Key)
			assert.Equal(t, tt.path, loc.Path)
		})
	}

	_, err := Parse("s3:///no-bucket")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

type countingFS struct {
	Local
	closed *int
}

func (c countingFS) Close() error {
	*c.closed++
	return nil
}

func TestRegistrySharesHandles(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := NewRegistry(zap.New(core))

	created, closed := 0, 0
	r.RegisterProvider("mem", func(context.Context, *url.URL) (FileSystem, error) {
		created++
		return countingFS{closed: &closed}, nil
	})

	ctx := context.Background()
	a, releaseA, err := r.Acquire(ctx, "mem://bucket/a")
	require.NoError(t, err)
	b, releaseB, err := r.Acquire(ctx, "mem://bucket/b")
	require.NoError(t, err)
	_, releaseC, err := r.Acquire(ctx, "mem://other/c")
	require.NoError(t, err)

	assert.Equal(t, 2, created)
	assert.Equal(t, a, b)
	assert.Equal(t, 2, r.Len())

	releaseA()
	assert.Equal(t, 0, closed, "still owned by b")
	releaseA()
	assert.Equal(t, 0, closed, "double release is ignored")
	assert.Equal(t, 1, logs.Len())

	releaseB()
	releaseC()
	assert.Equal(t, 2, closed)
	assert.Equal(t, 0, r.Len())
}

func TestUnknownScheme(t *testing.T) {
	_, _, err := NewRegistry(nil).Acquire(context.Background(), "hdfs://nn/x")
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
}

func TestLocalRoundTrip(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "out.txt")

	w, err := r.Create(ctx, path)
	require.NoError(t, err)
	_, err = io.Copy(w, strings.NewReader("A,B\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 0, r.Len())

	rc, err := r.Open(ctx, "file://"+path)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "A,B\n", string(b))

	_, err = r.Open(ctx, filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.Equal(t, 0, r.Len())
}
