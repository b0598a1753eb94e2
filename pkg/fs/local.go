package fs

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/quasar/pkg/errors"
)

// Local is the handle of the local filesystem
type Local struct{}

func newLocal(context.Context, *url.URL) (FileSystem, error) {
	return Local{}, nil
}

func pathError(err error, op, path string) error {
	typ := errors.ErrorTypeIO
	if os.IsNotExist(err) {
		typ = errors.ErrorTypeNotFound
	}
	return errors.Wrap(err, typ, op+" failed").WithDetail("path", path)
}

// Open opens path for reading. The returned *os.File also implements
// io.ReaderAt and io.Seeker.
func (Local) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pathError(err, "open", path)
	}
	return f, nil
}

// Create truncates or creates path, creating parent directories. The
// returned *os.File also implements io.Seeker.
func (Local) Create(_ context.Context, path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, pathError(err, "mkdir", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, pathError(err, "create", path)
	}
	return f, nil
}

// Glob lists the local files matching pattern in lexical order
func (Local) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid file pattern").
			WithDetail("pattern", pattern)
	}
	return matches, nil
}

func (Local) Close() error { return nil }
