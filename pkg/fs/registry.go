// Package fs resolves file URLs to shared, reference-counted filesystem
// handles.
//
// Components never open filesystems themselves. They Acquire a handle from
// the Registry injected into the run and call the returned release function
// when done. Handles for the same scheme and authority are shared; the
// underlying client is closed only when its last owner releases it.
//
//	fsys, release, err := registry.Acquire(ctx, "s3://bucket/in/orders.dbf")
//	if err != nil {
//	    return err
//	}
//	defer release()
//	r, err := fsys.Open(ctx, "in/orders.dbf")
package fs

import (
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/logger"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"go.uber.org/zap"
)

// FileSystem is a handle on one storage authority
type FileSystem interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Create(ctx context.Context, path string) (io.WriteCloser, error)
	Close() error
}

// Provider creates the handle for the authority of u
type Provider func(ctx context.Context, u *url.URL) (FileSystem, error)

// Location is a parsed file URL
type Location struct {
	URL *url.URL
	// Scheme is "file" for plain paths
	Scheme string
	// Key identifies the shared handle: scheme plus authority
	Key string
	// Path is the object path within the handle
	Path string
}

// Parse splits raw into the handle key and the path within the handle.
// Plain paths without a scheme are local files.
func Parse(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid file url").
			WithDetail("url", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	// single letter schemes are windows drive letters
	if scheme == "" || len(scheme) == 1 {
		return Location{URL: &url.URL{Scheme: "file", Path: raw}, Scheme: "file", Key: "file://", Path: raw}, nil
	}
	loc := Location{URL: u, Scheme: scheme, Key: scheme + "://" + u.Host, Path: u.Path}
	if u.Opaque != "" {
		loc.Path = u.Opaque
	}
	if scheme != "file" {
		loc.Path = strings.TrimPrefix(loc.Path, "/")
		if u.Host == "" {
			return Location{}, errors.Newf(errors.ErrorTypeConfig, "%s url needs a bucket: %s", scheme, raw)
		}
	}
	if loc.Path == "" {
		return Location{}, errors.Newf(errors.ErrorTypeConfig, "file url has no path: %s", raw)
	}
	return loc, nil
}

type handle struct {
	key    string
	scheme string
	fs     FileSystem
	refs   int
}

// Registry shares filesystem handles between the components of a run
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
	handles   map[string]*handle
	logger    *zap.Logger
}

// NewRegistry creates a registry with the file, s3 and gs providers
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		providers: make(map[string]Provider),
		handles:   make(map[string]*handle),
		logger:    logger.With(zap.String("component", "fs_registry")),
	}
	r.RegisterProvider("file", newLocal)
	r.RegisterProvider("s3", newS3)
	r.RegisterProvider("gs", newGCS)
	return r
}

// RegisterProvider installs or replaces the provider of scheme
func (r *Registry) RegisterProvider(scheme string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(scheme)] = p
}

// Schemes lists the registered schemes
func (r *Registry) Schemes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.providers))
	for s := range r.providers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Acquire returns the shared handle for the authority of rawURL and a
// release function. Every successful Acquire must be paired with exactly
// one release.
func (r *Registry) Acquire(ctx context.Context, rawURL string) (FileSystem, func(), error) {
	loc, err := Parse(rawURL)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[loc.Key]
	if !ok {
		provider, found := r.providers[loc.Scheme]
		if !found {
			return nil, nil, errors.Newf(errors.ErrorTypeCapability, "no filesystem for scheme %q", loc.Scheme)
		}
		fsys, err := provider(ctx, loc.URL)
		if err != nil {
			return nil, nil, err
		}
		h = &handle{key: loc.Key, scheme: loc.Scheme, fs: fsys}
		r.handles[loc.Key] = h
		metrics.FilesystemHandles.WithLabelValues(loc.Scheme).Inc()
		logger.FromContext(ctx, r.logger).Debug("filesystem opened", zap.String("key", loc.Key))
	}
	h.refs++

	var released atomic.Bool
	release := func() {
		if !released.CompareAndSwap(false, true) {
			err := errors.New(errors.ErrorTypeContract, "filesystem handle released twice").
				WithDetail("key", h.key)
			r.logger.Error("ignoring release", zap.Error(err))
			return
		}
		r.release(h)
	}
	return h.fs, release, nil
}

func (r *Registry) release(h *handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.refs--
	if h.refs > 0 {
		return
	}
	delete(r.handles, h.key)
	metrics.FilesystemHandles.WithLabelValues(h.scheme).Dec()
	if err := h.fs.Close(); err != nil {
		r.logger.Warn("failed to close filesystem", zap.String("key", h.key), zap.Error(err))
		return
	}
	r.logger.Debug("filesystem closed", zap.String("key", h.key))
}

// Open is a convenience for a single read: the handle is released when the
// returned reader is closed.
func (r *Registry) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	loc, err := Parse(rawURL)
	if err != nil {
		return nil, err
	}
	fsys, release, err := r.Acquire(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	rc, err := fsys.Open(ctx, loc.Path)
	if err != nil {
		release()
		return nil, err
	}
	return &releasingReader{ReadCloser: rc, release: release}, nil
}

// Create is the write counterpart of Open
func (r *Registry) Create(ctx context.Context, rawURL string) (io.WriteCloser, error) {
	loc, err := Parse(rawURL)
	if err != nil {
		return nil, err
	}
	fsys, release, err := r.Acquire(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	wc, err := fsys.Create(ctx, loc.Path)
	if err != nil {
		release()
		return nil, err
	}
	return &releasingWriter{WriteCloser: wc, release: release}, nil
}

// Len reports the number of live handles
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

type releasingReader struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (rr *releasingReader) Close() error {
	err := rr.ReadCloser.Close()
	rr.once.Do(rr.release)
	return err
}

type releasingWriter struct {
	io.WriteCloser
	release func()
	once    sync.Once
}

func (rw *releasingWriter) Close() error {
	err := rw.WriteCloser.Close()
	rw.once.Do(rw.release)
	return err
}
