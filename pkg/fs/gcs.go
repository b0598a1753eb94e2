package fs

import (
	"context"
	"io"
	"net/url"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/quasar/pkg/errors"
)

// GCS is the handle of one Cloud Storage bucket. The url query may name a
// credentials file.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

func newGCS(ctx context.Context, u *url.URL) (FileSystem, error) {
	var opts []option.ClientOption
	if creds := u.Query().Get("credentials"); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create storage client")
	}
	return &GCS{client: client, bucket: client.Bucket(u.Host), name: u.Host}, nil
}

func (g *GCS) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(path).NewReader(ctx)
	if err != nil {
		typ := errors.ErrorTypeIO
		if err == storage.ErrObjectNotExist {
			typ = errors.ErrorTypeNotFound
		}
		return nil, errors.Wrap(err, typ, "failed to open object").
			WithDetail("bucket", g.name).
			WithDetail("object", path)
	}
	return r, nil
}

func (g *GCS) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	return g.bucket.Object(path).NewWriter(ctx), nil
}

func (g *GCS) Close() error {
	if err := g.client.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to close storage client")
	}
	return nil
}
