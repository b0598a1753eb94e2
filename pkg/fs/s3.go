package fs

import (
	"context"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ajitpratap0/quasar/pkg/errors"
)

const defaultUploadPartSize = 8 * 1024 * 1024

// S3 is the handle of one bucket. The url query may set region and
// endpoint; path style addressing is used with a custom endpoint.
type S3 struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
}

func newS3(ctx context.Context, u *url.URL) (FileSystem, error) {
	q := u.Query()
	var opts []func(*awsconfig.LoadOptions) error
	if region := q.Get("region"); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	endpoint := q.Get("endpoint")
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{
		bucket: u.Host,
		client: client,
		uploader: manager.NewUploader(client, func(up *manager.Uploader) {
			up.PartSize = defaultUploadPartSize
		}),
	}, nil
}

func (s *S3) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to get object").
			WithDetail("bucket", s.bucket).
			WithDetail("key", path)
	}
	return out.Body, nil
}

// Create streams writes into a multipart upload. The object exists once
// Close returns without error.
func (s *S3) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
			Body:   pr,
		})
		_ = pr.CloseWithError(err)
		done <- err
	}()
	return &pipeUpload{pw: pw, done: done, bucket: s.bucket, key: path}, nil
}

func (s *S3) Close() error { return nil }

type pipeUpload struct {
	pw     *io.PipeWriter
	done   chan error
	bucket string
	key    string
}

func (p *pipeUpload) Write(b []byte) (int, error) {
	return p.pw.Write(b)
}

func (p *pipeUpload) Close() error {
	_ = p.pw.Close()
	if err := <-p.done; err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to upload object").
			WithDetail("bucket", p.bucket).
			WithDetail("key", p.key)
	}
	return nil
}
