// Package remote fetches a credentials template from S3 so a fleet of frames
// can be provisioned against the same Immich server without editing each one.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// credentials templates are a few hundred bytes; anything larger is not one
const maxTemplateSize = 64 << 10

type downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

type S3Source struct {
	downloader downloader

	bucket string
	key    string
}

func NewS3Source(ctx context.Context, profile, bucket, key string) (*S3Source, error) {
	if bucket == "" {
		return nil, errors.New("no s3 bucket provided for credentials template")
	}
	if key == "" {
		return nil, errors.New("no s3 key provided for credentials template")
	}

	var opts []func(*config.LoadOptions) error
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}

	// Load the Shared AWS Configuration (~/.aws/config)
	ctxCfg, cancelCfg := context.WithTimeout(ctx, 3*time.Second)
	cfg, err := config.LoadDefaultConfig(ctxCfg, opts...)
	cancelCfg()
	if err != nil {
		return nil, fmt.Errorf("unable to load aws config: %w", err)
	}

	return &S3Source{
		downloader: manager.NewDownloader(s3.NewFromConfig(cfg)),
		bucket:     bucket,
		key:        key,
	}, nil
}

func (s *S3Source) Fetch(ctx context.Context) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(make([]byte, 0, 1024))

	n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to download object from s3, %s/%s, %w", s.bucket, s.key, err)
	}
	if n > maxTemplateSize {
		return nil, fmt.Errorf("s3 object %s/%s is %d bytes, too large for a credentials template", s.bucket, s.key, n)
	}

	slog.Info("fetched credentials template", "bucket", s.bucket, "key", s.key, "bytes", n)
	return buf.Bytes(), nil
}

func (s *S3Source) String() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}
