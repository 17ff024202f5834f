// Package archive uploads exported version histories to S3-compatible
// object storage. Optional; a nil *Service is a no-op.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Service struct {
	client *minio.Client
	bucket string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func New(ctx context.Context, opts Options) (*Service, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	return &Service{client: client, bucket: opts.Bucket}, nil
}

// StoreExport uploads one export under exports/<documentID>/<timestamp>.<ext>
// and returns the object key.
func (s *Service) StoreExport(ctx context.Context, documentID, filename, mimeType string, data []byte) (string, error) {
	if s == nil {
		return "", nil
	}
	key := fmt.Sprintf("exports/%s/%s-%s", documentID, time.Now().UTC().Format("20060102T150405Z"), filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("store export %s: %w", key, err)
	}
	return key, nil
}
