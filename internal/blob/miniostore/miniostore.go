// Package miniostore keeps object content in an S3-compatible bucket.
package miniostore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds connection settings for the bucket.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
}

// Store implements analysis.BlobStore on MinIO.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// New connects to the endpoint and creates the bucket if it does not exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Store{client: cli, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *Store) key(md5 string) string {
	return path.Join(s.prefix, md5[:min(2, len(md5))], md5)
}

// Put uploads data under md5.
func (s *Store) Put(ctx context.Context, md5 string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(md5), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("put %s: %w", md5, err)
	}
	return nil
}

// Get downloads the content stored under md5.
func (s *Store) Get(ctx context.Context, md5 string) ([]byte, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(md5), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", md5, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat %s: %w", md5, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", md5, err)
	}
	return data, true, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}
