package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config addresses an S3-compatible bucket such as MinIO.
type S3Config struct {
	Endpoint  string // host:port, an http(s):// prefix selects Secure
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
}

// S3Archiver writes with If-None-Match: * so existing objects are kept.
type S3Archiver struct {
	client *minio.Client
	bucket string
}

func NewS3Archiver(cfg S3Config) (*S3Archiver, error) {
	endpoint := cfg.Endpoint
	secure := cfg.Secure
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "http://"), false
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Archiver{client: client, bucket: cfg.Bucket}, nil
}

func (a *S3Archiver) Save(ctx context.Context, object string, data []byte, contentType string) (bool, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	opts.SetMatchETagExcept("*")
	_, err := a.client.PutObject(ctx, a.bucket, object, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode == http.StatusPreconditionFailed || resp.Code == minio.PreconditionFailed {
			return false, nil
		}
		return false, fmt.Errorf("put s3 object %s: %w", object, err)
	}
	return true, nil
}
