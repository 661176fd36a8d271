// Package s3 implements the storage area on an S3-compatible backend (AWS S3
// or MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"dicomcore/internal/storage"
	"dicomcore/pkg/domain"
)

// Area stores each payload as one object in a single bucket. Object keys
// reuse the two-level fanout of the filesystem area so listing by prefix
// stays cheap.
type Area struct {
	client *awss3.Client
	bucket string
}

// Config holds explicit construction parameters, mostly for tests. For prod
// we rely primarily on environment variables.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional; if set enables custom endpoint (e.g. MinIO)
	AccessKeyID     string // optional (falls back to default credentials chain)
	SecretAccessKey string // optional
	SessionToken    string // optional
	PathStyle       bool
}

// Environment variables:
//   DICOMCORE_STORAGE_DRIVER=s3
//   DICOMCORE_STORAGE_S3_BUCKET=<bucket> (required)
//   DICOMCORE_STORAGE_S3_REGION=<region> (default us-east-1)
//   DICOMCORE_STORAGE_S3_ENDPOINT=<url> (optional, for MinIO)
//   DICOMCORE_STORAGE_S3_PATH_STYLE=true|false (default false)
//   AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// New creates an S3 storage area from Config.
func New(ctx context.Context, cfg Config) (*Area, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Area{client: client, bucket: cfg.Bucket}, nil
}

// OpenFromEnv constructs an S3 area from process environment.
func OpenFromEnv(ctx context.Context) (*Area, error) {
	bucket := os.Getenv("DICOMCORE_STORAGE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("DICOMCORE_STORAGE_S3_BUCKET required for s3 driver")
	}
	cfg := Config{
		Bucket:    bucket,
		Region:    os.Getenv("DICOMCORE_STORAGE_S3_REGION"),
		Endpoint:  os.Getenv("DICOMCORE_STORAGE_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("DICOMCORE_STORAGE_S3_PATH_STYLE"), "true"),
	}
	return New(ctx, cfg)
}

func keyFor(uuid string) string {
	if len(uuid) < 4 {
		return uuid
	}
	return uuid[0:2] + "/" + uuid[2:4] + "/" + uuid
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func (a *Area) Create(ctx context.Context, uuid string, content []byte, kind domain.FileContentType) error {
	key := keyFor(uuid)
	// Emulate create-only via Head first.
	_, err := a.client.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: &a.bucket, Key: &key})
	if err == nil {
		return domain.Errorf(domain.ErrInternalError, "storage uuid %s already exists", uuid)
	}
	if !isNotFound(err) && !isStatusNotFound(err) {
		return err
	}
	_, err = a.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Body:   bytes.NewReader(content),
	})
	return err
}

func (a *Area) Read(ctx context.Context, uuid string, kind domain.FileContentType) ([]byte, error) {
	key := keyFor(uuid)
	out, err := a.client.GetObject(ctx, &awss3.GetObjectInput{Bucket: &a.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) || isStatusNotFound(err) {
			return nil, domain.Errorf(domain.ErrInexistentFile, "no payload for uuid %s", uuid)
		}
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

func (a *Area) ReadRange(ctx context.Context, uuid string, kind domain.FileContentType, start, end uint64) ([]byte, error) {
	if start > end {
		return nil, domain.Errorf(domain.ErrBadRange, "range [%d, %d) is reversed", start, end)
	}
	if start == end {
		return []byte{}, nil
	}
	key := keyFor(uuid)
	// HTTP ranges are inclusive on both ends.
	byteRange := fmt.Sprintf("bytes=%d-%d", start, end-1)
	out, err := a.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Range:  &byteRange,
	})
	if err != nil {
		if isNotFound(err) || isStatusNotFound(err) {
			return nil, domain.Errorf(domain.ErrInexistentFile, "no payload for uuid %s", uuid)
		}
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) < end-start {
		return nil, domain.Errorf(domain.ErrBadRange, "range end %d beyond payload size", end)
	}
	return data, nil
}

func (a *Area) HasReadRange() bool { return true }

func (a *Area) Remove(ctx context.Context, uuid string, kind domain.FileContentType) error {
	key := keyFor(uuid)
	_, err := a.client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: &a.bucket, Key: &key})
	return err
}

// isStatusNotFound catches generic 404 API errors that the typed NotFound
// checks miss on some S3-compatible servers.
func isStatusNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "StatusCode: 404")
}

var _ storage.Area = (*Area)(nil)
