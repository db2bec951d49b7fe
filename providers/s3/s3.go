// Package s3bucket stores the original documents of sealed capsules in an S3
// bucket. Any S3 compatible endpoint works, including MinIO with path-style
// addressing.
//
// Usage:
//
//	blobs, err := s3bucket.New(ctx, s3bucket.Config{
//	    Bucket:       "capsules",
//	    Endpoint:     "http://localhost:9000",
//	    UsePathStyle: true,
//	})
//	svc, err := capsule.NewService(ctx, cfg, capsule.WithBlobStore(blobs))
package s3bucket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hengadev/capsule"
)

// objectClient is the part of *s3.Client the store uses (allows mocking).
type objectClient interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// presignClient is the part of *s3.PresignClient the store uses.
type presignClient interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config holds the bucket location and credentials source.
type Config struct {
	// Bucket is required.
	Bucket string

	// Region is the AWS region. If empty, AWS_REGION or the shared config file is used.
	Region string

	// Endpoint overrides the S3 endpoint, e.g. "http://localhost:9000" for MinIO.
	Endpoint string

	// UsePathStyle addresses objects as endpoint/bucket/key. MinIO needs it.
	UsePathStyle bool

	// AWSConfig is an optional pre-configured AWS config. If provided, Region is ignored.
	AWSConfig *aws.Config
}

// BlobStore implements capsule.BlobStore on an S3 bucket.
type BlobStore struct {
	client  objectClient
	presign presignClient
	bucket  string
}

var _ capsule.BlobStore = (*BlobStore)(nil)

// New creates a BlobStore. It does not contact the endpoint.
func New(ctx context.Context, cfg Config) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket cannot be empty", capsule.ErrInvalidConfiguration)
	}

	var awsConfig aws.Config
	if cfg.AWSConfig != nil {
		awsConfig = *cfg.AWSConfig
	} else {
		opts := []func(*config.LoadOptions) error{}
		if cfg.Region != "" {
			opts = append(opts, config.WithRegion(cfg.Region))
		}
		var err error
		awsConfig, err = config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load AWS config: %w", capsule.ErrBlobStore, err)
		}
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newBlobStore(client, s3.NewPresignClient(client), cfg.Bucket), nil
}

func newBlobStore(client objectClient, presign presignClient, bucket string) *BlobStore {
	return &BlobStore{client: client, presign: presign, bucket: bucket}
}

// Bucket returns the bucket objects are written to.
func (b *BlobStore) Bucket() string {
	return b.bucket
}

// Put uploads data under key.
func (b *BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return fmt.Errorf("%w: object key cannot be empty", capsule.ErrBlobStore)
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: failed to upload s3://%s/%s: %w", capsule.ErrBlobStore, b.bucket, key, err)
	}
	return nil
}

// Get downloads the object stored under key. A missing object wraps capsule.ErrNotFound.
func (b *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s: %w", capsule.ErrNotFound, b.bucket, key, err)
		}
		return nil, fmt.Errorf("%w: failed to download s3://%s/%s: %w", capsule.ErrBlobStore, b.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read s3://%s/%s: %w", capsule.ErrBlobStore, b.bucket, key, err)
	}
	return data, nil
}

// Delete removes key. Deleting a missing object is not an error.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to delete s3://%s/%s: %w", capsule.ErrBlobStore, b.bucket, key, err)
	}
	return nil
}

// PresignGet returns a GET URL for key valid for ttl.
func (b *BlobStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("%w: presign ttl must be positive, got %s", capsule.ErrBlobStore, ttl)
	}
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: failed to presign s3://%s/%s: %w", capsule.ErrBlobStore, b.bucket, key, err)
	}
	return req.URL, nil
}
