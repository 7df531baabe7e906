package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	lferrors "github.com/logflow/bcilog/pkg/errors"
)

// S3Config holds S3 client configuration.
type S3Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Bucket is the default bucket for uploads.
	Bucket string

	// Prefix is prepended to every uploaded key.
	Prefix string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	DownloadTimeout time.Duration
	UploadTimeout   time.Duration
}

// objectAPI is the part of the S3 API the client uses.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Client reads transcripts from and uploads exports to S3.
type S3Client struct {
	cfg S3Config
	api objectAPI
}

// NewS3Client creates a client from the default AWS credential chain, or
// from the static keys in cfg when both are set.
func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Client(cfg, client), nil
}

func newS3Client(cfg S3Config, api objectAPI) *S3Client {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 5 * time.Minute
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}
	return &S3Client{cfg: cfg, api: api}
}

// Bucket returns the default bucket name.
func (c *S3Client) Bucket() string {
	return c.cfg.Bucket
}

// Reader returns the object body and its size.
func (c *S3Client) Reader(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		return nil, 0, lferrors.ReadFailed("s3://"+bucket+"/"+key, 0, err)
	}

	// Wrap to cancel context on close
	return &cancelOnCloseReader{ReadCloser: out.Body, cancel: cancel}, aws.ToInt64(out.ContentLength), nil
}

type cancelOnCloseReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnCloseReader) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}

// Key returns the object key an uploaded local file is stored under.
func (c *S3Client) Key(localPath string) string {
	name := filepath.Base(localPath)
	if c.cfg.Prefix == "" {
		return name
	}
	return path.Join(strings.Trim(c.cfg.Prefix, "/"), name)
}

// Upload puts the local file into the default bucket and returns its URI.
func (c *S3Client) Upload(ctx context.Context, localPath string) (string, error) {
	if c.cfg.Bucket == "" {
		return "", lferrors.InvalidConfig("export.s3.bucket", "")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", lferrors.Wrap(err, lferrors.CodeUploadFailed, "failed to open upload source").
			WithContext("path", localPath)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	key := c.Key(localPath)
	in := &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := contentType(localPath); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := c.api.PutObject(ctx, in); err != nil {
		return "", lferrors.Wrap(err, lferrors.CodeUploadFailed, "failed to upload object").
			WithContext("bucket", c.cfg.Bucket).
			WithContext("key", key)
	}
	return "s3://" + c.cfg.Bucket + "/" + key, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".parquet", ".arrow", ".duckdb":
		return "application/octet-stream"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return mime.TypeByExtension(filepath.Ext(p))
	}
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
