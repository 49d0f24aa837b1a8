// Package store provides minimal object-store access for backup archives:
// put, get, head and list-with-prefix against any S3-compatible endpoint.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"
)

// ErrObjectNotFound indicates the requested key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// Progress is invoked during a transfer with the bytes moved so far and the
// total expected. total is zero when the size is unknown.
type Progress func(done, total int64)

// Config addresses one bucket on an S3-compatible store. It is constructed
// once per invocation from CLI flags and environment overrides; components
// never read the environment themselves. Credentials come from the shared
// credentials file (Profile) or the SDK's environment lookup; explicit
// static keys take precedence when set.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// ObjectAPI is the subset of the S3 API the client uses. It matches
// s3.Client so tests can substitute a mock; the ListObjectsV2 signature also
// satisfies the SDK paginator's client interface.
type ObjectAPI interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Client transfers local files to and from one bucket. Transfers are
// streamed, never retried internally, and report progress through optional
// callbacks.
type Client struct {
	logger *zap.Logger
	bucket string
	api    ObjectAPI
}

// NewClient builds a client for the bucket described by cfg.
func NewClient(ctx context.Context, logger *zap.Logger, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(cleanhttp.DefaultPooledClient()),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	// Path-style addressing for MinIO and other S3-compatible services.
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{
		logger: logger,
		bucket: cfg.Bucket,
		api:    s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

// NewClientWithAPI builds a client over a custom API implementation. This is
// useful for testing.
func NewClientWithAPI(logger *zap.Logger, bucket string, api ObjectAPI) *Client {
	return &Client{logger: logger, bucket: bucket, api: api}
}

// Bucket returns the bucket this client addresses.
func (c *Client) Bucket() string {
	return c.bucket
}

// Upload streams the local file to the store under key. The put is a single
// request sized from the local file; there is no multipart or resume
// support.
func (c *Client) Upload(ctx context.Context, key, localPath string, progress Progress) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	var body io.Reader = f
	if progress != nil {
		body = &progressReader{r: f, total: info.Size(), fn: progress}
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(info.Size()),
	}
	if contentType := contentTypeForKey(key); contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to s3://%s/%s: %w", c.bucket, key, err)
	}

	c.logger.Info("uploaded object",
		zap.String("key", key),
		zap.Int64("size", info.Size()))
	return nil
}

// Download streams the object at key into localPath. A head request runs
// first to size the progress reporting; when it fails for any reason other
// than a missing object, the download proceeds with an unknown total.
// Returns ErrObjectNotFound (wrapped) when the key does not exist.
func (c *Client) Download(ctx context.Context, key, localPath string, progress Progress) (err error) {
	var total int64
	head, herr := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	switch {
	case isNotFound(herr):
		return fmt.Errorf("s3://%s/%s: %w", c.bucket, key, ErrObjectNotFound)
	case herr != nil:
		c.logger.Debug("head request failed, progress total unknown",
			zap.String("key", key),
			zap.Error(herr))
	case head.ContentLength != nil:
		total = *head.ContentLength
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("s3://%s/%s: %w", c.bucket, key, ErrObjectNotFound)
		}
		return fmt.Errorf("failed to download s3://%s/%s: %w", c.bucket, key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	var w io.Writer = f
	if progress != nil {
		w = &progressWriter{w: f, total: total, fn: progress}
	}

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}

	c.logger.Info("downloaded object",
		zap.String("key", key),
		zap.Int64("size", n))
	return nil
}

// FindLatest lists every object under prefix (across all pages), filters to
// keys ending in suffix, and returns the key with the newest store-reported
// last-modified timestamp. Equal timestamps are broken by lexicographically
// greatest key so the result does not depend on list order. Returns the
// empty string, not an error, when nothing matches.
func (c *Client) FindLatest(ctx context.Context, prefix, suffix string) (string, error) {
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var latest *types.Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list s3://%s/%s: %w", c.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if !strings.HasSuffix(aws.ToString(obj.Key), suffix) {
				continue
			}
			if latest == nil || newer(obj, *latest) {
				candidate := obj
				latest = &candidate
			}
		}
	}

	if latest == nil {
		return "", nil
	}
	return aws.ToString(latest.Key), nil
}

func newer(a, b types.Object) bool {
	at := aws.ToTime(a.LastModified)
	bt := aws.ToTime(b.LastModified)
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return aws.ToString(a.Key) > aws.ToString(b.Key)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		(apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

// contentTypeForKey returns the Content-Type for the object key based on its
// suffix.
func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".tar.zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".tar.gz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".tar"):
		return "application/x-tar"
	case strings.HasSuffix(key, ".sha256"), strings.HasSuffix(key, ".txt"):
		return "text/plain"
	default:
		return ""
	}
}

type progressReader struct {
	r     io.Reader
	done  int64
	total int64
	fn    Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}
	return n, err
}

type progressWriter struct {
	w     io.Writer
	done  int64
	total int64
	fn    Progress
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}
	return n, err
}
