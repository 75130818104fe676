package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// snappyContentType is set on published objects with the CompressedExt suffix.
const snappyContentType = "application/x-snappy-framed"

// s3API is the subset of the S3 client used by published results.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Storage keeps published result files in an S3 bucket or an
// S3-compatible store such as MinIO.
type S3Storage struct {
	api     s3API
	bucket  string
	retries int
	backoff time.Duration
}

// S3Config configures the S3 client.
type S3Config struct {
	Region string
	// Endpoint overrides the AWS endpoint, e.g. http://localhost:9000 for MinIO.
	Endpoint     string
	UsePathStyle bool
	MaxRetries   int
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:     "us-east-1",
		MaxRetries: 3,
	}
}

// NewS3Storage builds a client from the default AWS credential chain.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is empty")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Storage(client, bucket, cfg.MaxRetries), nil
}

func newS3Storage(api s3API, bucket string, retries int) *S3Storage {
	if retries < 0 {
		retries = 0
	}
	return &S3Storage{
		api:     api,
		bucket:  bucket,
		retries: retries,
		backoff: 100 * time.Millisecond,
	}
}

// Upload puts the file at localPath under objectPath.
func (s *S3Storage) Upload(ctx context.Context, localPath, objectPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer f.Close()

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
		Body:   f,
	}
	if strings.HasSuffix(objectPath, CompressedExt) {
		in.ContentType = aws.String(snappyContentType)
	}

	err = s.withRetry(ctx, func() error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := s.api.PutObject(ctx, in)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUploadFailed, objectPath, err)
	}
	return nil
}

// Download writes objectPath to localPath. The file appears only once the
// whole body has been received.
func (s *S3Storage) Download(ctx context.Context, objectPath, localPath string) error {
	var body io.ReadCloser
	err := s.withRetry(ctx, func() error {
		out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
		}
		return fmt.Errorf("%w: %s: %v", ErrDownloadFailed, objectPath, err)
	}
	defer body.Close()

	if err := writeAtomic(localPath, body); err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return nil
}

// Delete removes objectPath. Deleting a missing object is not an error.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		return err
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: %s: %v", ErrDeleteFailed, objectPath, err)
	}
	return nil
}

// Exists reports whether objectPath is present.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	err := s.withRetry(ctx, func() error {
		_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// ListObjects returns the sorted keys under prefix.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys  []string
		token *string
	)
	for {
		var out *s3.ListObjectsV2Output
		err := s.withRetry(ctx, func() error {
			var err error
			out, err = s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: token,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(keys)
	return keys, nil
}

// withRetry runs op until it succeeds, fails with a missing object, or the
// retry budget is spent. The wait doubles after each attempt.
func (s *S3Storage) withRetry(ctx context.Context, op func() error) error {
	wait := s.backoff
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = op(); err == nil || isNotFound(err) || attempt >= s.retries {
			return err
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait *= 2
	}
}

func isNotFound(err error) bool {
	var (
		noSuchKey *types.NoSuchKey
		notFound  *types.NotFound
	)
	return errors.Is(err, ErrObjectNotFound) || errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// writeAtomic streams r into a temporary file beside path, then renames it.
func writeAtomic(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
