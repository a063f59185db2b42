package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API used by [S3Fetcher].
// The [s3.Client] type satisfies this interface.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher downloads artifacts addressed as s3://bucket/key from Amazon S3
// or any S3-compatible object store.
type S3Fetcher struct {
	client S3Client
}

func NewS3Fetcher(client S3Client) *S3Fetcher {
	return &S3Fetcher{client: client}
}

// S3Options configures [NewS3Client]. Empty credentials select anonymous
// access, which works for public buckets.
type S3Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewS3Client builds an S3 client from static options. A custom endpoint
// (MinIO, R2, ...) switches to path-style addressing.
func NewS3Client(o S3Options) *s3.Client {
	opts := s3.Options{
		Region: o.Region,
	}
	if o.Endpoint != "" {
		opts.BaseEndpoint = aws.String(o.Endpoint)
		opts.UsePathStyle = true
	}
	if o.AccessKeyID != "" {
		creds := aws.Credentials{
			AccessKeyID:     o.AccessKeyID,
			SecretAccessKey: o.SecretAccessKey,
			SessionToken:    o.SessionToken,
			Source:          "modelstore",
		}
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		})
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	return s3.New(opts)
}

func (f *S3Fetcher) Fetch(ctx context.Context, src *url.URL, w io.Writer) error {
	bucket := src.Host
	key := strings.TrimPrefix(src.Path, "/")
	if bucket == "" || key == "" {
		return fmt.Errorf("modelstore: s3 url needs bucket and key: %s", src)
	}
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("s3 get %s: %w", src, os.ErrNotExist)
		}
		return fmt.Errorf("s3 get %s: %w", src, err)
	}
	defer out.Body.Close()
	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("s3 read %s: %w", src, err)
	}
	return nil
}

// isS3NotFound reports whether err indicates the S3 object does not exist.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
