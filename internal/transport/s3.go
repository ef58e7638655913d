package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mwantia/assetsync/internal/syncerr"
)

// S3Options configures the s3:// backend. Empty credentials fall back to the
// default AWS credential chain.
type S3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type S3Fetcher struct {
	client *s3.Client
}

func NewS3Fetcher(ctx context.Context, opts S3Options) (*S3Fetcher, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Fetcher{client: client}, nil
}

func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string, _ Auth, timeout time.Duration) ([]byte, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return nil, syncerr.New(syncerr.KindNetwork, "", err)
	}

	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, syncerr.New(syncerr.KindNetwork, "", fmt.Errorf("get %s: %w", rawURL, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.New(syncerr.KindNetwork, "", fmt.Errorf("read body %s: %w", rawURL, err))
	}
	return body, nil
}

func (f *S3Fetcher) HeadExists(ctx context.Context, rawURL string, _ Auth) bool {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return false
	}

	_, err = f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 url %q: %w", rawURL, err)
	}
	if !strings.EqualFold(u.Scheme, "s3") {
		return "", "", fmt.Errorf("not an s3 url: %q", rawURL)
	}

	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 url must be s3://bucket/key: %q", rawURL)
	}
	return u.Host, key, nil
}
