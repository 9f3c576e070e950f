package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/23skdu/annbench/internal/config"
)

const containerExt = ".hdf5"

// ErrNotFound is returned when the mirror has no container for a dataset.
var ErrNotFound = errors.New("dataset container not found on mirror")

// Source is a mirror of raw dataset containers.
type Source interface {
	// Name labels the source in logs and metrics.
	Name() string
	// Open streams the container of dataset. size is -1 when unknown.
	Open(ctx context.Context, dataset string) (body io.ReadCloser, size int64, err error)
}

// NewSource picks the S3 mirror when a bucket is configured, the HTTP mirror
// otherwise. Both honor cfg.HTTPTimeout.
func NewSource(ctx context.Context, cfg *config.Config) (Source, error) {
	if cfg.MirrorS3.Enabled() {
		return NewS3Source(ctx, cfg.MirrorS3, cfg.HTTPTimeout)
	}
	return NewHTTPSource(cfg.MirrorURL, &http.Client{Timeout: cfg.HTTPTimeout})
}

// HTTPSource downloads containers from <base>/<dataset>.hdf5.
type HTTPSource struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPSource returns a source rooted at baseURL.
func NewHTTPSource(baseURL string, client *http.Client) (*HTTPSource, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse mirror url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("mirror url %q: unsupported scheme", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{base: u, client: client}, nil
}

func (s *HTTPSource) Name() string { return "http" }

// URL is where the container of dataset is fetched from.
func (s *HTTPSource) URL(dataset string) string {
	u := *s.base
	u.Path = path.Join("/", u.Path, dataset+containerExt)
	return u.String()
}

func (s *HTTPSource) Open(ctx context.Context, dataset string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(dataset), http.NoBody)
	if err != nil {
		return nil, 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", req.URL, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, req.URL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("get %s: unexpected status %s", req.URL, resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}

// S3Source downloads containers from an S3-compatible bucket.
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Source builds an S3 client for cfg. Static credentials are used when
// given, the default AWS credential chain otherwise. The transport stays
// buildable so AWS_CA_BUNDLE and other SDK transport settings still apply.
func NewS3Source(ctx context.Context, cfg config.S3Config, timeout time.Duration) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if timeout > 0 {
		opts = append(opts, awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(timeout)))
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

	return &S3Source{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Source) Name() string { return "s3" }

// Key is the object key of the container of dataset.
func (s *S3Source) Key(dataset string) string {
	if s.prefix == "" {
		return dataset + containerExt
	}
	return path.Join(s.prefix, dataset+containerExt)
}

func (s *S3Source) Open(ctx context.Context, dataset string) (io.ReadCloser, int64, error) {
	key := s.Key(dataset)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, key)
		}
		return nil, 0, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}
