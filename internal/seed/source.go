package seed

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// SourceEmbedded selects the dataset compiled into the binary.
const SourceEmbedded = "embedded"

// S3Config configures reads of s3:// sources. Credentials come from the
// default AWS chain (environment, shared config, instance role).
type S3Config struct {
	Region    string
	Endpoint  string // optional; S3-compatible endpoint such as MinIO
	PathStyle bool
}

// objectGetter is the subset of the S3 client used here.
type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// newS3Client is swapped in tests.
var newS3Client = func(ctx context.Context, cfg S3Config) (objectGetter, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Open reads a dataset and returns a Loader over it.
//
// source is one of:
//   - "" or "embedded": the compiled-in dataset
//   - "s3://bucket/key": an object in S3 or an S3-compatible store
//   - anything else: a local file path
func Open(ctx context.Context, source string, s3cfg S3Config) (*Loader, error) {
	switch {
	case source == "" || source == SourceEmbedded:
		return Default(), nil
	case strings.HasPrefix(source, "s3://"):
		data, err := readS3(ctx, source, s3cfg)
		if err != nil {
			return nil, err
		}
		return New(data), nil
	default:
		// #nosec G304 - path comes from operator configuration
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed file %s: %w", source, err)
		}
		return New(data), nil
	}
}

func readS3(ctx context.Context, source string, cfg S3Config) ([]byte, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid seed source %q: %w", source, err)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("seed source %q must be s3://bucket/key", source)
	}

	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch seed %s: %w", source, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed %s: %w", source, err)
	}
	return data, nil
}
