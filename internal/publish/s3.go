// Package publish uploads report files to S3-compatible object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config selects the destination. Credentials come from the standard AWS
// chain; Region and Profile override it when set.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key.
	Prefix  string
	Region  string
	Profile string
	// Endpoint targets an S3-compatible service instead of AWS.
	Endpoint     string
	UsePathStyle bool
}

// putter is the part of *s3.Client the publisher needs.
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads files under a bucket prefix, keyed by their path
// relative to the data root.
type S3Publisher struct {
	client putter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3 loads the AWS configuration and creates a publisher.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("publish: bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("publish: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3(client, cfg, logger), nil
}

func newS3(client putter, cfg S3Config, logger *slog.Logger) *S3Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Publisher{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}
}

// Key maps a file under root to its object key.
func (p *S3Publisher) Key(root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("publish: %s is outside %s", file, root)
	}
	return path.Join(p.prefix, rel), nil
}

// Publish uploads files one at a time and returns how many succeeded. It
// stops at the first failure.
func (p *S3Publisher) Publish(ctx context.Context, root string, files []string) (int, error) {
	uploaded := 0
	for _, file := range files {
		key, err := p.Key(root, file)
		if err != nil {
			return uploaded, err
		}
		if err := p.put(ctx, file, key); err != nil {
			return uploaded, err
		}
		uploaded++
		p.logger.DebugContext(ctx, "uploaded report file", "bucket", p.bucket, "key", key)
	}
	return uploaded, nil
}

func (p *S3Publisher) put(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	defer f.Close()

	in := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := contentType(file); ct != "" {
		in.ContentType = aws.String(ct)
	}

	if _, err := p.client.PutObject(ctx, in); err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) {
			return fmt.Errorf("publish: put %s: %s: %w", key, ae.ErrorCode(), err)
		}
		return fmt.Errorf("publish: put %s: %w", key, err)
	}
	return nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".txt", ".prom":
		return "text/plain; charset=utf-8"
	default:
		return ""
	}
}
