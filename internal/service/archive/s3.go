// Package archive copies sealed deployment logs to S3 compatible storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yerniteja1/deploykit/internal/domain"
)

// ErrMissingBucket is returned when the archive is built without a bucket.
var ErrMissingBucket = errors.New("archive: bucket required")

// Config describes the target bucket.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
}

type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads one text object per sealed deployment.
type S3 struct {
	client putter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3 builds an S3 client. Static credentials are used when provided,
// otherwise the default AWS credential chain applies.
func NewS3(ctx context.Context, cfg Config, logger *slog.Logger) (*S3, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, ErrMissingBucket
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3(client putter, bucket, prefix string, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With("component", "archive"),
	}
}

// Key returns the object key for a deployment's logs.
func (a *S3) Key(d domain.Deployment) string {
	return path.Join(a.prefix, d.ProjectID, d.ID+".log")
}

// Archive uploads the sealed logs of d.
func (a *S3) Archive(ctx context.Context, d domain.Deployment) error {
	if !d.Sealed() {
		return fmt.Errorf("archive deployment %s: not sealed", d.ID)
	}
	finished := d.FinishedAt.UTC().Format(time.RFC3339)
	key := a.Key(d)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(d.Logs),
		ContentType: aws.String("text/plain; charset=utf-8"),
		Metadata: map[string]string{
			"deployment-id": d.ID,
			"project-id":    d.ProjectID,
			"status":        d.Status,
			"finished-at":   finished,
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	a.logger.Debug("deployment logs archived", "deployment_id", d.ID, "key", key)
	return nil
}
