package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/evalops/evalboard/pkg/config"
)

// s3Writer implements Writer for S3-compatible storage.
type s3Writer struct {
	log    logrus.FieldLogger
	cfg    *config.S3ExportConfig
	client *s3.Client
}

var _ Writer = (*s3Writer)(nil)

// NewS3Writer creates a Writer that stores snapshot objects in an S3 bucket.
func NewS3Writer(
	log logrus.FieldLogger,
	cfg *config.S3ExportConfig,
) Writer {
	return &s3Writer{
		log:    log.WithField("component", "s3-export"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

// newS3Client builds an S3 client from the export configuration.
func newS3Client(cfg *config.S3ExportConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight verifies S3 connectivity by writing a small test object.
func (w *s3Writer) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("evalboard write test: %s",
		time.Now().UTC().Format(time.RFC3339))

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.Bucket),
		Key:         aws.String(w.resolveKey(".evalboard-write-test")),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", w.cfg.Bucket, err)
	}

	return nil
}

// Write stores data under the configured prefix.
func (w *s3Writer) Write(
	ctx context.Context, key string, data []byte,
) error {
	fullKey := w.resolveKey(key)

	w.log.WithFields(logrus.Fields{
		"key":    fullKey,
		"bucket": w.cfg.Bucket,
	}).Debug("Uploading snapshot object")

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.Bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("PutObject %s: %w", fullKey, err)
	}

	return nil
}

// resolveKey prepends the configured prefix, if any.
func (w *s3Writer) resolveKey(key string) string {
	prefix := strings.TrimRight(w.cfg.Prefix, "/")
	if prefix == "" {
		return key
	}

	return prefix + "/" + key
}
