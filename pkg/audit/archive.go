package audit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver persists batches of audit events to long-term storage
// before they are purged from the database.
type Archiver interface {
	Archive(ctx context.Context, events []*Event, cutoff time.Time) (string, error)
}

// S3ArchiverConfig configures the S3 archiver
type S3ArchiverConfig struct {
	Bucket string
	Prefix string
	Region string
	Format ExportFormat

	// Endpoint and UsePathStyle support MinIO and other S3-compatible
	// stores. AccessKey/SecretKey override the default credential chain.
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Archiver writes audit event batches to an S3 bucket
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	format ExportFormat
}

// NewS3Archiver creates a new S3-backed audit archiver
func NewS3Archiver(cfg S3ArchiverConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "audit"
	}
	if cfg.Format == "" {
		cfg.Format = ExportFormatNDJSON
	}

	ctx := context.Background()

	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// Use static credentials (for MinIO or AWS with explicit keys)
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		// Use default credential chain (IAM roles, env vars, etc.)
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		format: cfg.Format,
	}, nil
}

// Archive exports the events in the configured format and uploads them
// as a single object. The key encodes the purge cutoff and upload time
// so successive sweeps never collide. Returns the object key.
func (a *S3Archiver) Archive(ctx context.Context, events []*Event, cutoff time.Time) (string, error) {
	if len(events) == 0 {
		return "", nil
	}

	data, err := Export(events, a.format)
	if err != nil {
		return "", fmt.Errorf("failed to export events: %w", err)
	}

	key := a.objectKey(cutoff, time.Now().UTC())

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(a.format)),
		Metadata: map[string]string{
			"event-count": fmt.Sprintf("%d", len(events)),
			"cutoff":      cutoff.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive to s3: %w", err)
	}

	return key, nil
}

// objectKey builds keys like audit/2026/08/25/audit-20260825-153000.ndjson
func (a *S3Archiver) objectKey(cutoff, now time.Time) string {
	return fmt.Sprintf("%s/%s/audit-%s.%s",
		a.prefix,
		cutoff.UTC().Format("2006/01/02"),
		now.Format("20060102-150405"),
		fileExtensionFor(a.format),
	)
}

// HealthCheck verifies the archive bucket is reachable
func (a *S3Archiver) HealthCheck(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func contentTypeFor(format ExportFormat) string {
	switch format {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatJSON:
		return "application/json"
	default:
		return "application/x-ndjson"
	}
}

func fileExtensionFor(format ExportFormat) string {
	switch format {
	case ExportFormatCSV:
		return "csv"
	case ExportFormatJSON:
		return "json"
	default:
		return "ndjson"
	}
}
