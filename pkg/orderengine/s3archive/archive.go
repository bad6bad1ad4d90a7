// Package s3archive stores committed configurations in an S3 bucket.
//
// Every edit-config writes two objects:
//
//	<prefix><datastore>/<txn-id>.xml   immutable revision
//	<prefix><datastore>/latest.xml     copy of the newest revision
package s3archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/netconfd/internal/telemetry"
	"github.com/marmos91/netconfd/pkg/orderengine"
)

const latestObject = "latest.xml"

// Config holds the S3 archive settings.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string `mapstructure:"bucket" validate:"required" yaml:"bucket"`

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint is the S3 endpoint URL, for S3-compatible services.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// KeyPrefix is prepended to every object key. Should end with "/".
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// ForcePathStyle is required for Localstack and MinIO.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// AccessKeyID and SecretAccessKey select static credentials. When empty
	// the SDK default chain is used.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

// Archive implements orderengine.Archive on S3.
type Archive struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

var _ orderengine.Archive = (*Archive)(nil)

// New wraps an existing client.
func New(client *s3.Client, cfg Config) *Archive {
	return &Archive{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}
}

// NewFromConfig builds an S3 client from cfg.
func NewFromConfig(ctx context.Context, cfg Config) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3archive: bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return New(client, cfg), nil
}

// RevisionKey returns the object key of one committed revision.
func (a *Archive) RevisionKey(datastore, txnID string) string {
	return a.keyPrefix + datastore + "/" + txnID + ".xml"
}

func (a *Archive) latestKey(datastore string) string {
	return a.keyPrefix + datastore + "/" + latestObject
}

func (a *Archive) Put(ctx context.Context, datastore, txnID string, config []byte) error {
	key := a.RevisionKey(datastore, txnID)
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanArchivePut, trace.WithAttributes(
		telemetry.Bucket(a.bucket), telemetry.StorageKey(key), telemetry.Datastore(datastore)))
	defer span.End()

	for _, k := range []string{key, a.latestKey(datastore)} {
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(k),
			Body:        bytes.NewReader(config),
			ContentType: aws.String("application/xml"),
		})
		if err != nil {
			telemetry.RecordError(ctx, err)
			return fmt.Errorf("s3 put object %s: %w", k, err)
		}
	}
	return nil
}

func (a *Archive) Latest(ctx context.Context, datastore string) ([]byte, bool, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.latestKey(datastore)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("s3 get object: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("s3 read body: %w", err)
	}
	return data, true, nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}
