// Package s3 provides a document driver over an S3-compatible object store
// (AWS S3 or MinIO). Each aggregate root persists as one JSON object keyed
// collection/id.json.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dataspace/pkg/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Compile-time contract assertion.
var _ domain.Driver = (*Driver)(nil)

const contentTypeJSON = "application/json"

// Driver stores documents as objects in a single bucket.
type Driver struct {
	client *s3.Client
	bucket string
}

// Config holds explicit construction parameters (mostly for tests). For
// prod we rely primarily on environment variables.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional; if set enables custom endpoint (e.g. MinIO)
	AccessKeyID     string // optional (falls back to default credentials chain)
	SecretAccessKey string // optional
	SessionToken    string // optional
	PathStyle       bool
}

// Environment variables (documented in README):
//   DATASPACE_S3_BUCKET=<bucket> (required)
//   DATASPACE_S3_REGION=<region> (default us-east-1)
//   DATASPACE_S3_ENDPOINT=<url> (optional, for MinIO)
//   DATASPACE_S3_PATH_STYLE=true|false (default false)
//   AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// New creates an S3 document driver from Config.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Driver{client: client, bucket: cfg.Bucket}, nil
}

// OpenFromEnv constructs an S3 driver from process environment.
func OpenFromEnv(ctx context.Context) (*Driver, error) {
	bucket := os.Getenv("DATASPACE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("DATASPACE_S3_BUCKET required for s3 driver")
	}
	cfg := Config{
		Bucket:    bucket,
		Region:    os.Getenv("DATASPACE_S3_REGION"),
		Endpoint:  os.Getenv("DATASPACE_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("DATASPACE_S3_PATH_STYLE"), "true"),
	}
	return New(ctx, cfg)
}

func objectKey(collection, id string) string {
	return collection + "/" + id + ".json"
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func (d *Driver) exists(ctx context.Context, key string) (bool, error) {
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &d.bucket, Key: &key})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (d *Driver) put(ctx context.Context, key string, doc map[string]any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ct := contentTypeJSON
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &d.bucket,
		Key:         &key,
		Body:        bytes.NewReader(payload),
		ContentType: &ct,
	})
	return err
}

// BulkWrite applies the batched operations as sequential object writes.
// Object stores have no multi-key batch primitive; the driver keeps the
// single-call contract and fans out internally.
func (d *Driver) BulkWrite(ctx context.Context, collection string, ops []domain.WriteOp) (domain.WriteSummary, error) {
	var summary domain.WriteSummary
	for _, op := range ops {
		key := objectKey(collection, op.ID)
		switch op.Kind {
		case domain.WriteInsertOne:
			// Emulate create-only via Head first.
			exists, err := d.exists(ctx, key)
			if err != nil {
				return summary, err
			}
			if exists {
				return summary, fmt.Errorf("duplicate id %s in collection %s", op.ID, collection)
			}
			if err := d.put(ctx, key, op.Document); err != nil {
				return summary, err
			}
			summary.Inserted++
		case domain.WriteReplaceOne:
			exists, err := d.exists(ctx, key)
			if err != nil {
				return summary, err
			}
			if !exists && !op.Upsert {
				continue
			}
			if err := d.put(ctx, key, op.Document); err != nil {
				return summary, err
			}
			if exists {
				summary.Modified++
			} else {
				summary.Inserted++
			}
		case domain.WriteDeleteOne:
			exists, err := d.exists(ctx, key)
			if err != nil {
				return summary, err
			}
			if !exists {
				continue
			}
			if _, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &d.bucket, Key: &key}); err != nil {
				return summary, err
			}
			summary.Deleted++
		default:
			return summary, fmt.Errorf("unsupported write kind %s", op.Kind)
		}
	}
	return summary, nil
}

// FindOne fetches and decodes the object with the given id.
func (d *Driver) FindOne(ctx context.Context, collection, id string) (map[string]any, bool, error) {
	key := objectKey(collection, id)
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &d.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() { _ = out.Body.Close() }()
	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, err
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return doc, true, nil
}

// Close is a no-op; the underlying client holds no persistent resources.
func (d *Driver) Close() error { return nil }
