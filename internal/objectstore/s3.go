package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// deleteBatchSize is the DeleteObjects per-request key limit.
const deleteBatchSize = 1000

// S3Storage stores objects in an S3 compatible bucket.
type S3Storage struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3Storage loads the AWS configuration and creates the bucket client.
// Static credentials and a custom endpoint are used when configured, which is
// how MinIO and other S3 compatible services are reached.
func NewS3Storage(ctx context.Context, cfg Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
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

	return &S3Storage{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: s3BaseURL(cfg),
	}, nil
}

func s3BaseURL(cfg Config) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	case cfg.Endpoint != "":
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}

// Upload puts the object and returns its URL.
func (s *S3Storage) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("s3 upload of %s failed: %w", key, err)
	}

	return s.baseURL + "/" + key, nil
}

// Delete removes keys with DeleteObjects, batching at the service limit.
func (s *S3Storage) Delete(ctx context.Context, keys ...string) DeleteResult {
	result := DeleteResult{Deleted: []string{}, Errors: []DeleteError{}}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		batch := keys[start:end]

		objects := make([]types.ObjectIdentifier, len(batch))
		for i, key := range batch {
			objects[i] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(false)},
		})
		if err != nil {
			for _, key := range batch {
				result.Errors = append(result.Errors, DeleteError{Key: key, Error: err.Error()})
			}
			continue
		}

		for _, d := range out.Deleted {
			result.Deleted = append(result.Deleted, aws.ToString(d.Key))
		}
		for _, e := range out.Errors {
			result.Errors = append(result.Errors, DeleteError{
				Key:   aws.ToString(e.Key),
				Error: fmt.Sprintf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message)),
			})
		}
	}

	return result
}
