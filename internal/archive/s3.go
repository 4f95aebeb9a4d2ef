// Package archive uploads completed validation reports to S3. Archival is
// optional and best-effort: a failed upload never fails the job.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Putter is the slice of the S3 client the archiver needs.
type S3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes completed, merged validation reports to an S3 bucket.
type Archiver struct {
	client S3Putter
	bucket string
}

// NewArchiver creates an S3-backed archiver. An empty profile uses the
// default credential chain (IAM role on ECS).
func NewArchiver(ctx context.Context, bucket, region, profile string) (*Archiver, error) {
	var cfg aws.Config
	var err error

	if profile != "" {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Archiver{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// NewArchiverWithClient creates an archiver with a caller-supplied S3
// client. Used by tests.
func NewArchiverWithClient(client S3Putter, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket}
}

// SaveReport uploads a merged report as JSON under
// reports/<userId>/<listId>.json.
func (a *Archiver) SaveReport(ctx context.Context, userID, listID string, report interface{}) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	key := fmt.Sprintf("reports/%s/%s.json", userID, listID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading report to s3://%s/%s: %w", a.bucket, key, err)
	}

	return nil
}
