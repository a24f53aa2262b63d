package persist

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vango-dev/swr/pkg/swr"
)

// S3Persister stores entries as objects in an S3 bucket, so a fleet of
// processes can share one warm cache.
//
// Example:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	p := persist.NewS3(s3.NewFromConfig(cfg), "my-bucket", "swr/")
type S3Persister struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates a persister writing to bucket under prefix (e.g.
// "swr/"; may be empty).
func NewS3(client *s3.Client, bucket, prefix string) *S3Persister {
	return &S3Persister{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (p *S3Persister) path(key swr.Key) string {
	return p.prefix + objectKey(key)
}

func (p *S3Persister) Save(ctx context.Context, key swr.Key, data []byte) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.path(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (p *S3Persister) Load(ctx context.Context, key swr.Key) ([]byte, bool, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.path(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (p *S3Persister) Delete(ctx context.Context, key swr.Key) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.path(key)),
	})
	return err
}
