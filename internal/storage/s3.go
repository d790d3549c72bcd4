package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const defaultRegion = "us-east-1"

// s3API is the subset of the S3 client used for listing.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ s3API = (*s3.Client)(nil)

// S3Lister lists objects through the AWS SDK.
type S3Lister struct {
	client s3API
	bucket string
}

// NewS3Lister builds an S3 client for the bucket. Static credentials are
// used when an access key is configured, otherwise the default chain applies.
func NewS3Lister(ctx context.Context, b Bucket) (*S3Lister, error) {
	region := b.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if b.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.AccessKey, b.SecretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if b.EndpointURL != "" {
			o.BaseEndpoint = aws.String(b.EndpointURL)
		}
		o.UsePathStyle = b.PathStyleAccess
	})
	return newS3ListerWithClient(client, b.BucketName), nil
}

func newS3ListerWithClient(client s3API, bucket string) *S3Lister {
	return &S3Lister{client: client, bucket: bucket}
}

// ListPage issues a single ListObjectsV2 request.
func (l *S3Lister) ListPage(ctx context.Context, prefix, token string, pageSize int) (Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(l.bucket),
		MaxKeys: aws.Int32(int32(pageSize)), //nolint:gosec // page size is a small constant
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}

	out, err := l.client.ListObjectsV2(ctx, input)
	if err != nil {
		serr := &Error{Op: "list", Bucket: l.bucket, Prefix: prefix, Err: err}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			serr.Code = apiErr.ErrorCode()
		}
		return Page{}, serr
	}

	page := Page{Objects: make([]Object, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, Object{
			Key:  aws.ToString(obj.Key),
			Size: aws.ToInt64(obj.Size),
		})
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}
