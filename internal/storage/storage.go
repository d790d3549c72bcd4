// Package storage provides paginated object listing over the configured
// buckets. Each bucket is backed by either the AWS S3 SDK or the MinIO
// client, selected by its provider field.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Provider names accepted in bucket configuration.
const (
	ProviderS3    = "s3"
	ProviderMinIO = "minio"
)

var (
	// ErrUnknownBucket is returned when a bucket id is not configured.
	ErrUnknownBucket = errors.New("unknown bucket")

	// ErrUnsupportedProvider is returned for a provider other than s3 or minio.
	ErrUnsupportedProvider = errors.New("unsupported storage provider")
)

// Bucket is one configured storage target.
type Bucket struct {
	ID              string `yaml:"id" json:"id"`
	Name            string `yaml:"name" json:"name"`
	BucketName      string `yaml:"bucket_name" json:"bucketName"`
	Provider        string `yaml:"provider" json:"provider"`
	EndpointURL     string `yaml:"endpoint_url" json:"endpointUrl,omitempty"`
	AccessKey       string `yaml:"access_key" json:"-"`
	SecretKey       string `yaml:"secret_key" json:"-"`
	Region          string `yaml:"region" json:"region,omitempty"`
	PathStyleAccess bool   `yaml:"path_style_access" json:"pathStyleAccess"`
}

// Object is a single listed entry.
type Object struct {
	Key  string
	Size int64
}

// Page is one page of a listing. An empty NextToken means the listing is done.
type Page struct {
	Objects   []Object
	NextToken string
}

// Lister fetches one page of objects under prefix, continuing from token.
type Lister interface {
	ListPage(ctx context.Context, prefix, token string, pageSize int) (Page, error)
}

// Error carries the listing context of a backend failure.
type Error struct {
	Op     string
	Bucket string
	Prefix string
	// Code is the backend error code when one was reported.
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("storage.%s bucket %s", e.Op, e.Bucket)
	if e.Prefix != "" {
		msg += " prefix " + e.Prefix
	}
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
