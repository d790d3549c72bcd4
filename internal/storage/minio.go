package storage

import (
	"context"
	"fmt"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioAPI interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

var _ minioAPI = (*minio.Client)(nil)

// MinIOLister lists objects through minio-go. The continuation token is the
// last key of the previous page, passed to the server as StartAfter.
type MinIOLister struct {
	client minioAPI
	bucket string
}

// NewMinIOLister builds a MinIO client for the bucket. EndpointURL may carry
// an http or https scheme; https enables TLS.
func NewMinIOLister(b Bucket) (*MinIOLister, error) {
	host, secure, err := splitEndpoint(b.EndpointURL)
	if err != nil {
		return nil, err
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(b.AccessKey, b.SecretKey, ""),
		Secure: secure,
		Region: b.Region,
	}
	if b.PathStyleAccess {
		opts.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(host, opts)
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return newMinIOListerWithClient(client, b.BucketName), nil
}

func newMinIOListerWithClient(client minioAPI, bucket string) *MinIOLister {
	return &MinIOLister{client: client, bucket: bucket}
}

func splitEndpoint(endpoint string) (host string, secure bool, err error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("minio bucket requires endpoint_url")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		// Bare host:port.
		return endpoint, false, nil //nolint:nilerr
	}
	return u.Host, u.Scheme == "https", nil
}

// ListPage reads up to pageSize objects. One extra entry is read to decide
// whether another page exists; the listing is then abandoned.
func (l *MinIOLister) ListPage(ctx context.Context, prefix, token string, pageSize int) (Page, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := l.client.ListObjects(ctx, l.bucket, minio.ListObjectsOptions{
		Prefix:     prefix,
		Recursive:  true,
		StartAfter: token,
		MaxKeys:    pageSize,
	})

	page := Page{Objects: make([]Object, 0, pageSize)}
	for info := range ch {
		if info.Err != nil {
			serr := &Error{Op: "list", Bucket: l.bucket, Prefix: prefix, Err: info.Err}
			if resp := minio.ToErrorResponse(info.Err); resp.Code != "" {
				serr.Code = resp.Code
			}
			return Page{}, serr
		}
		if len(page.Objects) == pageSize {
			page.NextToken = page.Objects[pageSize-1].Key
			break
		}
		page.Objects = append(page.Objects, Object{Key: info.Key, Size: info.Size})
	}
	return page, nil
}
