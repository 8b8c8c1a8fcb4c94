// Package storage uploads document artifacts to S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectExists is returned by Put when noOverwrite is set and the key is
// already taken.
var ErrObjectExists = errors.New("object already exists")

// Object identifies a stored object and the URL it can be fetched from.
type Object struct {
	Key string
	URL string
}

// ObjectStore provides access to object storage.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, noOverwrite bool) (Object, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// MinioConfig configures a MinioStore. PublicBaseURL overrides the host used
// in returned object URLs, e.g. a CDN in front of the bucket.
type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("minio endpoint and bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	publicBase := strings.TrimSpace(cfg.PublicBaseURL)
	if publicBase == "" {
		publicBase = client.EndpointURL().String() + "/" + cfg.Bucket
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, publicBase: publicBase}, nil
}

// Put uploads an object. With noOverwrite the upload is conditional on the
// key being absent (If-None-Match: *), and an existing object is reported as
// ErrObjectExists instead of being replaced. The key is also probed first so
// multipart uploads, where the condition is not checked, fail early.
func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, noOverwrite bool) (Object, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if noOverwrite {
		_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
		if err == nil {
			return Object{}, fmt.Errorf("%w: %s", ErrObjectExists, key)
		}
		if code := minio.ToErrorResponse(err).Code; code != "NoSuchKey" && code != "NotFound" {
			return Object{}, fmt.Errorf("stat object: %w", err)
		}
		opts.SetMatchETagExcept("*")
	}
	if _, err := m.client.PutObject(ctx, m.bucket, key, r, size, opts); err != nil {
		if noOverwrite && minio.ToErrorResponse(err).Code == "PreconditionFailed" {
			return Object{}, fmt.Errorf("%w: %s", ErrObjectExists, key)
		}
		return Object{}, fmt.Errorf("put object: %w", err)
	}
	return Object{Key: key, URL: objectURL(m.publicBase, key)}, nil
}

// PresignGet generates a pre-signed GET URL.
func (m *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}

// Delete removes an object.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// objectURL joins base and an object key, escaping each key segment.
func objectURL(base, key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}
