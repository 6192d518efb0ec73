// Package storage persists opaque JSON blobs to durable storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	contentTypeJSON   = "application/json"
	defaultPresignTTL = time.Hour
)

var maxObjectSize int64 = 32 << 20

// ErrObjectTooLarge is returned by Get for objects over the read limit.
var ErrObjectTooLarge = errors.New("storage: object exceeds size limit")

// RemoteStore uploads and retrieves blobs addressed by key.
type RemoteStore interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// s3API is the minimal S3 interface required by Client.
// *s3.Client from aws-sdk-go-v2 satisfies this interface.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// presignAPI is satisfied by *s3.PresignClient.
type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Client stores blobs in a single S3 bucket.
type Client struct {
	api     s3API
	presign presignAPI
	bucket  string
}

type Option func(*Client)

// WithPresigner enables PresignGet.
func WithPresigner(p presignAPI) Option {
	return func(c *Client) {
		c.presign = p
	}
}

// New creates a Client for bucket.
func New(api s3API, bucket string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("storage: api must not be nil")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket must not be empty")
	}
	c := &Client{api: api, bucket: bucket}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Put uploads body as a JSON object and returns its s3:// location.
func (c *Client) Put(ctx context.Context, key string, body []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("storage: Put: key is required")
	}
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentTypeJSON),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("storage: Put %q: %w", key, err)
	}
	return c.location(key), nil
}

// Get downloads the object stored at key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("storage: Get: key is required")
	}
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: Get %q: %w", key, err)
	}
	if out == nil || out.Body == nil {
		return nil, fmt.Errorf("storage: Get %q: empty body", key)
	}
	defer func() { _ = out.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("storage: Get %q: read body: %w", key, err)
	}
	if int64(len(buf)) > maxObjectSize {
		return nil, fmt.Errorf("storage: Get %q: %w", key, ErrObjectTooLarge)
	}
	return buf, nil
}

// PresignGet returns a time-limited download URL for key. ttl <= 0 means one
// hour.
func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if c.presign == nil {
		return "", errors.New("storage: presigner not configured")
	}
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("storage: PresignGet %q: %w", key, err)
	}
	return req.URL, nil
}

func (c *Client) location(key string) string {
	return "s3://" + c.bucket + "/" + key
}

// KeyFromLocation returns the object key of an s3:// location.
func KeyFromLocation(loc string) (string, bool) {
	rest, ok := strings.CutPrefix(loc, "s3://")
	if !ok {
		return "", false
	}
	_, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}
