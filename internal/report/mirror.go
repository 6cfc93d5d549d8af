package report

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hochfrequenz/sprint-orch/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Sink receives a copy of every written report
type Sink interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
}

// ObjectStoreSink uploads reports to an S3-compatible bucket
type ObjectStoreSink struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectStoreSink connects to the configured endpoint. The endpoint is
// host[:port] without a scheme.
func NewObjectStoreSink(cfg config.ObjectStoreConfig) (*ObjectStoreSink, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("object store endpoint and bucket are required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return nil, fmt.Errorf("endpoint must not include scheme: %q", cfg.Endpoint)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return &ObjectStoreSink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put uploads data under <prefix>/<name>
func (s *ObjectStoreSink) Put(ctx context.Context, name string, data []byte, contentType string) error {
	key := path.Join(s.prefix, name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
