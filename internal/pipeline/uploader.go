package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
)

// Uploader writes a formatted document to a caller-provided location.
type Uploader interface {
	Upload(ctx context.Context, target string, data []byte, contentType string) error
}

// ValidateBlobURL accepts an https (or http) SAS URL carrying a signature,
// or an s3://bucket/key URL.
func ValidateBlobURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return invalidInput("invalid target blob url")
	}
	switch u.Scheme {
	case "https", "http":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return invalidInput("target blob url must name a container and blob")
		}
		if u.Query().Get("sig") == "" {
			return invalidInput("target blob url has no SAS signature")
		}
	case "s3":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return invalidInput("target blob url must be s3://bucket/key")
		}
	default:
		return invalidInput("unsupported target blob url scheme %q", u.Scheme)
	}
	return nil
}

// BlobUploader uploads to SAS URLs over plain HTTP and to s3:// URLs through
// an S3-compatible client. A nil S3 client rejects s3:// targets.
type BlobUploader struct {
	client   *http.Client
	s3       *minio.Client
	maxTries uint
}

func NewBlobUploader(client *http.Client, s3 *minio.Client) *BlobUploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &BlobUploader{client: client, s3: s3, maxTries: 3}
}

func (u *BlobUploader) Upload(ctx context.Context, target string, data []byte, contentType string) error {
	if err := ValidateBlobURL(target); err != nil {
		return err
	}
	parsed, _ := url.Parse(target)
	if parsed.Scheme == "s3" {
		return u.putObject(ctx, parsed, data, contentType)
	}
	return u.putSAS(ctx, target, data, contentType)
}

func (u *BlobUploader) putSAS(ctx context.Context, target string, data []byte, contentType string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
		if err != nil {
			return struct{}{}, backoff.Permanent(invalidInput("invalid target blob url"))
		}
		req.Header.Set("x-ms-blob-type", "BlockBlob")
		req.Header.Set("Content-Type", contentType)
		req.ContentLength = int64(len(data))

		resp, err := u.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			httpErr := &HTTPError{StatusCode: resp.StatusCode, URL: target}
			if !httpErr.Retryable() {
				return struct{}{}, backoff.Permanent(httpErr)
			}
			return struct{}{}, httpErr
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(u.maxTries))
	return err
}

func (u *BlobUploader) putObject(ctx context.Context, target *url.URL, data []byte, contentType string) error {
	if u.s3 == nil {
		return invalidInput("s3 uploads are not configured")
	}
	key := strings.TrimPrefix(target.Path, "/")
	_, err := u.s3.PutObject(ctx, target.Host, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload to s3://%s/%s: %w", target.Host, key, err)
	}
	return nil
}
