package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"worker-walkthrough/pkg/apperror"
)

type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// ObjectStorage is durable storage for images, clips, final videos and thumbnails.
type ObjectStorage interface {
	Put(ctx context.Context, data []byte, objectPath, contentType string) (string, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

type Storage struct {
	client     *minio.Client
	bucket     string
	publicURL  string
	retry      RetryPolicy
	httpClient *http.Client
}

func New(client *minio.Client, bucket, publicURL string, retry RetryPolicy) *Storage {
	if retry.MaxTries == 0 {
		retry.MaxTries = 4
	}
	return &Storage{
		client:     client,
		bucket:     bucket,
		publicURL:  strings.TrimSuffix(publicURL, "/"),
		retry:      retry,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Put uploads data under objectPath and returns its public URL. Object paths are generated with
// unique names by callers, so a retried upload overwrites nothing but itself.
func (s *Storage) Put(ctx context.Context, data []byte, objectPath, contentType string) (string, error) {
	objectPath = strings.TrimPrefix(strings.ReplaceAll(objectPath, "\\", "/"), "/")

	_, err := Retry(ctx, s.retry, "storage.Put", func() (minio.UploadInfo, error) {
		return s.client.PutObject(ctx, s.bucket, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
		})
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("object", objectPath).Msg("failed to upload object")
		return "", apperror.Wrapf(apperror.CodeStorage, "storage.Put", err, "upload %s", objectPath)
	}

	zerolog.Ctx(ctx).Debug().Str("object", objectPath).Int("size_bytes", len(data)).Msg("object uploaded")
	return s.ObjectURL(objectPath), nil
}

// Get downloads an object. URLs pointing into this bucket are read through the MinIO client,
// anything else is fetched over HTTP.
func (s *Storage) Get(ctx context.Context, url string) ([]byte, error) {
	if key, ok := s.ObjectKey(url); ok {
		data, err := Retry(ctx, s.retry, "storage.Get", func() ([]byte, error) {
			obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
			if err != nil {
				return nil, err
			}
			defer obj.Close()
			data, err := io.ReadAll(obj)
			if err != nil && minio.ToErrorResponse(err).Code == "NoSuchKey" {
				return nil, backoff.Permanent(err)
			}
			return data, err
		})
		if err != nil {
			return nil, apperror.Wrapf(apperror.CodeStorage, "storage.Get", err, "download %s", key)
		}
		return data, nil
	}

	data, err := Retry(ctx, s.retry, "storage.Get", func() ([]byte, error) {
		return Download(ctx, s.httpClient, url)
	})
	if err != nil {
		return nil, apperror.Wrapf(apperror.CodeStorage, "storage.Get", err, "download %s", url)
	}
	return data, nil
}

func (s *Storage) ObjectURL(objectPath string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, objectPath)
}

// ObjectKey returns the object key of a URL produced by ObjectURL.
func (s *Storage) ObjectKey(url string) (string, bool) {
	prefix := fmt.Sprintf("%s/%s/", s.publicURL, s.bucket)
	if s.publicURL == "" || !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	return key, key != ""
}

// Download fetches url with a plain GET. 4xx responses are permanent.
func Download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("unexpected status %d downloading %s", resp.StatusCode, url)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}
