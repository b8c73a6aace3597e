package videoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"worker-walkthrough/pkg/apperror"
	"worker-walkthrough/pkg/storage"
)

// Generator is the external asynchronous image-to-video API.
type Generator interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Status(ctx context.Context, requestID string) (*Status, error)
	Result(ctx context.Context, requestID string) (*Result, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	if cfg.RateLimitBackoff == 0 {
		cfg.RateLimitBackoff = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Submit queues a generation request and returns its opaque request id without waiting for
// the video. Network failures are retried; rate-limit answers wait RateLimitBackoff first.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	const op = "videoapi.Submit"

	if strings.TrimSpace(req.Prompt) == "" {
		return "", apperror.New(apperror.CodeValidation, op, "prompt is empty")
	}
	if len([]rune(req.Prompt)) > MaxPromptChars {
		return "", apperror.New(apperror.CodeValidation, op, fmt.Sprintf("prompt exceeds %d characters", MaxPromptChars))
	}
	if len(req.ImageURLs) == 0 || len(req.ImageURLs) > MaxImages {
		return "", apperror.New(apperror.CodeValidation, op, fmt.Sprintf("expected 1-%d images, got %d", MaxImages, len(req.ImageURLs)))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", apperror.Wrap(apperror.CodeInternal, op, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInterval
	bo.MaxInterval = 10 * c.cfg.RetryInterval

	requestID, err := backoff.Retry(ctx, func() (string, error) {
		respBody, err := c.do(ctx, http.MethodPost, c.modelURL(), body)
		if err != nil {
			if apperror.Is(err, apperror.CodeRateLimited) {
				return "", &backoff.RetryAfterError{Duration: c.cfg.RateLimitBackoff}
			}
			if apperror.Is(err, apperror.CodeNetwork) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}

		var sr submitResponse
		if err := json.Unmarshal(respBody, &sr); err != nil {
			return "", backoff.Permanent(apperror.Wrapf(apperror.CodeAPIContract, op, err, "submit response is not JSON"))
		}
		id := sr.RequestID
		if id == "" && sr.Data != nil {
			id = sr.Data.RequestID
		}
		if id == "" {
			return "", backoff.Permanent(apperror.New(apperror.CodeAPIContract, op, "submit response has no request_id"))
		}
		return id, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			zerolog.Ctx(ctx).Warn().Err(err).Dur("retry_in", next).Msg("video submission failed. Retrying...")
		}),
	)
	if err != nil {
		var ra *backoff.RetryAfterError
		if errors.As(err, &ra) {
			return "", apperror.New(apperror.CodeRateLimited, op, "video API rate limit reached")
		}
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			err = pe.Unwrap()
		}
		return "", err
	}
	return requestID, nil
}

func (c *Client) Status(ctx context.Context, requestID string) (*Status, error) {
	const op = "videoapi.Status"

	body, err := c.do(ctx, http.MethodGet, c.requestURL(requestID)+"/status", nil)
	if err != nil {
		return nil, err
	}

	var sr statusResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, apperror.Wrapf(apperror.CodeAPIContract, op, err, "status response is not JSON")
	}
	state, ok := normalizeState(sr.Status)
	if !ok {
		return nil, apperror.New(apperror.CodeAPIContract, op, fmt.Sprintf("unknown job state %q", sr.Status))
	}

	status := &Status{State: state}
	if state == StateFailed {
		status.Error = errorText(sr.Error, sr.Detail)
		if status.Error == "" {
			status.Error = "video generation failed"
		}
	}
	return status, nil
}

func (c *Client) Result(ctx context.Context, requestID string) (*Result, error) {
	body, err := c.do(ctx, http.MethodGet, c.requestURL(requestID), nil)
	if err != nil {
		return nil, err
	}
	return DecodeResult(body)
}

func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	data, err := storage.Retry(ctx, storage.RetryPolicy{MaxTries: c.cfg.MaxTries, InitialInterval: c.cfg.RetryInterval}, "videoapi.Download",
		func() ([]byte, error) {
			return storage.Download(ctx, c.httpClient, url)
		})
	if err != nil {
		return nil, apperror.Wrapf(apperror.CodeNetwork, "videoapi.Download", err, "download %s", url)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	const op = "videoapi.request"

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Key "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperror.Wrap(apperror.CodeCancelled, op, ctx.Err())
		}
		return nil, apperror.Wrap(apperror.CodeNetwork, op, fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeNetwork, op, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperror.New(apperror.CodeRateLimited, op, "video API rate limit reached")
	case resp.StatusCode >= 500:
		return nil, apperror.New(apperror.CodeNetwork, op, fmt.Sprintf("video API returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, apperror.New(apperror.CodeValidation, op, fmt.Sprintf("video API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
	return respBody, nil
}

func (c *Client) modelURL() string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + strings.Trim(c.cfg.Model, "/")
}

func (c *Client) requestURL(requestID string) string {
	return c.modelURL() + "/requests/" + requestID
}

var _ Generator = (*Client)(nil)
