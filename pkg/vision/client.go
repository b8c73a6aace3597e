package vision

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

	"worker-walkthrough/constant"
	"worker-walkthrough/pkg/apperror"
	"worker-walkthrough/pkg/batch"
)

// Classifier labels one publicly reachable photograph with a room category.
type Classifier interface {
	Classify(ctx context.Context, imageURL string) (*Classification, error)
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	defaults := NewConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

// Classify sends the photograph to the model and validates its answer. Transient failures and
// malformed answers are retried with exponential backoff; a rate-limit response is returned
// immediately with code RATE_LIMITED so the caller can apply its own cooldown.
func (c *Client) Classify(ctx context.Context, imageURL string) (*Classification, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = c.cfg.MaxDelay

	operation := func() (*Classification, error) {
		result, err := c.classifyOnce(ctx, imageURL)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(apperror.Wrap(apperror.CodeCancelled, "vision.Classify", ctx.Err()))
		}
		switch apperror.CodeOf(err) {
		case apperror.CodeRateLimited, apperror.CodeValidation:
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("image_url", imageURL).Dur("retry_in", next).Msg("classification failed. Retrying...")
		}),
	)
	if err != nil {
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			err = pe.Unwrap()
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) classifyOnce(ctx context.Context, imageURL string) (*Classification, error) {
	const op = "vision.Classify"

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqBody := openAIRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages: []openAIMessage{
			{
				Role: "user",
				Content: []openAIContentPart{
					{Type: "text", Text: Prompt()},
					{Type: "image_url", ImageURL: &openAIImageURL{URL: imageURL, Detail: "low"}},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, op, fmt.Errorf("failed to marshal request: %w", err))
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, apperror.Wrapf(apperror.CodeTimeout, op, err, "no answer within %s", c.cfg.Timeout)
		}
		return nil, apperror.Wrap(apperror.CodeNetwork, op, fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeNetwork, op, fmt.Errorf("failed to read response: %w", err))
	}

	var openAIResp openAIResponse
	decodeErr := json.Unmarshal(body, &openAIResp)

	if resp.StatusCode == http.StatusTooManyRequests ||
		(openAIResp.Error != nil && (openAIResp.Error.Type == "rate_limit_exceeded" || openAIResp.Error.Code == "rate_limit_exceeded")) {
		return nil, apperror.New(apperror.CodeRateLimited, op, "vision API rate limit reached")
	}
	if resp.StatusCode >= 500 {
		return nil, apperror.New(apperror.CodeNetwork, op, fmt.Sprintf("vision API returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("vision API returned status %d", resp.StatusCode)
		if openAIResp.Error != nil {
			msg = fmt.Sprintf("%s: %s", msg, openAIResp.Error.Message)
		}
		// Client errors will not improve with retries.
		return nil, apperror.New(apperror.CodeValidation, op, msg)
	}
	if decodeErr != nil {
		return nil, apperror.Wrap(apperror.CodeInvalidResponse, op, fmt.Errorf("failed to unmarshal response: %w", decodeErr))
	}
	if openAIResp.Error != nil {
		return nil, apperror.New(apperror.CodeNetwork, op, fmt.Sprintf("vision API error: %s", openAIResp.Error.Message))
	}
	if len(openAIResp.Choices) == 0 {
		return nil, apperror.New(apperror.CodeInvalidResponse, op, "no choices in vision API response")
	}

	return ParseClassification(openAIResp.Choices[0].Message.Content)
}

// ClassifyBatch classifies every URL with bounded concurrency. Individual failures are
// recorded in their result and do not stop the batch.
func ClassifyBatch(ctx context.Context, c Classifier, imageURLs []string, concurrency int, onProgress batch.ProgressFunc[*Classification]) []batch.Result[*Classification] {
	return batch.Run(ctx, imageURLs, concurrency, func(ctx context.Context, _ int, url string) (*Classification, error) {
		return c.Classify(ctx, url)
	}, onProgress)
}

var _ Classifier = (*Client)(nil)

func knownCategories() string {
	cats := constant.ClassifiableCategories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
