package videoapi

import (
	"encoding/json"
	"strings"
	"time"

	"worker-walkthrough/pkg/apperror"
)

const (
	MaxPromptChars = 2500
	MaxImages      = 4
)

type SubmitRequest struct {
	Prompt      string   `json:"prompt"`
	ImageURLs   []string `json:"image_urls"`
	Duration    string   `json:"duration"`
	AspectRatio string   `json:"aspect_ratio"`
}

type JobState string

const (
	StateQueued     JobState = "IN_QUEUE"
	StateInProgress JobState = "IN_PROGRESS"
	StateCompleted  JobState = "COMPLETED"
	StateFailed     JobState = "FAILED"
)

func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type Status struct {
	State JobState
	Error string
}

// Result is the normalized result contract, whichever payload shape the API answered with.
type Result struct {
	VideoURL    string
	ContentType string
	FileSize    int64
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxTries bounds submission attempts, including the first.
	MaxTries         uint
	RetryInterval    time.Duration
	RateLimitBackoff time.Duration
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	Data      *struct {
		RequestID string `json:"request_id"`
	} `json:"data"`
}

type statusResponse struct {
	Status string          `json:"status"`
	Error  json.RawMessage `json:"error"`
	Detail string          `json:"detail"`
}

type videoFile struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size"`
}

type videoPayload struct {
	Video *videoFile `json:"video"`
}

type resultEnvelope struct {
	Video    *videoFile    `json:"video"`
	Data     *videoPayload `json:"data"`
	Response *videoPayload `json:"response"`
}

// DecodeResult accepts the direct form {"video":{...}} and the wrapped forms
// {"data":{"video":{...}}} / {"response":{"video":{...}}}. Any other shape, or a video
// without a URL, is an API_CONTRACT violation.
func DecodeResult(body []byte) (*Result, error) {
	const op = "videoapi.DecodeResult"

	var env resultEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperror.Wrapf(apperror.CodeAPIContract, op, err, "result is not a JSON object")
	}

	var file *videoFile
	switch {
	case env.Video != nil:
		file = env.Video
	case env.Data != nil && env.Data.Video != nil:
		file = env.Data.Video
	case env.Response != nil && env.Response.Video != nil:
		file = env.Response.Video
	default:
		return nil, apperror.New(apperror.CodeAPIContract, op, "result matches neither direct nor wrapped video payload")
	}

	if strings.TrimSpace(file.URL) == "" {
		return nil, apperror.New(apperror.CodeAPIContract, op, "result video has no url")
	}
	return &Result{VideoURL: file.URL, ContentType: file.ContentType, FileSize: file.FileSize}, nil
}

func normalizeState(s string) (JobState, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN_QUEUE", "QUEUED", "PENDING":
		return StateQueued, true
	case "IN_PROGRESS", "PROCESSING", "RUNNING":
		return StateInProgress, true
	case "COMPLETED", "SUCCEEDED", "OK":
		return StateCompleted, true
	case "FAILED", "ERROR", "CANCELLED":
		return StateFailed, true
	}
	return "", false
}

func errorText(raw json.RawMessage, detail string) string {
	if len(raw) == 0 || string(raw) == "null" {
		return detail
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
