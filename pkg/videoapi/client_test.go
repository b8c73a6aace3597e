package videoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-walkthrough/pkg/apperror"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		APIKey:           "fal-key",
		BaseURL:          url,
		Model:            "kling/image-to-video",
		Timeout:          time.Second,
		MaxTries:         3,
		RetryInterval:    time.Millisecond,
		RateLimitBackoff: time.Millisecond,
	})
}

func TestDecodeResult(t *testing.T) {
	test := []struct {
		name    string
		body    string
		expURL  string
		expCode apperror.Code
	}{
		{name: "direct", body: `{"video":{"url":"https://v/1.mp4","content_type":"video/mp4","file_size":42}}`, expURL: "https://v/1.mp4"},
		{name: "data wrapped", body: `{"data":{"video":{"url":"https://v/2.mp4"}}}`, expURL: "https://v/2.mp4"},
		{name: "response wrapped", body: `{"response":{"video":{"url":"https://v/3.mp4"}}}`, expURL: "https://v/3.mp4"},
		{name: "missing url", body: `{"video":{"content_type":"video/mp4"}}`, expCode: apperror.CodeAPIContract},
		{name: "unknown shape", body: `{"output":"https://v/4.mp4"}`, expCode: apperror.CodeAPIContract},
		{name: "not json", body: `<html>`, expCode: apperror.CodeAPIContract},
	}
	for _, tt := range test {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DecodeResult([]byte(tt.body))
			if tt.expCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.expCode, apperror.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expURL, res.VideoURL)
		})
	}
}

func TestClient_Submit(t *testing.T) {
	valid := SubmitRequest{Prompt: "Slow dolly through the kitchen", ImageURLs: []string{"https://i/1.jpg"}, Duration: "5", AspectRatio: "9:16"}

	t.Run("returns request id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/kling/image-to-video", r.URL.Path)
			assert.Equal(t, "Key fal-key", r.Header.Get("Authorization"))

			var req SubmitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, valid.ImageURLs, req.ImageURLs)
			_, _ = w.Write([]byte(`{"request_id":"req-1"}`))
		}))
		defer srv.Close()

		id, err := newTestClient(srv.URL).Submit(context.Background(), valid)
		require.NoError(t, err)
		assert.Equal(t, "req-1", id)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"data":{"request_id":"req-2"}}`))
		}))
		defer srv.Close()

		id, err := newTestClient(srv.URL).Submit(context.Background(), valid)
		require.NoError(t, err)
		assert.Equal(t, "req-2", id)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("rate limited after budget", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Submit(context.Background(), valid)
		require.Error(t, err)
		assert.Equal(t, apperror.CodeRateLimited, apperror.CodeOf(err))
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("client error is not retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":"bad image"}`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Submit(context.Background(), valid)
		require.Error(t, err)
		assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("validates input before calling", func(t *testing.T) {
		c := newTestClient("http://127.0.0.1:0")

		_, err := c.Submit(context.Background(), SubmitRequest{Prompt: "x"})
		assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))

		_, err = c.Submit(context.Background(), SubmitRequest{Prompt: "x", ImageURLs: []string{"1", "2", "3", "4", "5"}})
		assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))

		_, err = c.Submit(context.Background(), SubmitRequest{Prompt: strings.Repeat("a", MaxPromptChars+1), ImageURLs: []string{"1"}})
		assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
	})

	t.Run("missing request id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Submit(context.Background(), valid)
		assert.Equal(t, apperror.CodeAPIContract, apperror.CodeOf(err))
	})
}

func TestClient_StatusAndResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kling/image-to-video/requests/done/status":
			_, _ = w.Write([]byte(`{"status":"COMPLETED"}`))
		case "/kling/image-to-video/requests/queued/status":
			_, _ = w.Write([]byte(`{"status":"in_queue"}`))
		case "/kling/image-to-video/requests/broken/status":
			_, _ = w.Write([]byte(`{"status":"FAILED","error":{"message":"content policy"}}`))
		case "/kling/image-to-video/requests/weird/status":
			_, _ = w.Write([]byte(`{"status":"EXPLODED"}`))
		case "/kling/image-to-video/requests/done":
			_, _ = w.Write([]byte(`{"response":{"video":{"url":"https://v/done.mp4"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)
	ctx := context.Background()

	st, err := c.Status(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, st.State)
	assert.True(t, st.State.Terminal())

	st, err = c.Status(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, StateQueued, st.State)
	assert.False(t, st.State.Terminal())

	st, err = c.Status(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "content policy", st.Error)

	_, err = c.Status(ctx, "weird")
	assert.Equal(t, apperror.CodeAPIContract, apperror.CodeOf(err))

	res, err := c.Result(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, "https://v/done.mp4", res.VideoURL)
}

func TestClient_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	data, err := newTestClient(srv.URL).Download(context.Background(), srv.URL+"/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-bytes"), data)
}
