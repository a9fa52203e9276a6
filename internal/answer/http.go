package answer

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

	"github.com/antoniostano/studybuddy/internal/reliability"
)

const (
	defaultHTTPTimeout = 5 * time.Second
	retryBaseDelay     = 150 * time.Millisecond
	retryMaxDelay      = time.Second
)

// HTTPAnswerer forwards requests to the AI backend over HTTP.
type HTTPAnswerer struct {
	url        string
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	sleep      func(context.Context, time.Duration) error
}

// HTTPOption configures an HTTPAnswerer.
type HTTPOption func(*HTTPAnswerer)

// WithTimeout bounds each backend call, retries included.
func WithTimeout(d time.Duration) HTTPOption {
	return func(a *HTTPAnswerer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a retryable status is retried.
func WithMaxRetries(n int) HTTPOption {
	return func(a *HTTPAnswerer) {
		if n >= 0 {
			a.maxRetries = n
		}
	}
}

// WithHTTPClient swaps the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(a *HTTPAnswerer) {
		if c != nil {
			a.client = c
		}
	}
}

func NewHTTPAnswerer(url string, opts ...HTTPOption) *HTTPAnswerer {
	a := &HTTPAnswerer{
		url:        strings.TrimSpace(url),
		client:     &http.Client{},
		timeout:    defaultHTTPTimeout,
		maxRetries: 1,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// statusError is a non-2xx reply from the backend.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("answer backend http status %d: %s", e.code, e.body)
}

func (a *HTTPAnswerer) Answer(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		resp, err := a.do(ctx, payload)
		if err == nil {
			return resp, nil
		}
		var se *statusError
		if !errors.As(err, &se) || !reliability.IsRetryableHTTPStatus(se.code) || attempt >= a.maxRetries {
			return Response{}, err
		}
		if err := a.sleep(ctx, reliability.ExponentialBackoff(attempt, retryBaseDelay, retryMaxDelay)); err != nil {
			return Response{}, fmt.Errorf("retry wait: %w", err)
		}
	}
}

func (a *HTTPAnswerer) do(ctx context.Context, payload []byte) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &statusError{code: res.StatusCode, body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		text := strings.TrimSpace(string(body))
		if text == "" {
			return Response{}, fmt.Errorf("empty response body")
		}
		return Response{Text: text, Source: SourceBackend}, nil
	}

	text := strings.TrimSpace(extractText(obj))
	if text == "" {
		return Response{}, fmt.Errorf("response has no text")
	}
	emotion, _ := obj["emotion"].(string)
	return Response{Text: text, Emotion: emotion, Source: SourceBackend}, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "response", "message", "output"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
