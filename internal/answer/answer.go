package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source labels which answerer produced a response.
const (
	SourceBackend = "backend"
	SourceLocal   = "local"
)

// Message is one prior turn forwarded as context.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Context carries the tracker's view of the conversation.
type Context struct {
	IsFollowUp     bool      `json:"isFollowUp"`
	IsExplainAgain bool      `json:"isExplainAgain"`
	CurrentTopic   string    `json:"currentTopic"`
	LastQuestion   string    `json:"lastQuestion"`
	LastResponse   string    `json:"lastResponse"`
	RecentMessages []Message `json:"recentMessages"`
}

// Request is the payload sent to the answering backend.
type Request struct {
	Text    string  `json:"text"`
	Context Context `json:"context"`
}

// Response is the backend's reply.
type Response struct {
	Text    string `json:"text"`
	Emotion string `json:"emotion,omitempty"`
	Source  string `json:"-"`
}

// Answerer produces a reply for a learner message.
type Answerer interface {
	Answer(ctx context.Context, req Request) (Response, error)
}

// Config controls answerer construction.
type Config struct {
	Mode       string
	HTTPURL    string
	Timeout    time.Duration
	MaxRetries int
}

func NewAnswerer(cfg Config) (Answerer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return NewLocalAnswerer(), nil
		}
		return NewFallbackAnswerer(newHTTPFromConfig(cfg), NewLocalAnswerer()), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("answer HTTP url is required for http mode")
		}
		return newHTTPFromConfig(cfg), nil
	case "local":
		return NewLocalAnswerer(), nil
	default:
		return nil, fmt.Errorf("unsupported answer mode %q", cfg.Mode)
	}
}

// Describe names the answerer chain for startup logs, e.g. "http+local".
func Describe(a Answerer) string {
	switch v := a.(type) {
	case nil:
		return "none"
	case *FallbackAnswerer:
		return Describe(v.Primary()) + "+" + Describe(v.Secondary())
	case *HTTPAnswerer:
		return "http"
	case *LocalAnswerer:
		return "local"
	default:
		return fmt.Sprintf("%T", a)
	}
}

func newHTTPFromConfig(cfg Config) *HTTPAnswerer {
	return NewHTTPAnswerer(cfg.HTTPURL,
		WithTimeout(cfg.Timeout),
		WithMaxRetries(cfg.MaxRetries),
	)
}
