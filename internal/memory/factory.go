package memory

import (
	"context"
	"strings"
	"time"
)

// Options selects and tunes the store backend.
type Options struct {
	DatabaseURL   string
	RedisURL      string
	TurnRetention int
	StateTTL      time.Duration
}

// NewStore creates a redis- or postgres-backed store when configured,
// otherwise in-memory. Redis wins when both are set.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	if url := strings.TrimSpace(opts.RedisURL); url != "" {
		store, err := NewRedisStoreFromURL(ctx, url,
			WithTurnRetention(opts.TurnRetention),
			WithStateTTL(opts.StateTTL),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	if url := strings.TrimSpace(opts.DatabaseURL); url != "" {
		store, err := NewPostgresStore(ctx, url, opts.TurnRetention)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return NewInMemoryStore(opts.TurnRetention), nil
}
