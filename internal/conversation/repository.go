package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/antoniostano/studybuddy/internal/memory"
)

// StateKey is the storage key for a learner's conversation state.
func StateKey(userID string) string {
	return "conversationContext:" + userID
}

// Repository reads and writes State through a blob store.
type Repository struct {
	store       memory.StateStore
	logger      zerolog.Logger
	onMalformed func(key string, err error)
}

func NewRepository(store memory.StateStore, logger zerolog.Logger) *Repository {
	return &Repository{store: store, logger: logger}
}

// SetMalformedHook is called whenever a stored blob is discarded.
func (r *Repository) SetMalformedHook(fn func(key string, err error)) {
	r.onMalformed = fn
}

// Load rehydrates the state under key. Missing and malformed blobs both yield
// an empty state; only store failures are returned.
func (r *Repository) Load(ctx context.Context, key string) (State, error) {
	raw, err := r.store.LoadState(ctx, key)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("load conversation state: %w", err)
	}

	st, err := DecodeState(raw)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("discarding malformed conversation state")
		if r.onMalformed != nil {
			r.onMalformed(key, err)
		}
		return State{}, nil
	}
	return st, nil
}

func (r *Repository) Save(ctx context.Context, key string, st State) error {
	blob, err := EncodeState(st)
	if err != nil {
		return err
	}
	if err := r.store.SaveState(ctx, key, blob); err != nil {
		return fmt.Errorf("save conversation state: %w", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, key string) error {
	if err := r.store.DeleteState(ctx, key); err != nil {
		return fmt.Errorf("delete conversation state: %w", err)
	}
	return nil
}
