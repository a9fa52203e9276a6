package memory

import (
	"context"
	"errors"
	"time"
)

// DefaultTurnRetention is how many turns the turn log keeps per learner.
const DefaultTurnRetention = 50

// ErrNotFound is returned when a state key has never been written.
var ErrNotFound = errors.New("memory: key not found")

// TurnRecord stores a single user or assistant conversational turn.
type TurnRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// StateStore keeps opaque conversation-state blobs under string keys.
type StateStore interface {
	LoadState(ctx context.Context, key string) ([]byte, error)
	SaveState(ctx context.Context, key string, blob []byte) error
	DeleteState(ctx context.Context, key string) error
}

// TurnLog is the bounded long-term transcript per learner. RecentContext
// returns the newest limit turns oldest first; limit <= 0 means every
// retained turn.
type TurnLog interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentContext(ctx context.Context, userID string, limit int) ([]TurnRecord, error)
}

// Store persists conversation state and the turn log.
type Store interface {
	StateStore
	TurnLog
	Mode() string
	Close() error
}
