package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// DefaultHistoryLimit bounds the turns kept in State.History.
const DefaultHistoryLimit = 10

// Persister stores a conversation state under a key.
type Persister interface {
	Save(ctx context.Context, key string, st State) error
}

// Tracker classifies learner messages and carries the active topic across
// turns. It holds no conversation state of its own: every operation takes a
// State and returns the updated one.
type Tracker struct {
	rules        RuleSet
	resolvers    []Resolver
	historyLimit int
	persister    Persister
	logger       zerolog.Logger
	now          func() time.Time
	onPersistErr func(error)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRules replaces the built-in rule table.
func WithRules(rs RuleSet) Option {
	return func(t *Tracker) { t.rules = rs }
}

// WithHistoryLimit sets how many turns State.History retains.
func WithHistoryLimit(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.historyLimit = n
		}
	}
}

// WithPersister makes RecordTurn write the updated state.
func WithPersister(p Persister) Option {
	return func(t *Tracker) { t.persister = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithPersistErrorHook is called for every failed state write.
func WithPersistErrorHook(fn func(error)) Option {
	return func(t *Tracker) { t.onPersistErr = fn }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		rules:        DefaultRules(),
		historyLimit: DefaultHistoryLimit,
		logger:       zerolog.Nop(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	t.resolvers = DefaultResolvers(t.rules)
	return t
}

// Rules exposes the active rule table.
func (t *Tracker) Rules() RuleSet { return t.rules }

// HistoryLimit reports the retention applied by RecordTurn.
func (t *Tracker) HistoryLimit() int { return t.historyLimit }

// Classify tags a single message; it does not look at accumulated state.
func (t *Tracker) Classify(text string) Classification {
	return t.rules.Classify(text)
}

// ResolveTopic decides which topic the message refers to. For follow-ups it
// never returns an empty string.
func (t *Tracker) ResolveTopic(c Classification, text string, st State) string {
	if c.IsNewTopic() {
		text = strings.TrimSpace(text)
		if utf8.RuneCountInString(text) > minTopicLen {
			return text
		}
		return st.CurrentTopic
	}

	if topic := strings.TrimSpace(st.CurrentTopic); topic != "" {
		return topic
	}
	for _, resolve := range t.resolvers {
		if topic, ok := resolve(st); ok && topic != "" {
			return topic
		}
	}
	return DefaultTopic
}

// BuildOutgoingMessage prefixes follow-ups with the topic they refer to.
func (t *Tracker) BuildOutgoingMessage(text, topic string, c Classification) string {
	if c.IsNewTopic() || topic == "" {
		return text
	}
	return fmt.Sprintf("Regarding %s: %s", topic, text)
}

// RecordTurn appends a turn, trims history and persists the result under key.
// A failed write is logged; the returned state still carries the new turn.
func (t *Tracker) RecordTurn(ctx context.Context, key string, st State, role Role, text string) State {
	next := st.Clone()
	next.History = append(next.History, Turn{
		Role:      role,
		Text:      text,
		Timestamp: t.now(),
	})
	if over := len(next.History) - t.historyLimit; over > 0 {
		next.History = append([]Turn(nil), next.History[over:]...)
	}

	switch role {
	case RoleAssistant:
		next.LastResponse = text
	case RoleUser:
		next.LastQuestion = text
	}

	t.persist(ctx, key, next)
	return next
}

// UpdateTopicAfterResponse replaces the topic only for new-topic messages.
func (t *Tracker) UpdateTopicAfterResponse(st State, c Classification, text string) State {
	prior := st.CurrentTopic
	text = strings.TrimSpace(text)
	if c.IsNewTopic() && utf8.RuneCountInString(text) > minTopicLen {
		st.CurrentTopic = text
		return st
	}
	st.CurrentTopic = prior
	return st
}

func (t *Tracker) persist(ctx context.Context, key string, st State) {
	if t.persister == nil || key == "" {
		return
	}
	if err := t.persister.Save(ctx, key, st); err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("persist conversation state failed")
		if t.onPersistErr != nil {
			t.onPersistErr(err)
		}
	}
}
