package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/antoniostano/studybuddy/internal/answer"
	"github.com/antoniostano/studybuddy/internal/conversation"
	"github.com/antoniostano/studybuddy/internal/memory"
	"github.com/antoniostano/studybuddy/internal/observability"
	"github.com/antoniostano/studybuddy/internal/policy"
	"github.com/antoniostano/studybuddy/internal/session"
)

// ErrEmptyMessage is returned for blank learner input.
var ErrEmptyMessage = errors.New("message text is empty")

const (
	turnLogTimeout = 2 * time.Second
	maxMessageLen  = 4000
)

// Reply is the outcome of one learner turn.
type Reply struct {
	TurnID         string            `json:"turn_id"`
	Text           string            `json:"text"`
	Emotion        string            `json:"emotion,omitempty"`
	Source         string            `json:"source"`
	Classification conversation.Kind `json:"classification"`
	Topic          string            `json:"topic"`
	CurrentTopic   string            `json:"current_topic"`
	OutgoingText   string            `json:"outgoing_text"`
}

// Config tunes a Service.
type Config struct {
	AnswerTimeout time.Duration
}

// Service runs the per-turn chain: classify, resolve the topic, ask the
// backend, record both turns and persist.
type Service struct {
	tracker  *conversation.Tracker
	repo     *conversation.Repository
	turns    memory.TurnLog
	answerer answer.Answerer
	local    answer.Answerer
	sessions *session.Manager
	metrics  *observability.Metrics
	logger   zerolog.Logger
	cfg      Config

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is dropped from the map once no caller holds or waits on it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(
	tracker *conversation.Tracker,
	repo *conversation.Repository,
	turns memory.TurnLog,
	answerer answer.Answerer,
	sessions *session.Manager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	cfg Config,
) *Service {
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = 8 * time.Second
	}
	return &Service{
		tracker:  tracker,
		repo:     repo,
		turns:    turns,
		answerer: answerer,
		local:    answer.NewLocalAnswerer(),
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		locks:    make(map[string]*keyLock),
	}
}

// HandleMessage processes one learner message for sess. Backend failures
// never surface: the reply falls back to locally generated text.
func (s *Service) HandleMessage(ctx context.Context, sess *session.Session, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		text = string([]rune(text)[:maxMessageLen])
	}

	key := conversation.StateKey(sess.UserID)
	unlock := s.lockKey(key)
	defer unlock()

	st, err := s.repo.Load(ctx, key)
	if err != nil {
		// A broken store should not block the learner; carry on with empty context.
		s.logger.Warn().Err(err).Str("key", key).Msg("load conversation state failed")
		s.metrics.StateErrors.WithLabelValues("load").Inc()
		st = conversation.State{}
	}

	c := s.tracker.Classify(text)
	topic := s.tracker.ResolveTopic(c, text, st)
	outgoing := s.tracker.BuildOutgoingMessage(text, topic, c)
	s.metrics.TurnClassifications.WithLabelValues(string(c.Kind())).Inc()

	turnID := uuid.NewString()
	log := s.logger.With().
		Str("session_id", sess.ID).
		Str("turn_id", turnID).
		Str("kind", string(c.Kind())).
		Logger()

	req := answer.Request{
		Text: outgoing,
		Context: answer.Context{
			IsFollowUp:     c.FollowUp,
			IsExplainAgain: c.ExplainAgain,
			CurrentTopic:   topic,
			LastQuestion:   st.LastQuestion,
			LastResponse:   st.LastResponse,
			RecentMessages: recentMessages(st.History),
		},
	}
	resp := s.answer(ctx, log, req)
	s.metrics.AnswerSources.WithLabelValues(resp.Source).Inc()

	st = s.tracker.RecordTurn(ctx, key, st, conversation.RoleUser, text)
	st = s.tracker.RecordTurn(ctx, key, st, conversation.RoleAssistant, resp.Text)
	prevTopic := st.CurrentTopic
	st = s.tracker.UpdateTopicAfterResponse(st, c, text)
	if st.CurrentTopic != prevTopic {
		if err := s.repo.Save(ctx, key, st); err != nil {
			log.Warn().Err(err).Msg("persist topic failed")
			s.metrics.StateErrors.WithLabelValues("save").Inc()
		}
	}

	s.logTurn(sess, conversation.RoleUser, text)
	s.logTurn(sess, conversation.RoleAssistant, resp.Text)
	if s.sessions != nil {
		if err := s.sessions.RecordTurn(sess.ID); err != nil {
			log.Debug().Err(err).Msg("session turn count not recorded")
		}
	}

	log.Debug().Str("topic", topic).Str("source", resp.Source).Msg("turn complete")

	return Reply{
		TurnID:         turnID,
		Text:           resp.Text,
		Emotion:        resp.Emotion,
		Source:         resp.Source,
		Classification: c.Kind(),
		Topic:          topic,
		CurrentTopic:   st.CurrentTopic,
		OutgoingText:   outgoing,
	}, nil
}

// Context returns the stored conversation state for a learner.
func (s *Service) Context(ctx context.Context, userID string) (conversation.State, error) {
	return s.repo.Load(ctx, conversation.StateKey(userID))
}

// Reset forgets the stored conversation state for a learner.
func (s *Service) Reset(ctx context.Context, userID string) error {
	key := conversation.StateKey(userID)
	unlock := s.lockKey(key)
	defer unlock()
	return s.repo.Delete(ctx, key)
}

// History returns the most recent logged turns for a learner, oldest first.
// limit <= 0 returns every retained turn.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]memory.TurnRecord, error) {
	if s.turns == nil {
		return nil, nil
	}
	return s.turns.RecentContext(ctx, userID, limit)
}

func (s *Service) answer(ctx context.Context, log zerolog.Logger, req answer.Request) answer.Response {
	answerCtx, cancel := context.WithTimeout(ctx, s.cfg.AnswerTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.answerer.Answer(answerCtx, req)
	s.metrics.ObserveAnswerLatency(time.Since(start))
	if err == nil && strings.TrimSpace(resp.Text) != "" {
		if resp.Source == "" {
			resp.Source = answer.SourceBackend
		}
		return resp
	}

	reason := "empty_reply"
	if err != nil {
		reason = "transport"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		log.Warn().Err(err).Msg("answer backend failed, using local fallback")
	}
	s.metrics.AnswerFallbacks.WithLabelValues(reason).Inc()

	// The local generator must still run when the caller's context is spent.
	fallback, ferr := s.local.Answer(context.WithoutCancel(ctx), req)
	if ferr != nil {
		log.Error().Err(ferr).Msg("local fallback failed")
		return answer.Response{Text: "Sorry, I couldn't come up with an answer just now. Could you ask again?", Source: answer.SourceLocal}
	}
	return fallback
}

func (s *Service) logTurn(sess *session.Session, role conversation.Role, text string) {
	if s.turns == nil {
		return
	}
	redacted, changed := policy.RedactPII(text)
	record := memory.TurnRecord{
		ID:          uuid.NewString(),
		UserID:      sess.UserID,
		SessionID:   sess.ID,
		Role:        string(role),
		Content:     redacted,
		PIIRedacted: changed,
		CreatedAt:   time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), turnLogTimeout)
	defer cancel()
	if err := s.turns.SaveTurn(ctx, record); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("turn log write failed")
		s.metrics.SessionEvents.WithLabelValues("turn_log_failed").Inc()
	}
}

func (s *Service) lockKey(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *Service) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func recentMessages(history []conversation.Turn) []answer.Message {
	out := make([]answer.Message, 0, len(history))
	for _, t := range history {
		out = append(out, answer.Message{Role: string(t.Role), Text: t.Text, Timestamp: t.Timestamp})
	}
	return out
}

// String renders a reply for terminal clients.
func (r Reply) String() string {
	if r.Source == answer.SourceLocal {
		return fmt.Sprintf("%s (offline)", r.Text)
	}
	return r.Text
}
