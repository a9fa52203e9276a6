package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/antoniostano/studybuddy/internal/answer"
	"github.com/antoniostano/studybuddy/internal/chat"
	"github.com/antoniostano/studybuddy/internal/config"
	"github.com/antoniostano/studybuddy/internal/conversation"
	"github.com/antoniostano/studybuddy/internal/httpapi"
	"github.com/antoniostano/studybuddy/internal/memory"
	"github.com/antoniostano/studybuddy/internal/observability"
	"github.com/antoniostano/studybuddy/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Chat     *chat.Service
	Sessions *session.Manager
	Store    memory.Store
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, Redis).
	Cleanup func() error
}

// Build wires the store, tracker, answerer and API from cfg. metrics may be
// nil, in which case instruments are registered on the default registry.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*BuildResult, error) {
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	store, err := memory.NewStore(ctx, memory.Options{
		DatabaseURL:   cfg.DatabaseURL,
		RedisURL:      cfg.RedisURL,
		TurnRetention: cfg.TurnRetention,
		StateTTL:      cfg.StateTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	logger.Info().Str("mode", store.Mode()).Msg("memory store ready")

	rules := conversation.DefaultRules()
	if path := strings.TrimSpace(cfg.RulesFile); path != "" {
		rules, err = conversation.LoadRules(path)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("conversation rules: %w", err)
		}
		logger.Info().Str("path", path).Int("rules", len(rules.Rules)).Msg("loaded conversation rules")
	}

	repo := conversation.NewRepository(store, logger.With().Str("component", "conversation_repo").Logger())
	repo.SetMalformedHook(func(_ string, _ error) {
		metrics.StateErrors.WithLabelValues("malformed").Inc()
	})

	tracker := conversation.NewTracker(
		conversation.WithRules(rules),
		conversation.WithHistoryLimit(cfg.HistoryLimit),
		conversation.WithPersister(repo),
		conversation.WithLogger(logger.With().Str("component", "tracker").Logger()),
		conversation.WithPersistErrorHook(func(error) {
			metrics.StateErrors.WithLabelValues("save").Inc()
		}),
	)

	answerer, err := answer.NewAnswerer(answer.Config{
		Mode:       cfg.AnswerMode,
		HTTPURL:    cfg.AnswerHTTPURL,
		Timeout:    cfg.AnswerTimeout,
		MaxRetries: cfg.AnswerMaxRetries,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("answerer init failed: %w", err)
	}
	logger.Info().
		Str("answerer", answer.Describe(answerer)).
		Int("history_limit", tracker.HistoryLimit()).
		Msg("conversation tracker ready")

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	chatSvc := chat.NewService(
		tracker,
		repo,
		store,
		answerer,
		sessions,
		metrics,
		logger.With().Str("component", "chat").Logger(),
		chat.Config{AnswerTimeout: cfg.AnswerTimeout},
	)

	api := httpapi.New(cfg, sessions, chatSvc, metrics, store.Mode(), logger.With().Str("component", "http").Logger())

	sessions.SetExpireHook(func(s *session.Session) {
		api.ForgetSession(s.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Chat:     chatSvc,
		Sessions: sessions,
		Store:    store,
		Metrics:  metrics,
		Cleanup:  store.Close,
	}, nil
}
