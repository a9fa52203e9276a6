package app

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/studybuddy/internal/answer"
	"github.com/antoniostano/studybuddy/internal/config"
	"github.com/antoniostano/studybuddy/internal/conversation"
	"github.com/antoniostano/studybuddy/internal/observability"
)

func testConfig() config.Config {
	return config.Config{
		SessionInactivityTimeout: time.Minute,
		MessageRateLimit:         10,
		MessageBurst:             10,
		AnswerMode:               "local",
		AnswerTimeout:            time.Second,
		TurnRetention:            50,
		HistoryLimit:             4,
	}
}

func TestBuildInMemoryLocal(t *testing.T) {
	metrics := observability.NewMetricsWith("test_app", prometheus.NewRegistry())
	res, err := Build(context.Background(), testConfig(), zerolog.New(io.Discard), metrics)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	assert.Equal(t, "in-memory", res.Store.Mode())

	sess := res.Sessions.Create("learner-1")
	ctx := context.Background()
	for _, text := range []string{"What is addition?", "tell me more", "explain again"} {
		reply, err := res.Chat.HandleMessage(ctx, sess, text)
		require.NoError(t, err)
		assert.Equal(t, answer.SourceLocal, reply.Source)
	}

	st, err := res.Chat.Context(ctx, "learner-1")
	require.NoError(t, err)
	assert.Len(t, st.History, 4, "history limit from config applies")
	assert.Equal(t, "What is addition?", st.CurrentTopic)
}

func TestBuildLoadsRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	raw := "rules:\n  - pattern: huh\n    tag: explain_again\n  - pattern: and then\n    tag: follow_up\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg := testConfig()
	cfg.RulesFile = path
	metrics := observability.NewMetricsWith("test_app", prometheus.NewRegistry())
	res, err := Build(context.Background(), cfg, zerolog.New(io.Discard), metrics)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	sess := res.Sessions.Create("learner-2")
	_, err = res.Chat.HandleMessage(context.Background(), sess, "What is gravity?")
	require.NoError(t, err)
	reply, err := res.Chat.HandleMessage(context.Background(), sess, "huh")
	require.NoError(t, err)
	assert.Equal(t, conversation.KindExplainAgain, reply.Classification)
}

func TestBuildRejectsBadRulesFile(t *testing.T) {
	cfg := testConfig()
	cfg.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Build(context.Background(), cfg, zerolog.New(io.Discard), observability.NewMetricsWith("test_app", prometheus.NewRegistry()))
	require.Error(t, err)
}

func TestBuildLogsTrackerSetup(t *testing.T) {
	var buf bytes.Buffer
	metrics := observability.NewMetricsWith("test_app", prometheus.NewRegistry())
	res, err := Build(context.Background(), testConfig(), zerolog.New(&buf), metrics)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	assert.Contains(t, buf.String(), `"answerer":"local"`)
	assert.Contains(t, buf.String(), `"history_limit":4`)
}
