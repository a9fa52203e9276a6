package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.AnswerMode != "auto" {
		t.Fatalf("AnswerMode = %q, want %q", cfg.AnswerMode, "auto")
	}
	if cfg.AnswerHTTPURL != "" {
		t.Fatalf("AnswerHTTPURL = %q, want empty default", cfg.AnswerHTTPURL)
	}
	if cfg.HistoryLimit != 10 {
		t.Fatalf("HistoryLimit = %d, want 10", cfg.HistoryLimit)
	}
	if cfg.TurnRetention != 50 {
		t.Fatalf("TurnRetention = %d, want 50", cfg.TurnRetention)
	}
	if cfg.AnswerTimeout != 8*time.Second {
		t.Fatalf("AnswerTimeout = %v, want 8s", cfg.AnswerTimeout)
	}
	if cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = true, want false")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("ANSWER_MODE", "HTTP")
	t.Setenv("ANSWER_HTTP_URL", "http://localhost:7777/answer")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("CONVERSATION_HISTORY_LIMIT", "4")
	t.Setenv("STATE_TTL", "24h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9191")
	}
	if cfg.AnswerMode != "http" || cfg.AnswerHTTPURL != "http://localhost:7777/answer" {
		t.Fatalf("answer config = %q %q", cfg.AnswerMode, cfg.AnswerHTTPURL)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	if cfg.HistoryLimit != 4 {
		t.Fatalf("HistoryLimit = %d, want 4", cfg.HistoryLimit)
	}
	if cfg.StateTTL != 24*time.Hour {
		t.Fatalf("StateTTL = %v, want 24h", cfg.StateTTL)
	}
}

func TestLoadConfigFileWithEnvPrecedence(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "studybuddy.yaml")
	raw := "app_bind_addr: \":7000\"\nmemory_turn_retention: 20\nanswer_mode: local\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("ANSWER_MODE", "auto")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7000" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":7000")
	}
	if cfg.TurnRetention != 20 {
		t.Fatalf("TurnRetention = %d, want 20", cfg.TurnRetention)
	}
	if cfg.AnswerMode != "auto" {
		t.Fatalf("AnswerMode = %q, want env value %q", cfg.AnswerMode, "auto")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]struct {
		key, value, want string
	}{
		"short inactivity": {"APP_SESSION_INACTIVITY_TIMEOUT", "1s", "at least 5s"},
		"bad duration":     {"ANSWER_TIMEOUT", "soon", "ANSWER_TIMEOUT parse error"},
		"bad bool":         {"APP_ALLOW_ANY_ORIGIN", "maybe", "expected bool"},
		"unknown mode":     {"ANSWER_MODE", "carrier-pigeon", "invalid ANSWER_MODE"},
		"http without url": {"ANSWER_MODE", "http", "requires ANSWER_HTTP_URL"},
		"zero history":     {"CONVERSATION_HISTORY_LIMIT", "0", "must be positive"},
		"bad log format":   {"APP_LOG_FORMAT", "xml", "invalid APP_LOG_FORMAT"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() error = nil, want %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want read error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"APP_MESSAGE_RATE_LIMIT",
		"APP_MESSAGE_BURST",
		"ANSWER_MODE",
		"ANSWER_HTTP_URL",
		"ANSWER_TIMEOUT",
		"ANSWER_MAX_RETRIES",
		"DATABASE_URL",
		"REDIS_URL",
		"STATE_TTL",
		"MEMORY_TURN_RETENTION",
		"CONVERSATION_HISTORY_LIMIT",
		"CONVERSATION_RULES_FILE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
