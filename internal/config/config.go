package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all runtime settings for the study chat service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	// MessageRateLimit is messages per second allowed per session.
	MessageRateLimit float64
	MessageBurst     int

	AnswerMode       string
	AnswerHTTPURL    string
	AnswerTimeout    time.Duration
	AnswerMaxRetries int

	DatabaseURL   string
	RedisURL      string
	StateTTL      time.Duration
	TurnRetention int

	HistoryLimit int
	RulesFile    string
}

const configFileKey = "APP_CONFIG_FILE"

// Load reads an optional YAML file named by APP_CONFIG_FILE, then
// environment variables, and applies safe defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path := strings.TrimSpace(v.GetString(configFileKey)); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%s read error: %w", configFileKey, err)
		}
	}

	cfg := Config{
		BindAddr:         stringValue(v, "APP_BIND_ADDR"),
		MetricsNamespace: stringValue(v, "APP_METRICS_NAMESPACE"),
		LogLevel:         strings.ToLower(stringValue(v, "APP_LOG_LEVEL")),
		LogFormat:        strings.ToLower(stringValue(v, "APP_LOG_FORMAT")),
		AnswerMode:       strings.ToLower(stringValue(v, "ANSWER_MODE")),
		AnswerHTTPURL:    stringValue(v, "ANSWER_HTTP_URL"),
		DatabaseURL:      stringValue(v, "DATABASE_URL"),
		RedisURL:         stringValue(v, "REDIS_URL"),
		RulesFile:        stringValue(v, "CONVERSATION_RULES_FILE"),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationValue(v, "APP_SHUTDOWN_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.SessionInactivityTimeout, err = durationValue(v, "APP_SESSION_INACTIVITY_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.AnswerTimeout, err = durationValue(v, "ANSWER_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.StateTTL, err = durationValue(v, "STATE_TTL"); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolValue(v, "APP_ALLOW_ANY_ORIGIN"); err != nil {
		return Config{}, err
	}
	if cfg.MessageRateLimit, err = floatValue(v, "APP_MESSAGE_RATE_LIMIT"); err != nil {
		return Config{}, err
	}
	if cfg.MessageBurst, err = intValue(v, "APP_MESSAGE_BURST"); err != nil {
		return Config{}, err
	}
	if cfg.AnswerMaxRetries, err = intValue(v, "ANSWER_MAX_RETRIES"); err != nil {
		return Config{}, err
	}
	if cfg.TurnRetention, err = intValue(v, "MEMORY_TURN_RETENTION"); err != nil {
		return Config{}, err
	}
	if cfg.HistoryLimit, err = intValue(v, "CONVERSATION_HISTORY_LIMIT"); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_BIND_ADDR", ":8080")
	v.SetDefault("APP_SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("APP_SESSION_INACTIVITY_TIMEOUT", "10m")
	v.SetDefault("APP_METRICS_NAMESPACE", "studybuddy")
	v.SetDefault("APP_ALLOW_ANY_ORIGIN", "false")
	v.SetDefault("APP_LOG_LEVEL", "info")
	v.SetDefault("APP_LOG_FORMAT", "json")
	v.SetDefault("APP_MESSAGE_RATE_LIMIT", "2")
	v.SetDefault("APP_MESSAGE_BURST", "5")
	v.SetDefault("ANSWER_MODE", "auto")
	v.SetDefault("ANSWER_HTTP_URL", "")
	v.SetDefault("ANSWER_TIMEOUT", "8s")
	v.SetDefault("ANSWER_MAX_RETRIES", "1")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("STATE_TTL", "0s")
	v.SetDefault("MEMORY_TURN_RETENTION", "50")
	v.SetDefault("CONVERSATION_HISTORY_LIMIT", "10")
	v.SetDefault("CONVERSATION_RULES_FILE", "")
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.MessageRateLimit <= 0 {
		return fmt.Errorf("APP_MESSAGE_RATE_LIMIT must be positive")
	}
	if c.MessageBurst <= 0 {
		return fmt.Errorf("APP_MESSAGE_BURST must be positive")
	}
	switch c.AnswerMode {
	case "auto", "local":
	case "http":
		if c.AnswerHTTPURL == "" {
			return fmt.Errorf("ANSWER_MODE=http requires ANSWER_HTTP_URL")
		}
	default:
		return fmt.Errorf("invalid ANSWER_MODE: %q (expected auto|http|local)", c.AnswerMode)
	}
	if c.AnswerTimeout <= 0 {
		return fmt.Errorf("ANSWER_TIMEOUT must be positive")
	}
	if c.AnswerMaxRetries < 0 {
		return fmt.Errorf("ANSWER_MAX_RETRIES must be >= 0")
	}
	if c.StateTTL < 0 {
		return fmt.Errorf("STATE_TTL must be >= 0")
	}
	if c.TurnRetention <= 0 {
		return fmt.Errorf("MEMORY_TURN_RETENTION must be positive")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("CONVERSATION_HISTORY_LIMIT must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid APP_LOG_FORMAT: %q (expected json|console)", c.LogFormat)
	}
	return nil
}

func stringValue(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(stringValue(v, key))
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intValue(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(stringValue(v, key))
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatValue(v *viper.Viper, key string) (float64, error) {
	f, err := strconv.ParseFloat(stringValue(v, key), 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolValue(v *viper.Viper, key string) (bool, error) {
	switch strings.ToLower(stringValue(v, key)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
