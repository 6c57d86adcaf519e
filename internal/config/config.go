package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
// Priority order: defaults -> YAML file -> environment.
type Config struct {
	HTTPAddr string
	// InstanceID names this process in shared presence state; it must be stable across restarts.
	InstanceID string

	DatabaseDSN string
	RedisAddr   string

	JWTSecret string

	KafkaBrokers     []string
	KafkaNotifyTopic string

	OpenAIAPIKey      string
	ModerationModel   string
	SummaryModel      string
	ModerationTimeout time.Duration

	RTCAppID          string
	RTCAppCertificate string
	RTCTokenTTL       time.Duration

	PaymentWebhookSecret string

	TrialDuration    time.Duration
	TrialWarningLead time.Duration
	CallRingTimeout  time.Duration
	CallRetention    time.Duration

	PendingExpiry        time.Duration
	PendingSweepSchedule string
}

type configFile struct {
	Server struct {
		Addr       string `yaml:"addr"`
		InstanceID string `yaml:"instance_id"`
	} `yaml:"server"`
	Dependencies struct {
		PostgresDSN  string   `yaml:"postgres_dsn"`
		RedisAddr    string   `yaml:"redis_addr"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	Notifications struct {
		Topic string `yaml:"topic"`
	} `yaml:"notifications"`
	AI struct {
		ModerationModel string `yaml:"moderation_model"`
		SummaryModel    string `yaml:"summary_model"`
	} `yaml:"ai"`
	RTC struct {
		AppID string `yaml:"app_id"`
	} `yaml:"rtc"`
	Consultation struct {
		TrialDuration        string `yaml:"trial_duration"`
		TrialWarningLead     string `yaml:"trial_warning_lead"`
		PendingExpiry        string `yaml:"pending_expiry"`
		PendingSweepSchedule string `yaml:"pending_sweep_schedule"`
	} `yaml:"consultation"`
	Calls struct {
		RingTimeout string `yaml:"ring_timeout"`
		Retention   string `yaml:"retention"`
		TokenTTL    string `yaml:"token_ttl"`
	} `yaml:"calls"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTPAddr:             ":8080",
		KafkaNotifyTopic:     "consultation.notifications",
		ModerationModel:      "omni-moderation-latest",
		SummaryModel:         "gpt-4o-mini",
		ModerationTimeout:    3 * time.Second,
		RTCTokenTTL:          time.Hour,
		TrialDuration:        3 * time.Minute,
		TrialWarningLead:     60 * time.Second,
		CallRingTimeout:      60 * time.Second,
		CallRetention:        30 * time.Second,
		PendingExpiry:        30 * time.Minute,
		PendingSweepSchedule: "@every 1m",
	}
}

// Load resolves configuration from an optional YAML file and the environment.
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if cfg.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil {
			return Config{}, fmt.Errorf("resolve instance id: %w", err)
		}
		cfg.InstanceID = host
	}

	if cfg.DatabaseDSN == "" {
		return Config{}, errors.New("missing DB_DSN")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("missing JWT_SECRET")
	}
	if cfg.TrialWarningLead >= cfg.TrialDuration {
		return Config{}, fmt.Errorf("trial warning lead %s must be shorter than trial duration %s", cfg.TrialWarningLead, cfg.TrialDuration)
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Server.Addr != "" {
		c.HTTPAddr = f.Server.Addr
	}
	if f.Server.InstanceID != "" {
		c.InstanceID = f.Server.InstanceID
	}
	if f.Dependencies.PostgresDSN != "" {
		c.DatabaseDSN = f.Dependencies.PostgresDSN
	}
	if f.Dependencies.RedisAddr != "" {
		c.RedisAddr = f.Dependencies.RedisAddr
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		c.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Notifications.Topic != "" {
		c.KafkaNotifyTopic = f.Notifications.Topic
	}
	if f.AI.ModerationModel != "" {
		c.ModerationModel = f.AI.ModerationModel
	}
	if f.AI.SummaryModel != "" {
		c.SummaryModel = f.AI.SummaryModel
	}
	if f.RTC.AppID != "" {
		c.RTCAppID = f.RTC.AppID
	}
	if f.Consultation.PendingSweepSchedule != "" {
		c.PendingSweepSchedule = f.Consultation.PendingSweepSchedule
	}

	durations := []struct {
		raw    string
		target *time.Duration
		name   string
	}{
		{f.Consultation.TrialDuration, &c.TrialDuration, "consultation.trial_duration"},
		{f.Consultation.TrialWarningLead, &c.TrialWarningLead, "consultation.trial_warning_lead"},
		{f.Consultation.PendingExpiry, &c.PendingExpiry, "consultation.pending_expiry"},
		{f.Calls.RingTimeout, &c.CallRingTimeout, "calls.ring_timeout"},
		{f.Calls.Retention, &c.CallRetention, "calls.retention"},
		{f.Calls.TokenTTL, &c.RTCTokenTTL, "calls.token_ttl"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.target = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = envOrDefault("HTTP_ADDR", c.HTTPAddr)
	c.InstanceID = envOrDefault("INSTANCE_ID", c.InstanceID)
	c.DatabaseDSN = envOrDefault("DB_DSN", c.DatabaseDSN)
	c.RedisAddr = envOrDefault("REDIS_ADDR", c.RedisAddr)
	c.JWTSecret = envOrDefault("JWT_SECRET", c.JWTSecret)
	c.KafkaBrokers = envCSV("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaNotifyTopic = envOrDefault("KAFKA_NOTIFY_TOPIC", c.KafkaNotifyTopic)
	c.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.RTCAppID = envOrDefault("RTC_APP_ID", c.RTCAppID)
	c.RTCAppCertificate = envOrDefault("RTC_APP_CERTIFICATE", c.RTCAppCertificate)
	c.PaymentWebhookSecret = envOrDefault("PAYMENT_WEBHOOK_SECRET", c.PaymentWebhookSecret)
	c.PendingSweepSchedule = envOrDefault("PENDING_SWEEP_SCHEDULE", c.PendingSweepSchedule)

	durations := []struct {
		name   string
		target *time.Duration
	}{
		{"TRIAL_DURATION", &c.TrialDuration},
		{"TRIAL_WARNING_LEAD", &c.TrialWarningLead},
		{"MODERATION_TIMEOUT", &c.ModerationTimeout},
		{"CALL_RING_TIMEOUT", &c.CallRingTimeout},
		{"CALL_RETENTION", &c.CallRetention},
		{"RTC_TOKEN_TTL", &c.RTCTokenTTL},
		{"PENDING_EXPIRY", &c.PendingExpiry},
	}
	for _, d := range durations {
		raw := os.Getenv(d.name)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.target = v
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envCSV parses comma-separated env vars and drops empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
