package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/hpcomplexio/mission-control/core/db"
)

type Config struct {
	OTel         OTelConfig
	Healer       HealerConfig
	Orchestrator OrchestratorConfig
	Hub          HubConfig
	Mirror       MirrorConfig
	RateLimit    RateLimitConfig
	Env          string
	LogLevel     string
	Port         string
	AuthToken    string
	SchemaPath   string
	NodeID       int64
	DB           db.Config
}

type OTelConfig struct {
	Environment    string
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type HealerConfig struct {
	URL              string
	Token            string
	Timeout          time.Duration
	FailureThreshold int
	OpenDuration     time.Duration
}

type OrchestratorConfig struct {
	BuildTimeout        time.Duration
	Debounce            time.Duration
	StallThreshold      time.Duration
	StallSweepInterval  time.Duration
	DefaultBuildCommand string
	DefaultTestCommand  string
}

type HubConfig struct {
	HeartbeatInterval time.Duration
}

// MirrorConfig configures the optional Redis stream mirror of the event log.
type MirrorConfig struct {
	RedisURL    string
	RedisStream string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load loads configuration from environment variables.
// In development it first loads .env.server, falling back to .env.
func Load() (Config, error) {
	if getEnv("MISSION_CONTROL_ENV", "development") == "development" {
		if err := godotenv.Load(".env.server"); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	env := getEnv("MISSION_CONTROL_ENV", "development")
	cfg := Config{
		Env:        env,
		LogLevel:   getEnv("MISSION_CONTROL_LOG_LEVEL", ""),
		Port:       getEnv("PORT", "8787"),
		AuthToken:  getEnv("MISSION_CONTROL_TOKEN", "dev-token"),
		SchemaPath: getEnv("MISSION_CONTROL_EVENT_SCHEMA_PATH", ""),
		NodeID:     int64(getEnvInt("NODE_ID", 1)),
		DB: db.Config{
			Path: getEnv("MISSION_CONTROL_DB_PATH", "data/controlplane.db"),
		},
		OTel: OTelConfig{
			Environment:    env,
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "mission-control"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Healer: HealerConfig{
			URL:              getEnv("SELF_HEALER_URL", "http://localhost:8000/heal"),
			Token:            getEnv("SELF_HEALER_TOKEN", ""),
			Timeout:          getEnvDuration("SELF_HEALER_TIMEOUT", 5*time.Second),
			FailureThreshold: getEnvInt("HEALER_FAILURE_THRESHOLD", 5),
			OpenDuration:     getEnvDuration("HEALER_OPEN_DURATION", 2*time.Minute),
		},
		Orchestrator: OrchestratorConfig{
			BuildTimeout:        getEnvDuration("BUILD_TIMEOUT", 10*time.Minute),
			Debounce:            getEnvDuration("BUILD_DEBOUNCE", 250*time.Millisecond),
			StallThreshold:      getEnvDuration("STALL_THRESHOLD", 15*time.Minute),
			StallSweepInterval:  getEnvDuration("STALL_SWEEP_INTERVAL", 60*time.Second),
			DefaultBuildCommand: getEnv("DEFAULT_BUILD_COMMAND", "npm run build"),
			DefaultTestCommand:  getEnv("DEFAULT_TEST_COMMAND", "npm run test --if-present"),
		},
		Hub: HubConfig{
			HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 15*time.Second),
		},
		Mirror: MirrorConfig{
			RedisURL:    getEnv("REDIS_URL", ""),
			RedisStream: getEnv("REDIS_STREAM", "mission_control_events"),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
			Burst: getEnvInt("RATE_LIMIT_BURST", 40),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AuthToken == "" {
		return fmt.Errorf("MISSION_CONTROL_TOKEN is required")
	}
	durations := map[string]time.Duration{
		"SELF_HEALER_TIMEOUT":  c.Healer.Timeout,
		"HEALER_OPEN_DURATION": c.Healer.OpenDuration,
		"BUILD_TIMEOUT":        c.Orchestrator.BuildTimeout,
		"BUILD_DEBOUNCE":       c.Orchestrator.Debounce,
		"STALL_THRESHOLD":      c.Orchestrator.StallThreshold,
		"STALL_SWEEP_INTERVAL": c.Orchestrator.StallSweepInterval,
		"HEARTBEAT_INTERVAL":   c.Hub.HeartbeatInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Healer.FailureThreshold <= 0 {
		return fmt.Errorf("HEALER_FAILURE_THRESHOLD must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c MirrorConfig) Enabled() bool {
	return c.RedisURL != ""
}

func (c RateLimitConfig) Enabled() bool {
	return c.RPS > 0
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("250ms", "2m") or a bare
// integer number of milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
