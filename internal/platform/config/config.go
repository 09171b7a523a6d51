package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// placeholderPassword is the credential stub shipped in example .env files.
const placeholderPassword = "YOUR_PASSWORD_HERE"

type Config struct {
	AppEnv            string        `env:"APP_ENV" default:"development"`
	Port              string        `env:"PORT" default:"5000"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	DatabaseName      string        `env:"DB_NAME"`
	RedisURL          string        `env:"REDIS_URL"`
	LogLevel          string        `env:"LOG_LEVEL" default:"info"`
	LogFormat         string        `env:"LOG_FORMAT" default:"text"`
	StoreProbeTimeout time.Duration `env:"STORE_PROBE_TIMEOUT" default:"10s"`

	DefaultStreamID  string `env:"DEFAULT_STREAM_ID" default:"default"`
	AutostartStreams bool   `env:"AUTOSTART_STREAMS" default:"true"`
	HLSOutputRoot    string `env:"HLS_OUTPUT_ROOT" default:"./hls_output"`
	ServeHLS         bool   `env:"SERVE_HLS" default:"true"`

	TranscoderPath        string        `env:"TRANSCODER_PATH" default:"ffmpeg"`
	TranscoderArgs        string        `env:"TRANSCODER_ARGS"`
	SegmentDuration       time.Duration `env:"SEGMENT_DURATION" default:"2s"`
	SegmentWindow         int           `env:"SEGMENT_WINDOW" default:"3"`
	IngestStartTimeout    time.Duration `env:"INGEST_START_TIMEOUT" default:"15s"`
	IngestStallTimeout    time.Duration `env:"INGEST_STALL_TIMEOUT" default:"10s"`
	RestartInitialBackoff time.Duration `env:"RESTART_INITIAL_BACKOFF" default:"1s"`
	RestartMaxBackoff     time.Duration `env:"RESTART_MAX_BACKOFF" default:"30s"`
	MaxRestarts           int           `env:"MAX_RESTARTS" default:"5"`
	StopGracePeriod       time.Duration `env:"STOP_GRACE_PERIOD" default:"5s"`

	CORSAllowOrigins string  `env:"CORS_ALLOW_ORIGINS" default:"*"`
	APIRateLimit     float64 `env:"API_RATE_LIMIT" default:"20"`
	APIRateBurst     int     `env:"API_RATE_BURST" default:"40"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// AllowedOrigins splits CORS_ALLOW_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if strings.Contains(cfg.DatabaseURL, placeholderPassword) {
		return fmt.Errorf("DATABASE_URL still contains %s; set the real password (URL-encode special characters such as @ # $ %%)", placeholderPassword)
	}
	if _, err := pgxpool.ParseConfig(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("DATABASE_URL is malformed: %w", err)
	}

	if err := domain.ValidateStreamID(cfg.DefaultStreamID); err != nil {
		return fmt.Errorf("DEFAULT_STREAM_ID: %w", err)
	}

	durations := map[string]time.Duration{
		"STORE_PROBE_TIMEOUT":     cfg.StoreProbeTimeout,
		"SEGMENT_DURATION":        cfg.SegmentDuration,
		"INGEST_START_TIMEOUT":    cfg.IngestStartTimeout,
		"INGEST_STALL_TIMEOUT":    cfg.IngestStallTimeout,
		"RESTART_INITIAL_BACKOFF": cfg.RestartInitialBackoff,
		"RESTART_MAX_BACKOFF":     cfg.RestartMaxBackoff,
		"STOP_GRACE_PERIOD":       cfg.StopGracePeriod,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.RestartMaxBackoff < cfg.RestartInitialBackoff {
		return errors.New("RESTART_MAX_BACKOFF must not be lower than RESTART_INITIAL_BACKOFF")
	}

	if cfg.SegmentWindow < 1 {
		return errors.New("SEGMENT_WINDOW must be at least 1")
	}
	if cfg.MaxRestarts < 1 {
		return errors.New("MAX_RESTARTS must be at least 1")
	}
	if cfg.APIRateLimit <= 0 || cfg.APIRateBurst < 1 {
		return errors.New("API_RATE_LIMIT and API_RATE_BURST must be positive")
	}

	return nil
}
