// Package config centralises runtime configuration helpers for pulse.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/coachpo/pulse/errs"
)

// Environment identifies the runtime environment where pulse operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// StreamSettings configures the duplex market connection.
type StreamSettings struct {
	URL                  string        `yaml:"url"`
	ReconnectDelay       time.Duration `yaml:"reconnectDelay"`
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
	HandshakeTimeout     time.Duration `yaml:"handshakeTimeout"`
	PingInterval         time.Duration `yaml:"pingInterval"`
	ReadLimitBytes       int64         `yaml:"readLimitBytes"`
}

// APISettings configures the request/response backfill endpoints.
type APISettings struct {
	BaseURL           string        `yaml:"baseURL"`
	HTTPTimeout       time.Duration `yaml:"httpTimeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

// FeedSettings configures paginated feed loading.
type FeedSettings struct {
	PageSize int `yaml:"pageSize"`
}

// ChartSettings configures per-symbol time series retention.
type ChartSettings struct {
	MaxPoints         int    `yaml:"maxPoints"`
	DefaultResolution string `yaml:"defaultResolution"`
}

// SentimentSettings configures the market sentiment poller.
type SentimentSettings struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// InspectorSettings configures the optional local state inspector.
type InspectorSettings struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TelemetrySettings configures metric export.
type TelemetrySettings struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings contains the pulse configuration tree loaded from defaults and overrides.
type Settings struct {
	Environment Environment       `yaml:"environment"`
	Debug       bool              `yaml:"debug"`
	Stream      StreamSettings    `yaml:"stream"`
	API         APISettings       `yaml:"api"`
	Feeds       FeedSettings      `yaml:"feeds"`
	Chart       ChartSettings     `yaml:"chart"`
	Sentiment   SentimentSettings `yaml:"sentiment"`
	Inspector   InspectorSettings `yaml:"inspector"`
	Telemetry   TelemetrySettings `yaml:"telemetry"`
}

// Default returns the default pulse configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Debug:       false,
		Stream: StreamSettings{
			URL:                  "ws://localhost:8080/ws",
			ReconnectDelay:       3 * time.Second,
			MaxReconnectAttempts: 10,
			HandshakeTimeout:     10 * time.Second,
			PingInterval:         30 * time.Second,
			ReadLimitBytes:       2 * 1024 * 1024,
		},
		API: APISettings{
			BaseURL:           "http://localhost:8080",
			HTTPTimeout:       10 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Feeds: FeedSettings{PageSize: 20},
		Chart: ChartSettings{MaxPoints: 1000, DefaultResolution: "15m"},
		Sentiment: SentimentSettings{
			Enabled:  true,
			Interval: 5 * time.Minute,
		},
		Inspector: InspectorSettings{Enabled: false, Addr: "127.0.0.1:8090"},
		Telemetry: TelemetrySettings{
			Enabled:      false,
			OTLPEndpoint: "localhost:4318",
			OTLPInsecure: true,
			ServiceName:  "pulse",
		},
	}
}

// Load reads a yaml file on top of the defaults and then applies environment overrides.
// A missing file is not an error; the returned flag reports whether the file was read.
func Load(path string) (Settings, bool, error) {
	cfg := Default()
	loaded := false
	path = strings.TrimSpace(path)
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Settings{}, false, errs.New("config", errs.CodeDecode,
					errs.WithMessage("parse config file"), errs.WithField("path", path), errs.WithCause(err))
			}
			loaded = true
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Settings{}, false, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Settings{}, loaded, err
	}
	return cfg, loaded, nil
}

// LoadDotEnv layers variables from a .env file beneath the process environment.
// Existing variables are never overwritten and a missing file is ignored.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load dotenv %s: %w", path, err)
	}
	return nil
}

// FromEnv loads configuration values from environment variables, overriding defaults.
func FromEnv() Settings {
	return applyEnv(Default())
}

func applyEnv(cfg Settings) Settings {
	if env := strings.TrimSpace(os.Getenv("PULSE_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v, ok := envBool("PULSE_DEBUG"); ok {
		cfg.Debug = v
	}
	if v := strings.TrimSpace(os.Getenv("PULSE_WS_URL")); v != "" {
		cfg.Stream.URL = v
	}
	if v, ok := envDuration("PULSE_RECONNECT_DELAY"); ok {
		cfg.Stream.ReconnectDelay = v
	}
	if v, ok := envInt("PULSE_MAX_RECONNECT_ATTEMPTS"); ok {
		cfg.Stream.MaxReconnectAttempts = v
	}
	if v := strings.TrimSpace(os.Getenv("PULSE_API_BASE_URL")); v != "" {
		cfg.API.BaseURL = v
	}
	if v, ok := envDuration("PULSE_HTTP_TIMEOUT"); ok {
		cfg.API.HTTPTimeout = v
	}
	if v, ok := envInt("PULSE_PAGE_SIZE"); ok {
		cfg.Feeds.PageSize = v
	}
	if v, ok := envBool("PULSE_INSPECTOR_ENABLED"); ok {
		cfg.Inspector.Enabled = v
	}
	if v := strings.TrimSpace(os.Getenv("PULSE_INSPECTOR_ADDR")); v != "" {
		cfg.Inspector.Addr = v
	}
	if v, ok := envBool("OTEL_ENABLED"); ok {
		cfg.Telemetry.Enabled = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	return cfg
}

// Validate ensures the settings are usable.
func (s Settings) Validate() error {
	invalid := func(field, msg string) error {
		return errs.New("config", errs.CodeInvalid, errs.WithMessage(msg), errs.WithField("field", field))
	}
	if strings.TrimSpace(s.Stream.URL) == "" {
		return invalid("stream.url", "websocket url required")
	}
	if s.Stream.ReconnectDelay <= 0 {
		return invalid("stream.reconnectDelay", "reconnect delay must be >0")
	}
	if s.Stream.MaxReconnectAttempts <= 0 {
		return invalid("stream.maxReconnectAttempts", "max reconnect attempts must be >0")
	}
	if strings.TrimSpace(s.API.BaseURL) == "" {
		return invalid("api.baseURL", "api base url required")
	}
	if s.Feeds.PageSize <= 0 {
		return invalid("feeds.pageSize", "page size must be >0")
	}
	if s.Chart.MaxPoints <= 0 {
		return invalid("chart.maxPoints", "max points must be >0")
	}
	return nil
}

func envBool(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
