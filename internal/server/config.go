package server

import (
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// envPrefix namespaces every environment variable, e.g. ROOMCHAT_PORT.
const envPrefix = "ROOMCHAT"

// Config holds the server configuration.
type Config struct {
	Port            string        `split_words:"true" validate:"required"`
	AllowedOrigins  []string      `split_words:"true"`
	MaxMessageSize  int64         `split_words:"true" validate:"gt=0"`
	MaxBodySize     int64         `split_words:"true" validate:"gt=0"`
	SendBufferSize  int           `split_words:"true" validate:"gt=0"`
	WriteWait       time.Duration `split_words:"true" validate:"gt=0"`
	PongWait        time.Duration `split_words:"true" validate:"gt=0"`
	ShutdownTimeout time.Duration `split_words:"true" validate:"gt=0"`
	LogLevel        string        `split_words:"true" validate:"oneof=debug info warn error"`
	LogFormat       string        `split_words:"true" validate:"oneof=console json"`
	GinMode         string        `split_words:"true" validate:"oneof=debug release test"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  512,
		MaxBodySize:     100 << 10,
		SendBufferSize:  256,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "console",
		GinMode:         "release",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads the optional env files (".env" when none are given), then
// overlays ROOMCHAT_* variables on the defaults and validates the result.
// Missing env files are not an error.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load env file")
	}

	cfg := NewConfig()
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}
	cfg.AllowedOrigins = parseOrigins(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// PingPeriod is how often the write pump pings; it must stay below PongWait.
func (c Config) PingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

func parseOrigins(origins []string) []string {
	parts := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
