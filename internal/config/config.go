package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix for every environment variable read by Load.
const envPrefix = "ACTIVATIONWS"

type Config struct {
	Environment string           `split_words:"true" default:"development"`
	Server      ServerConfig     `envconfig:"SERVER"`
	Database    DatabaseConfig   `envconfig:"DB"`
	Log         LogConfig        `envconfig:"LOG"`
	Activation  ActivationConfig `envconfig:"ACTIVATION"`
	Admin       AdminConfig      `envconfig:"ADMIN"`
	Sheets      SheetsConfig     `envconfig:"SHEETS"`
	RateLimit   RateLimitConfig  `envconfig:"RATE_LIMIT"`
}

type ServerConfig struct {
	Port            string        `split_words:"true" default:"8080"`
	ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
}

type DatabaseConfig struct {
	// Path of the SQLite database file.
	Path     string `split_words:"true" default:"data/activationws.db"`
	LogLevel string `split_words:"true" default:"silent" validate:"oneof=silent error warn info"`
}

type LogConfig struct {
	Level  string `split_words:"true" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `split_words:"true" default:"text" validate:"oneof=text json"`
}

// ActivationConfig is everything the Batch Activation Service client consumes.
type ActivationConfig struct {
	TimeoutSeconds int           `split_words:"true" default:"100" validate:"min=1,max=300"`
	Proxy          ProxyConfig   `split_words:"true"`
	Retry          RetryConfig   `split_words:"true"`
	Breaker        BreakerConfig `split_words:"true"`
}

// Timeout returns the per-call upstream timeout, 100 seconds when unset.
func (a ActivationConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 100 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

type ProxyConfig struct {
	UseProxy              bool   `split_words:"true" default:"false"`
	Address               string `split_words:"true" validate:"required_if=UseProxy true,omitempty,url"`
	BypassOnLocal         bool   `split_words:"true" default:"true"`
	UseDefaultCredentials bool   `split_words:"true" default:"false"`
	Username              string `split_words:"true"`
	Password              string `split_words:"true"`
	Domain                string `split_words:"true"`
}

type RetryConfig struct {
	MaxAttempts     int           `split_words:"true" default:"3" validate:"min=1,max=10"`
	InitialInterval time.Duration `split_words:"true" default:"2s"`
	MaxInterval     time.Duration `split_words:"true" default:"30s"`
}

type BreakerConfig struct {
	FailureThreshold int           `split_words:"true" default:"5" validate:"min=1"`
	OpenTimeout      time.Duration `split_words:"true" default:"30s"`
	HalfOpenRequests int           `split_words:"true" default:"1" validate:"min=1"`
}

type AdminConfig struct {
	Username string `split_words:"true" default:"admin"`
	// bcrypt hash; an empty hash disables login and therefore the reporting routes.
	PasswordHash string        `split_words:"true"`
	JWTSecret    string        `split_words:"true" default:"change-me-in-production"`
	TokenTTL     time.Duration `split_words:"true" default:"8h"`
}

type SheetsConfig struct {
	Enabled        bool   `split_words:"true" default:"false"`
	CredentialPath string `split_words:"true" validate:"required_if=Enabled true"`
	SpreadsheetID  string `split_words:"true" validate:"required_if=Enabled true"`
	SheetName      string `split_words:"true" default:"Activations"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `split_words:"true" default:"5"`
	Burst             int     `split_words:"true" default:"10" validate:"min=1"`
}

// Load reads an optional .env file and then the ACTIVATIONWS_* environment.
func Load() (*Config, error) {
	// a missing .env file is normal outside development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Environment == "production" && c.Admin.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("admin JWT secret must be changed in production")
	}
	return nil
}
