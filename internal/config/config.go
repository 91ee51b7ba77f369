package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/comigor/chatbox-go/internal/logger"
)

// Config holds the application configuration
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Log       LogConfig       `mapstructure:"log"`
	View      ViewConfig      `mapstructure:"view"`
}

// TransportConfig holds the chat backend configuration
type TransportConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Path       string        `mapstructure:"path"`
	QueryParam string        `mapstructure:"query_param"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig holds the optional circuit breaker settings
type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// ViewConfig holds the terminal view configuration
type ViewConfig struct {
	Placeholder string `mapstructure:"placeholder"`
	Markdown    bool   `mapstructure:"markdown"`
}

const envPrefix = "CHATBOX"

// New returns a viper instance with defaults, env binding and the config
// file location resolved. Callers may bind flags on it before calling Decode.
func New(path string) *viper.Viper {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.base_url", "http://localhost:8000")
	v.SetDefault("transport.path", "/chat/")
	v.SetDefault("transport.query_param", "query")
	v.SetDefault("transport.timeout", 0)
	v.SetDefault("transport.breaker.enabled", false)
	v.SetDefault("transport.breaker.max_failures", 5)
	v.SetDefault("transport.breaker.open_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "chatbox.log")
	v.SetDefault("view.placeholder", "Ask me anything...")
	v.SetDefault("view.markdown", false)
}

// Load loads the configuration from the file at path, CONFIG_PATH, or
// ./config.yaml, in that order. A missing file falls back to defaults.
func Load(path string) (*Config, error) {
	return Decode(New(path))
}

// Decode reads the config file registered on v (if any) and unmarshals and
// validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values that would otherwise fail late at request time.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Transport.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("transport.base_url %q: must be an absolute http(s) URL", c.Transport.BaseURL)
	}
	if c.Transport.QueryParam == "" {
		return errors.New("transport.query_param must not be empty")
	}
	if c.Transport.Timeout < 0 {
		return fmt.Errorf("transport.timeout %s: must not be negative", c.Transport.Timeout)
	}
	if c.Transport.Breaker.Enabled && c.Transport.Breaker.MaxFailures == 0 {
		return errors.New("transport.breaker.max_failures must be positive when the breaker is enabled")
	}
	if !logger.ValidLevel(c.Log.Level) {
		return fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level)
	}
	return nil
}
