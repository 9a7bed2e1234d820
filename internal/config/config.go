package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the system-wide settings tree. Precedence: defaults, then an
// optional YAML file, then COACHWIRE_* environment variables.
type Config struct {
	LogLevel  string    `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	HTTP      HTTP      `mapstructure:"http"`
	WebSocket WebSocket `mapstructure:"websocket"`
	Store     Store     `mapstructure:"store"`
	Pipeline  Pipeline  `mapstructure:"pipeline"`
	Session   Session   `mapstructure:"session"`
}

type HTTP struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

type WebSocket struct {
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	BufferSize   int           `mapstructure:"buffer_size" validate:"gt=0"`
}

type Store struct {
	Driver    string        `mapstructure:"driver" validate:"oneof=memory sqlite redis"`
	Path      string        `mapstructure:"path"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisTTL  time.Duration `mapstructure:"redis_ttl"`
}

type Pipeline struct {
	TextBaseURL   string        `mapstructure:"text_base_url" validate:"required,url"`
	TextAPIKey    string        `mapstructure:"text_api_key"`
	Model         string        `mapstructure:"model" validate:"required"`
	Temperature   float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	SpeechBaseURL string        `mapstructure:"speech_base_url" validate:"required,url"`
	SpeechAPIKey  string        `mapstructure:"speech_api_key"`
	CallTimeout   time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
	// HistoryWindow bounds prior turns fed to the text service; 0 means all
	// completed turns up to HistoryMax, truncating oldest first.
	HistoryWindow int `mapstructure:"history_window" validate:"gte=0"`
	HistoryMax    int `mapstructure:"history_max" validate:"gt=0"`
}

type Session struct {
	IdleExpiry time.Duration `mapstructure:"idle_expiry" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.read_timeout", 60*time.Second)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.buffer_size", 100)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "./coachwire.db")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_ttl", 24*time.Hour)

	v.SetDefault("pipeline.text_base_url", "https://api.openai.com")
	v.SetDefault("pipeline.model", "gpt-4")
	v.SetDefault("pipeline.temperature", 0.7)
	v.SetDefault("pipeline.speech_base_url", "https://api.elevenlabs.io")
	v.SetDefault("pipeline.call_timeout", 30*time.Second)
	v.SetDefault("pipeline.retry_delay", 2*time.Second)
	v.SetDefault("pipeline.history_window", 0)
	v.SetDefault("pipeline.history_max", 200)

	v.SetDefault("session.idle_expiry", 10*time.Minute)
}

// Load builds the configuration. path may name a directory holding a
// config.yaml; an absent file is not an error, environment and defaults
// still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COACHWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate applies struct tag rules plus cross-field checks the tags cannot
// express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("invalid configuration: store.path required for sqlite driver")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("invalid configuration: store.redis_addr required for redis driver")
		}
	}

	if c.Pipeline.HistoryWindow > c.Pipeline.HistoryMax {
		return fmt.Errorf("invalid configuration: pipeline.history_window exceeds pipeline.history_max")
	}

	return nil
}

// Default returns the built-in configuration, used by tests and as the
// fallback when no file or environment overrides exist.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly; guard anyway for future edits.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config unmarshal: %v", err))
	}
	return &cfg
}
