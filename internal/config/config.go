package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration loaded from config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Server    Server    `toml:"server"`
	Reconnect Reconnect `toml:"reconnect"`
	AutoReply AutoReply `toml:"autoreply"`
}

// Server holds the HTTP listener settings.
type Server struct {
	Addr string `toml:"addr"`
}

// Reconnect holds the backoff policy for non-terminal connection closes.
type Reconnect struct {
	BaseDelaySeconds int `toml:"base_delay_seconds"`
	MaxDelaySeconds  int `toml:"max_delay_seconds"`
	MaxAttempts      int `toml:"max_attempts"`
}

// AutoReply holds the reply-generation endpoint settings. The API key is not
// stored in the file; it comes from the environment variable named by APIKeyEnv.
type AutoReply struct {
	Endpoint  string `toml:"endpoint"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Server: Server{Addr: ":5000"},
		Reconnect: Reconnect{
			BaseDelaySeconds: 5,
			MaxDelaySeconds:  30,
			MaxAttempts:      10,
		},
		AutoReply: AutoReply{
			Endpoint:  "https://openrouter.ai/api/v1/chat/completions",
			Model:     "google/gemini-2.0-flash-lite-preview-02-05:free",
			APIKeyEnv: "OPENROUTER_API_KEY",
		},
	}
}

// Load reads config from the given path, applying defaults for unset fields.
// A missing file is not an error: defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Reconnect.BaseDelaySeconds <= 0 {
		cfg.Reconnect.BaseDelaySeconds = def.Reconnect.BaseDelaySeconds
	}
	if cfg.Reconnect.MaxDelaySeconds <= 0 {
		cfg.Reconnect.MaxDelaySeconds = def.Reconnect.MaxDelaySeconds
	}
	if cfg.Reconnect.MaxAttempts <= 0 {
		cfg.Reconnect.MaxAttempts = def.Reconnect.MaxAttempts
	}
	if cfg.AutoReply.Endpoint == "" {
		cfg.AutoReply.Endpoint = def.AutoReply.Endpoint
	}
	if cfg.AutoReply.Model == "" {
		cfg.AutoReply.Model = def.AutoReply.Model
	}
	if cfg.AutoReply.APIKeyEnv == "" {
		cfg.AutoReply.APIKeyEnv = def.AutoReply.APIKeyEnv
	}
}

// BaseDelay returns the reconnect base delay as a duration.
func (r Reconnect) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelaySeconds) * time.Second
}

// MaxDelay returns the reconnect delay ceiling as a duration.
func (r Reconnect) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelaySeconds) * time.Second
}
