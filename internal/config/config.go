// Package config loads ~/.ccai/config.toml and the per-session .env
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creativecareer/ccai/internal/auth"
	"github.com/joho/godotenv"
)

// Environment variables that override the file.
const (
	EnvAPIURL    = "CCAI_API_URL"
	EnvSocketURL = "CCAI_SOCKET_URL"
	EnvToken     = "CCAI_TOKEN"
	EnvUserID    = "CCAI_USER_ID"
)

// Config represents the global ~/.ccai/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	APIURL    string `toml:"api_url"`
	SocketURL string `toml:"socket_url"`
	Token     string `toml:"token,omitempty"`
	UserID    string `toml:"user_id,omitempty"`
	LogLevel  string `toml:"log_level"`

	PageSize             int           `toml:"page_size"`
	TypingDebounce       time.Duration `toml:"typing_debounce"`
	TypingExpiry         time.Duration `toml:"typing_expiry"`
	ReconnectInterval    time.Duration `toml:"reconnect_interval"`
	PingInterval         time.Duration `toml:"ping_interval"`
	RequestTimeout       time.Duration `toml:"request_timeout"`
	AllowConcurrentSends bool          `toml:"allow_concurrent_sends"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	return Config{
		LogLevel:          "info",
		PageSize:          50,
		TypingDebounce:    2 * time.Second,
		TypingExpiry:      3 * time.Second,
		ReconnectInterval: 5 * time.Second,
		PingInterval:      25 * time.Second,
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		d := Default()
		return &d, nil
	}
	return cfg, err
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

// ApplyEnv overrides connection settings from envFile (if it exists) and
// then from the process environment, which wins.
func (c *Config) ApplyEnv(envFile string) error {
	fileVars := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileVars = vars
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileVars[key]
	}

	for key, dst := range map[string]*string{
		EnvAPIURL:    &c.APIURL,
		EnvSocketURL: &c.SocketURL,
		EnvToken:     &c.Token,
		EnvUserID:    &c.UserID,
	} {
		if v := lookup(key); v != "" {
			*dst = v
		}
	}
	return nil
}

// ResolveUserID fills UserID from the token's claims when it is not set.
func (c *Config) ResolveUserID() error {
	if c.UserID != "" {
		return nil
	}
	if c.Token == "" {
		return errors.New("user_id is not set and there is no token to read it from")
	}
	id, err := auth.UserIDFromToken(c.Token)
	if err != nil {
		return fmt.Errorf("user id from token: %w", err)
	}
	c.UserID = id
	return nil
}

// Validate checks the settings the daemon cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	if c.SocketURL == "" {
		errs = append(errs, errors.New("socket_url is required"))
	}
	if c.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	for name, d := range map[string]time.Duration{
		"typing_debounce":    c.TypingDebounce,
		"typing_expiry":      c.TypingExpiry,
		"reconnect_interval": c.ReconnectInterval,
		"ping_interval":      c.PingInterval,
		"request_timeout":    c.RequestTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}
