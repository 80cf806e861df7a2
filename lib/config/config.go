// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when no --config flag is
// given.
const EnvironmentVariable = "WXWEB_CONFIG"

// Config is the configuration of a wxweb client.
type Config struct {
	// Login configures the QR login handshake.
	Login LoginConfig `yaml:"login"`

	// Transport configures HTTP behavior.
	Transport TransportConfig `yaml:"transport"`

	// Retry configures the backoff applied to transport failures.
	Retry RetryConfig `yaml:"retry"`

	// Paths configures file locations.
	Paths PathsConfig `yaml:"paths"`

	// History configures the recent-message buffer used to resolve
	// recall notices.
	History HistoryConfig `yaml:"history"`
}

// LoginConfig configures the login handshake.
type LoginConfig struct {
	// URL is the login host origin.
	// Default: https://login.weixin.qq.com
	URL string `yaml:"url"`

	// AppID identifies the web client to the login host.
	AppID string `yaml:"app_id"`

	// Lang is the interface language sent with login and API calls.
	// Default: zh_CN
	Lang string `yaml:"lang"`

	// Attempts is how many QR codes are issued before giving up when
	// codes expire or the user cancels on the phone.
	// Default: 1
	Attempts int `yaml:"attempts"`
}

// TransportConfig configures HTTP behavior.
type TransportConfig struct {
	// RequestTimeout bounds ordinary API calls.
	// Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// LongPollTimeout bounds the login poll and synccheck. It must
	// exceed the server's hold time (about 25s).
	// Default: 35s
	LongPollTimeout time.Duration `yaml:"long_poll_timeout"`

	// UserAgent overrides the browser user agent string.
	UserAgent string `yaml:"user_agent"`
}

// RetryConfig configures exponential backoff for transport failures.
type RetryConfig struct {
	// Default: 1s
	InitialInterval time.Duration `yaml:"initial_interval"`

	// Default: 30s
	MaxInterval time.Duration `yaml:"max_interval"`

	// Default: 2
	Multiplier float64 `yaml:"multiplier"`

	// MaxAttempts is how many consecutive failures are tolerated before
	// a failure is reported.
	// Default: 5
	MaxAttempts int `yaml:"max_attempts"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Root is the base directory for client data.
	Root string `yaml:"root"`

	// SessionFile is where the session snapshot is kept between runs.
	// Empty disables persistence.
	SessionFile string `yaml:"session_file"`

	// MediaDir is where downloaded media is written. Empty disables
	// downloads.
	MediaDir string `yaml:"media_dir"`
}

// HistoryConfig configures the recent-message buffer.
type HistoryConfig struct {
	// Size is the number of messages kept. Zero disables recall
	// correlation.
	// Default: 1000
	Size int `yaml:"size"`
}

// Default returns the default configuration. Loaded files are applied
// on top of it.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "wxweb")

	return &Config{
		Login: LoginConfig{
			URL:      "https://login.weixin.qq.com",
			AppID:    "wx782c26e4c19acffb",
			Lang:     "zh_CN",
			Attempts: 1,
		},
		Transport: TransportConfig{
			RequestTimeout:  30 * time.Second,
			LongPollTimeout: 35 * time.Second,
		},
		Retry: RetryConfig{
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2,
			MaxAttempts:     5,
		},
		Paths: PathsConfig{
			Root:        defaultRoot,
			SessionFile: filepath.Join(defaultRoot, "session.cbor"),
			MediaDir:    filepath.Join(defaultRoot, "media"),
		},
		History: HistoryConfig{
			Size: 1000,
		},
	}
}

// Load loads configuration from the file named by WXWEB_CONFIG. There
// is no search path: if the variable is not set, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your wxweb.yaml config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from path on top of Default, then
// expands ${HOME}, ${WXWEB_ROOT}, and ${VAR:-default} in path fields.
// Environment variables do not override individual values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"WXWEB_ROOT": c.Paths.Root,
		"HOME":       os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["WXWEB_ROOT"] = c.Paths.Root // Dependent paths see the expanded root.

	c.Paths.SessionFile = expandVars(c.Paths.SessionFile, vars)
	c.Paths.MediaDir = expandVars(c.Paths.MediaDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Provided vars first, then the environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors and reports all of
// them at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Login.URL == "" {
		errs = append(errs, errors.New("login.url is required"))
	} else if parsed, err := url.Parse(c.Login.URL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("login.url %q is not an absolute URL", c.Login.URL))
	}
	if c.Login.Attempts < 1 {
		errs = append(errs, errors.New("login.attempts must be at least 1"))
	}

	if c.Transport.RequestTimeout <= 0 {
		errs = append(errs, errors.New("transport.request_timeout must be positive"))
	}
	if c.Transport.LongPollTimeout <= 0 {
		errs = append(errs, errors.New("transport.long_poll_timeout must be positive"))
	}

	if c.Retry.InitialInterval <= 0 {
		errs = append(errs, errors.New("retry.initial_interval must be positive"))
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		errs = append(errs, errors.New("retry.max_interval must not be less than retry.initial_interval"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry.multiplier must be at least 1"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}

	if c.History.Size < 0 {
		errs = append(errs, errors.New("history.size must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories if they don't exist.
// Session data is private, so directories are created 0700.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Paths.Root, c.Paths.MediaDir}
	if c.Paths.SessionFile != "" {
		paths = append(paths, filepath.Dir(c.Paths.SessionFile))
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
