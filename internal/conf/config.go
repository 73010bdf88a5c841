// Package conf defines the application settings and loads them from config
// file, environment, and flags via viper.
package conf

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Settings is the full application configuration.
type Settings struct {
	Debug bool `yaml:"debug"` // global debug flag

	Main struct {
		Name string    `yaml:"name"` // client instance name, used in logs
		Log  LogConfig `yaml:"log"`  // file logging configuration
	} `yaml:"main"`

	Server struct {
		BaseURL     string `yaml:"baseurl"`     // platform API base, e.g. https://api.ovation.example
		StreamPath  string `yaml:"streampath"`  // SSE stream endpoint path
		PollPath    string `yaml:"pollpath"`    // poll endpoint path
		RefreshPath string `yaml:"refreshpath"` // session refresh endpoint path
	} `yaml:"server"`

	Client struct {
		PollInterval           time.Duration `yaml:"pollinterval"`           // polling fallback cadence
		SessionCheckInterval   time.Duration `yaml:"sessioncheckinterval"`   // session monitor cadence
		SessionExpiryThreshold time.Duration `yaml:"sessionexpirythreshold"` // refresh when expiry is closer than this
		RequestTimeout         time.Duration `yaml:"requesttimeout"`         // bound on poll/refresh requests
		MaxNotifications       int           `yaml:"maxnotifications"`       // store cap
	} `yaml:"client"`

	Cache struct {
		Enabled bool   `yaml:"enabled"` // persist last-known snapshot locally
		Path    string `yaml:"path"`    // sqlite file path
	} `yaml:"cache"`

	Forward struct {
		Enabled bool     `yaml:"enabled"` // forward new notifications via shoutrrr
		URLs    []string `yaml:"urls"`    // shoutrrr service URLs
	} `yaml:"forward"`

	Sentry struct {
		Enabled bool   `yaml:"enabled"` // opt-in error telemetry
		DSN     string `yaml:"dsn"`
		Debug   bool   `yaml:"debug"`
	} `yaml:"sentry"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"` // expose Prometheus metrics
		Listen  string `yaml:"listen"`  // metrics listen address
	} `yaml:"metrics"`

	DevServer struct {
		Listen     string        `yaml:"listen"`     // development server listen address
		SessionTTL time.Duration `yaml:"sessionttl"` // lifetime of issued dev tokens
	} `yaml:"devserver"`
}

// LogConfig controls the rotating file logs.
type LogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxsize"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAgeDays int    `yaml:"maxage"`
}

var (
	settingsInstance *Settings
	settingsOnce     sync.Once
	settingsMu       sync.RWMutex
)

// Setting returns the loaded settings, loading them on first use.
func Setting() *Settings {
	settingsOnce.Do(func() {
		if settingsInstance == nil {
			s, err := Load("")
			if err != nil {
				// Fall back to defaults so callers always get a usable
				// settings object; validation errors surface at startup.
				s = defaultSettings()
			}
			settingsMu.Lock()
			settingsInstance = s
			settingsMu.Unlock()
		}
	})
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsInstance
}

// Load reads configuration from the given file (or the default search path
// when empty), applies environment overrides, and validates the result.
func Load(configPath string) (*Settings, error) {
	v := viper.GetViper()
	setDefaultConfig(v)

	v.SetEnvPrefix("OVATION_NOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range configPaths() {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
			// No config file is fine; defaults and env apply.
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(settings); err != nil {
		return nil, err
	}

	settingsMu.Lock()
	settingsInstance = settings
	settingsMu.Unlock()
	return settings, nil
}

// Validate checks settings for values the client cannot operate with.
func Validate(s *Settings) error {
	if s.Server.BaseURL == "" {
		return fmt.Errorf("server.baseurl is required")
	}
	u, err := url.Parse(s.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.baseurl %q is not a valid URL", s.Server.BaseURL)
	}
	if s.Client.PollInterval <= 0 {
		return fmt.Errorf("client.pollinterval must be positive")
	}
	if s.Client.SessionCheckInterval <= 0 {
		return fmt.Errorf("client.sessioncheckinterval must be positive")
	}
	if s.Client.SessionExpiryThreshold <= 0 {
		return fmt.Errorf("client.sessionexpirythreshold must be positive")
	}
	if s.Client.RequestTimeout <= 0 {
		return fmt.Errorf("client.requesttimeout must be positive")
	}
	if s.Forward.Enabled && len(s.Forward.URLs) == 0 {
		return fmt.Errorf("forward.enabled requires at least one forward.urls entry")
	}
	return nil
}

// StreamURL returns the absolute stream endpoint URL.
func (s *Settings) StreamURL() string {
	return joinURL(s.Server.BaseURL, s.Server.StreamPath)
}

// PollURL returns the absolute poll endpoint URL.
func (s *Settings) PollURL() string {
	return joinURL(s.Server.BaseURL, s.Server.PollPath)
}

// RefreshURL returns the absolute session refresh endpoint URL.
func (s *Settings) RefreshURL() string {
	return joinURL(s.Server.BaseURL, s.Server.RefreshPath)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// SaveDefault writes a commented-free default config file to path, creating
// parent directories as needed. Existing files are not overwritten.
func SaveDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(defaultSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// configPaths returns the config file search path in priority order.
func configPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "ovation-notify"))
	}
	return paths
}
