// CLAUDE:SUMMARY Defines the releasedeploy YAML configuration (admin-ajax endpoint, nonces, feature flags, observer timings, browser, sinks, history) with defaults and validation.
// Package config loads the injected client configuration from YAML.
//
// The layout mirrors the object WordPress localizes into admin pages (ajax
// URL, feature flags, per-context nonces) plus the settings this process
// needs to run: observer timings, browser, sinks and history.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/releasedeploy/ajax"
	"github.com/hazyhaar/releasedeploy/browser"
	"github.com/hazyhaar/releasedeploy/fieldwatch"
)

// Config is the top-level configuration.
type Config struct {
	AjaxURL     string        `yaml:"ajax_url"`
	AdminURL    string        `yaml:"admin_url"`
	PurchaseURL string        `yaml:"purchase_url"`
	SettingsURL string        `yaml:"settings_url"`
	Timeout     time.Duration `yaml:"timeout"`
	// FallbackMessage is shown for failures that carry no backend message.
	FallbackMessage string         `yaml:"fallback_message"`
	Actions         ajax.Actions   `yaml:"actions"`
	Features        Features       `yaml:"features"`
	Contexts        Contexts       `yaml:"contexts"`
	Observer        ObserverConfig `yaml:"observer"`
	Browser         BrowserConfig  `yaml:"browser"`
	Sinks           []SinkConfig   `yaml:"sinks"`
	History         HistoryConfig  `yaml:"history"`
	Stub            StubConfig     `yaml:"stub"`
	LogLevel        string         `yaml:"log_level"`
}

// Features are the lite/pro feature flags.
type Features struct {
	UseLatestRelease bool `yaml:"use_latest_release"`
	Webhooks         bool `yaml:"webhooks"`
	Notifications    bool `yaml:"notifications"`
	VersionSync      bool `yaml:"version_sync"`
	ChangelogSync    bool `yaml:"changelog_sync"`
}

// Contexts carries per-screen data, most importantly the nonces.
type Contexts struct {
	Settings *SettingsContext `yaml:"settings"`
	Metabox  *MetaboxContext  `yaml:"metabox"`
	Browser  *BrowserContext  `yaml:"browser"`
}

// SettingsContext is the plugin settings screen context.
type SettingsContext struct {
	Token             string `yaml:"token"`
	IsConstantDefined bool   `yaml:"is_constant_defined"`
	Nonce             string `yaml:"nonce"`
}

// MetaboxContext is the download edit screen context.
type MetaboxContext struct {
	DownloadID int    `yaml:"download_id"`
	Nonce      string `yaml:"nonce"`
}

// BrowserContext is the repository browser context.
type BrowserContext struct {
	Nonce string `yaml:"nonce"`
}

// ObserverConfig tunes the file input observer.
type ObserverConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	Debounce        time.Duration `yaml:"debounce"`
	WrapperSelector string        `yaml:"wrapper_selector"`
	FieldSelector   string        `yaml:"field_selector"`
	// AnchorSelector finds one element inside each file row; the watch
	// command attaches a row per match. Default: the field selector.
	AnchorSelector string `yaml:"anchor_selector"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote     string        `yaml:"remote"`
	Headless   *bool         `yaml:"headless"`
	Stealth    bool          `yaml:"stealth"`
	NavTimeout time.Duration `yaml:"nav_timeout"`
	// BlockResources lists resource types not loaded by admin tabs
	// (images, fonts, media, stylesheets).
	BlockResources []string `yaml:"block_resources"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type         string `yaml:"type"` // stdout | webhook | history
	URL          string `yaml:"url"`
	Retries      int    `yaml:"retries"`
	AllowPrivate bool   `yaml:"allow_private"`
}

// HistoryConfig locates the SQLite history database.
type HistoryConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// StubConfig configures the fixture backend.
type StubConfig struct {
	Addr     string        `yaml:"addr"`
	Fixtures string        `yaml:"fixtures"`
	Latency  time.Duration `yaml:"latency"`
}

// LoadFile reads a YAML configuration file, applies defaults and validates
// the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no
// endpoint.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FallbackMessage == "" {
		c.FallbackMessage = "Network error"
	}
	if c.Observer.PollInterval <= 0 {
		c.Observer.PollInterval = 600 * time.Millisecond
	}
	if c.Observer.Debounce <= 0 {
		c.Observer.Debounce = 600 * time.Millisecond
	}
	if c.Observer.WrapperSelector == "" {
		c.Observer.WrapperSelector = fieldwatch.DefaultWrapperSelector
	}
	if c.Observer.FieldSelector == "" {
		c.Observer.FieldSelector = fieldwatch.DefaultFieldSelector
	}
	if c.Observer.AnchorSelector == "" {
		c.Observer.AnchorSelector = c.Observer.FieldSelector
	}
	if c.Browser.Headless == nil {
		headless := true
		c.Browser.Headless = &headless
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.History.Retention <= 0 {
		c.History.Retention = 30 * 24 * time.Hour
	}
	if c.Stub.Addr == "" {
		c.Stub.Addr = "127.0.0.1:8089"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries == 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

// Validate reports configuration errors. An empty AjaxURL is allowed: only
// commands talking to the backend require it (see RequireBackend).
func (c *Config) Validate() error {
	var errs []error
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout", "history":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("config: sinks[%d]: webhook requires url", i))
			}
		default:
			errs = append(errs, fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type))
		}
		if s.Type == "history" && c.History.Path == "" {
			errs = append(errs, fmt.Errorf("config: sinks[%d]: history sink requires history.path", i))
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log_level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// RequireBackend checks that the AJAX endpoint and a nonce are configured.
func (c *Config) RequireBackend() error {
	if c.AjaxURL == "" {
		return errors.New("config: ajax_url is required")
	}
	if c.Nonce() == "" {
		return errors.New("config: no nonce in contexts.settings or contexts.browser")
	}
	return nil
}

// Nonce returns the nonce used for file validation: the settings nonce,
// else the browser nonce, else empty.
func (c *Config) Nonce() string {
	if s := c.Contexts.Settings; s != nil && s.Nonce != "" {
		return s.Nonce
	}
	if b := c.Contexts.Browser; b != nil && b.Nonce != "" {
		return b.Nonce
	}
	return ""
}

// FieldwatchConfig converts the observer section for fieldwatch.
func (c *Config) FieldwatchConfig() fieldwatch.Config {
	return fieldwatch.Config{
		PollInterval:    c.Observer.PollInterval,
		Debounce:        c.Observer.Debounce,
		WrapperSelector: c.Observer.WrapperSelector,
		FieldSelector:   c.Observer.FieldSelector,
	}
}

// AjaxConfig converts the backend section for ajax.New.
func (c *Config) AjaxConfig() ajax.Config {
	return ajax.Config{
		Endpoint: c.AjaxURL,
		Nonce:    c.Nonce(),
		Timeout:  c.Timeout,
		Actions:  c.Actions,
	}
}

// ChromeConfig converts the browser section for browser.NewManager.
func (c *Config) ChromeConfig(logger *slog.Logger) browser.Config {
	return browser.Config{
		RemoteURL:      c.Browser.Remote,
		Headful:        c.Browser.Headless != nil && !*c.Browser.Headless,
		Stealth:        c.Browser.Stealth,
		NavTimeout:     c.Browser.NavTimeout,
		BlockResources: c.Browser.BlockResources,
		Logger:         logger,
	}
}

// Level returns LogLevel as a slog level; unknown names map to info.
func (c *Config) Level() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
