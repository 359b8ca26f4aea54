// Package config loads cartsync settings from defaults, an optional YAML
// file and the environment. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/cartsync/internal/logging"
	"github.com/dshills/cartsync/internal/variant"
)

// Environment variables read by Load.
const (
	EnvBaseURL       = "CARTSYNC_BASE_URL"
	EnvVariant       = "CARTSYNC_VARIANT"
	EnvPagePath      = "CARTSYNC_PAGE_PATH"
	EnvRedirectDelay = "CARTSYNC_REDIRECT_DELAY"
	EnvLogLevel      = "CARTSYNC_LOG_LEVEL"
	EnvCookieFile    = "CARTSYNC_COOKIE_FILE"
)

// DefaultRedirectDelay matches the storefront's login redirect delay.
const DefaultRedirectDelay = "1500ms"

// Config holds the cartsync settings.
type Config struct {
	BaseURL string `yaml:"base_url"`
	Variant string `yaml:"variant"`
	// PagePath is the cart page reloaded after the cart empties. Empty
	// means the variant's own cart page.
	PagePath      string `yaml:"page_path"`
	RedirectDelay string `yaml:"redirect_delay"`
	LogLevel      string `yaml:"log_level"`
	CookieFile    string `yaml:"cookie_file"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Variant:       "gateway",
		RedirectDelay: DefaultRedirectDelay,
		LogLevel:      "info",
	}
}

// Load returns the defaults overlaid with the YAML file at path, when path
// is non-empty, and then with the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvVariant); v != "" {
		c.Variant = v
	}
	if v := os.Getenv(EnvPagePath); v != "" {
		c.PagePath = v
	}
	if v := os.Getenv(EnvRedirectDelay); v != "" {
		c.RedirectDelay = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvCookieFile); v != "" {
		c.CookieFile = v
	}
}

// Validate checks every setting.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base URL is required (--base-url or " + EnvBaseURL + ")")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base URL %q: expected an absolute http or https URL", c.BaseURL)
	}
	if _, err := variant.Get(c.Variant); err != nil {
		return err
	}
	if _, err := c.GetRedirectDelay(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// GetRedirectDelay parses RedirectDelay. Empty means the default.
func (c *Config) GetRedirectDelay() (time.Duration, error) {
	s := c.RedirectDelay
	if s == "" {
		s = DefaultRedirectDelay
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid redirect delay %q: %w", c.RedirectDelay, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid redirect delay %q: must not be negative", c.RedirectDelay)
	}
	return d, nil
}

// PageFor returns the page path to reload for v.
func (c *Config) PageFor(v *variant.Variant) string {
	if c.PagePath != "" {
		return c.PagePath
	}
	return v.PagePath
}
