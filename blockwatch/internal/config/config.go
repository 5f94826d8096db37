// Package config handles blockreasons configuration from YAML files.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/blockreasons/annotate"
	"github.com/hazyhaar/blockreasons/capture"
	"github.com/hazyhaar/blockreasons/intercept"
)

// Config is the top-level configuration.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Browser   BrowserConfig   `yaml:"browser"`
	Store     StoreConfig     `yaml:"store"`
	Annotate  AnnotateConfig  `yaml:"annotate"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Timing    TimingConfig    `yaml:"timing"`
	Selectors SelectorsConfig `yaml:"selectors"`
	Admin     AdminConfig     `yaml:"admin"`
}

// SiteConfig names the page to augment.
type SiteConfig struct {
	URL    string `yaml:"url"`
	Origin string `yaml:"origin"` // derived from URL when empty
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote      string `yaml:"remote"`        // DevTools WebSocket URL of a running Chrome
	Bin         string `yaml:"bin"`           // Chrome binary, empty = auto-detect
	UserDataDir string `yaml:"user_data_dir"` // keeps the user's session between runs
	Headless    bool   `yaml:"headless"`
	Stealth     *bool  `yaml:"stealth"`
}

// StoreConfig locates the record database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// AnnotateConfig controls the prompt.
type AnnotateConfig struct {
	SavePolicy  string `yaml:"save_policy"` // strict | lenient
	MultiSelect *bool  `yaml:"multi_select"`
}

// ArchiveConfig controls the archival side-channel.
type ArchiveConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	SaveBase string        `yaml:"save_base"`
	ViewBase string        `yaml:"view_base"`
	RetryMax int           `yaml:"retry_max"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TimingConfig holds the fixed delays of the page integration.
type TimingConfig struct {
	CaptureTTL     time.Duration `yaml:"capture_ttl"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	NavSettle      time.Duration `yaml:"nav_settle"`
	BannerRetries  int           `yaml:"banner_retries"`
	BannerInterval time.Duration `yaml:"banner_interval"`
	StoreWatch     time.Duration `yaml:"store_watch"` // poll interval for record changes
}

// SelectorsConfig lists host-page matchers. Empty lists use built-in
// defaults, so markup drift only needs a config edit.
type SelectorsConfig struct {
	Post          capture.Selectors `yaml:"post"`
	ConfirmButton []string          `yaml:"confirm_button"`
	PrimaryColumn []string          `yaml:"primary_column"`
}

// AdminConfig controls the local management surface.
type AdminConfig struct {
	Addr string `yaml:"addr"` // empty disables the HTTP API
	MCP  bool   `yaml:"mcp"`  // serve MCP tools on /mcp of the admin listener
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Site.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: site.url %q must be an absolute URL", c.Site.URL)
	}
	if _, err := annotate.ParsePolicy(c.Annotate.SavePolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset fields. Call it again after overriding fields
// from flags.
func (c *Config) ApplyDefaults() { c.applyDefaults() }

func (c *Config) applyDefaults() {
	if c.Site.URL == "" {
		c.Site.URL = "https://x.com/home"
	}
	if c.Site.Origin == "" {
		if u, err := url.Parse(c.Site.URL); err == nil && u.Host != "" {
			c.Site.Origin = u.Scheme + "://" + u.Host
		}
	}
	if c.Browser.Stealth == nil {
		on := true
		c.Browser.Stealth = &on
	}
	if c.Store.Path == "" {
		c.Store.Path = "blockreasons.db"
	}
	if c.Annotate.SavePolicy == "" {
		c.Annotate.SavePolicy = string(annotate.PolicyStrict)
	}
	if c.Annotate.MultiSelect == nil {
		on := true
		c.Annotate.MultiSelect = &on
	}
	if c.Archive.Enabled == nil {
		on := true
		c.Archive.Enabled = &on
	}
	if c.Archive.SaveBase == "" {
		c.Archive.SaveBase = "https://web.archive.org/save/"
	}
	if c.Archive.ViewBase == "" {
		c.Archive.ViewBase = "https://web.archive.org/web/"
	}
	if c.Archive.RetryMax <= 0 {
		c.Archive.RetryMax = 2
	}
	if c.Archive.Timeout <= 0 {
		c.Archive.Timeout = 2 * time.Minute
	}
	if c.Timing.CaptureTTL <= 0 {
		c.Timing.CaptureTTL = capture.DefaultTTL
	}
	if c.Timing.SettleDelay <= 0 {
		c.Timing.SettleDelay = 300 * time.Millisecond
	}
	if c.Timing.NavSettle <= 0 {
		c.Timing.NavSettle = 500 * time.Millisecond
	}
	if c.Timing.BannerRetries <= 0 {
		c.Timing.BannerRetries = 10
	}
	if c.Timing.BannerInterval <= 0 {
		c.Timing.BannerInterval = 200 * time.Millisecond
	}
	if c.Timing.StoreWatch <= 0 {
		c.Timing.StoreWatch = time.Second
	}
	c.Selectors.Post = c.Selectors.Post.Merge()
	if len(c.Selectors.ConfirmButton) == 0 {
		c.Selectors.ConfirmButton = append([]string(nil), intercept.DefaultConfirmSelectors...)
	}
	if len(c.Selectors.PrimaryColumn) == 0 {
		c.Selectors.PrimaryColumn = []string{`[data-testid="primaryColumn"]`, `main [role="main"]`, `main`}
	}
}
