package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"page-verifier/readiness"

	"gopkg.in/yaml.v3"
)

const (
	DefaultURL        = "http://localhost:3000"
	DefaultWaitFor    = "text=Start Game"
	DefaultOutputPath = "verification/start_menu.png"

	// Milliseconds, matching the usual browser-automation default.
	DefaultTimeout = 30000
)

// Cookie represents a browser cookie to set before navigation
type Cookie struct {
	Name     string `json:"name" yaml:"name"`
	Value    string `json:"value" yaml:"value"`
	Domain   string `json:"domain,omitempty" yaml:"domain,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty" yaml:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty" yaml:"httpOnly,omitempty"`
}

// LocalStorage represents a localStorage key-value pair to set
type LocalStorage struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Viewport represents browser viewport dimensions
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Config describes a single page verification
type Config struct {
	URL               string         `json:"url" yaml:"url"`
	WaitFor           string         `json:"waitFor" yaml:"waitFor"`
	Output            string         `json:"output" yaml:"output"`
	Timeout           int            `json:"timeout,omitempty" yaml:"timeout,omitempty"`                     // Readiness wait in milliseconds
	NavigationTimeout int            `json:"navigationTimeout,omitempty" yaml:"navigationTimeout,omitempty"` // Page load in milliseconds
	Viewport          Viewport       `json:"viewport" yaml:"viewport"`
	FileFormat        string         `json:"fileFormat" yaml:"fileFormat"`
	Quality           int            `json:"quality" yaml:"quality"`
	FullPage          bool           `json:"fullPage,omitempty" yaml:"fullPage,omitempty"`
	ChromePath        string         `json:"chromePath,omitempty" yaml:"chromePath,omitempty"`
	RemoteURL         string         `json:"remoteURL,omitempty" yaml:"remoteURL,omitempty"` // DevTools endpoint of an already running browser
	Headless          *bool          `json:"headless,omitempty" yaml:"headless,omitempty"`
	Cookies           []Cookie       `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	LocalStorage      []LocalStorage `json:"localStorage,omitempty" yaml:"localStorage,omitempty"`
}

// Default returns the start menu check with every default applied
func Default() *Config {
	cfg := &Config{}
	// Defaults never fail validation.
	_ = validateConfig(cfg)
	return cfg
}

// LoadConfig loads configuration from a JSON or YAML file
func LoadConfig(path string) (*Config, error) {
	config, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// ReadConfig parses a JSON or YAML file without applying defaults, so that
// command-line overrides can be layered on before Validate.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	return &config, nil
}

// Validate re-checks a config after command-line overrides were applied
func (c *Config) Validate() error {
	return validateConfig(c)
}

// IsHeadless reports whether the browser should run without a window
func (c *Config) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

// WaitTimeout is the readiness wait as a duration
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// NavTimeout is the page load limit as a duration. Unset falls back to the
// readiness timeout.
func (c *Config) NavTimeout() time.Duration {
	if c.NavigationTimeout == 0 {
		return c.WaitTimeout()
	}
	return time.Duration(c.NavigationTimeout) * time.Millisecond
}

// validateConfig validates configuration and sets defaults
func validateConfig(config *Config) error {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	u, err := url.Parse(config.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", config.URL, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("invalid url %q: missing host", config.URL)
		}
	case "file", "data", "about":
	default:
		return fmt.Errorf("invalid url %q: unsupported scheme %q", config.URL, u.Scheme)
	}

	if config.WaitFor == "" {
		config.WaitFor = DefaultWaitFor
	}
	if _, err := readiness.Parse(config.WaitFor); err != nil {
		return fmt.Errorf("invalid waitFor: %w", err)
	}

	if config.Output == "" {
		config.Output = DefaultOutputPath
	}

	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	} else if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if config.NavigationTimeout < 0 {
		return fmt.Errorf("navigationTimeout must be positive")
	}

	if config.Viewport.Width == 0 && config.Viewport.Height == 0 {
		config.Viewport = Viewport{Width: 1280, Height: 720}
	} else if config.Viewport.Width <= 0 || config.Viewport.Height <= 0 {
		return fmt.Errorf("viewport must have positive width and height, got %dx%d",
			config.Viewport.Width, config.Viewport.Height)
	}

	// Set default file format if not specified
	if config.FileFormat == "" {
		config.FileFormat = formatFromPath(config.Output)
	}
	config.FileFormat = strings.ToLower(config.FileFormat)
	if config.FileFormat == "jpg" {
		config.FileFormat = "jpeg"
	}
	if config.FileFormat != "png" && config.FileFormat != "jpeg" {
		return fmt.Errorf("unsupported file format: %s (supported: png, jpeg)", config.FileFormat)
	}

	// Set default quality if not specified
	if config.Quality == 0 {
		config.Quality = 80
	} else if config.Quality < 1 || config.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100")
	}

	for i, cookie := range config.Cookies {
		if cookie.Name == "" {
			return fmt.Errorf("cookie #%d is missing name", i+1)
		}
	}
	for i, item := range config.LocalStorage {
		if item.Key == "" {
			return fmt.Errorf("localStorage item #%d is missing key", i+1)
		}
	}

	return nil
}

// formatFromPath picks the image format implied by the output file extension
func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "jpeg"
	default:
		return "png"
	}
}
