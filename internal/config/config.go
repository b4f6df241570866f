package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultHost           = "127.0.0.1"

	DefaultUpstreamURL    = "https://openrouter.ai/api/v1/chat/completions"
	DefaultReferer        = "https://omnitalkx.example.com"
	DefaultTitle          = "OmniTalk X"
	DefaultTimeoutSeconds = 120
	DefaultGroupSize      = 5

	KeyFilename     = "api_key.env"
	GroupsFilename  = "groups.json"
	ContextsDirname = "contexts"
)

type RateLimit struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	Burst             int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// Enabled reports whether per-client rate limiting is configured.
func (r RateLimit) Enabled() bool {
	return r.RequestsPerSecond > 0
}

type Config struct {
	Host   string `json:"host,omitempty" yaml:"host,omitempty"`
	Port   int    `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	UpstreamURL    string `json:"upstream_url,omitempty" yaml:"upstream_url,omitempty"`
	Referer        string `json:"referer,omitempty" yaml:"referer,omitempty"`
	Title          string `json:"title,omitempty" yaml:"title,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`

	DataDir       string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	ProvidersFile string `json:"providers_file,omitempty" yaml:"providers_file,omitempty"`
	StaticDir     string `json:"static_dir,omitempty" yaml:"static_dir,omitempty"`

	GroupSize         int       `json:"group_size,omitempty" yaml:"group_size,omitempty"`
	RateLimit         RateLimit `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	CORSOrigins       []string  `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
	DisableTokenCount bool      `json:"disable_token_count,omitempty" yaml:"disable_token_count,omitempty"`
}

// Timeout is the per-call upstream HTTP timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *Config) KeyFile() string {
	return filepath.Join(c.DataDir, KeyFilename)
}

func (c *Config) GroupsFile() string {
	return filepath.Join(c.DataDir, GroupsFilename)
}

func (c *Config) ContextsDir() string {
	return filepath.Join(c.DataDir, ContextsDirname)
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.UpstreamURL == "" {
		c.UpstreamURL = DefaultUpstreamURL
	}
	if c.Referer == "" {
		c.Referer = DefaultReferer
	}
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.GroupSize == 0 {
		c.GroupSize = DefaultGroupSize
	}
	if c.DataDir == "" {
		c.DataDir = baseDir
	}
	if c.RateLimit.Enabled() && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = max(1, int(c.RateLimit.RequestsPerSecond))
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if u, err := url.Parse(c.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream_url %q is not an absolute URL", c.UpstreamURL))
	}
	if c.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds))
	}
	if c.GroupSize < 0 {
		errs = append(errs, fmt.Errorf("group_size must be positive, got %d", c.GroupSize))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if c.ProvidersFile != "" {
		if _, err := os.Stat(c.ProvidersFile); err != nil {
			errs = append(errs, fmt.Errorf("providers_file: %w", err))
		}
	}
	if c.StaticDir != "" {
		if info, err := os.Stat(c.StaticDir); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Errorf("static_dir %q is not a directory", c.StaticDir))
		}
	}

	return errors.Join(errs...)
}

type Manager struct {
	baseDir     string
	jsonPath    string
	yamlPath    string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		jsonPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath: filepath.Join(baseDir, DefaultYAMLFilename),
	}
}

// Load reads config.yaml if present, otherwise config.json.
func (m *Manager) Load() (*Config, error) {
	var cfg Config

	if m.HasYAML() {
		data, err := os.ReadFile(m.yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	} else {
		data, err := os.ReadFile(m.jsonPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyDefaults(m.baseDir)

	m.configValue.Store(&cfg)
	return &cfg, nil
}

// Get returns the cached config, loading it on first use. When no usable
// config exists the defaults are returned.
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		cfg = m.Defaults()
	}
	return cfg
}

// Defaults returns a config with every default applied.
func (m *Manager) Defaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults(m.baseDir)
	return cfg
}

// Save writes cfg in the format already in use, JSON when there is none.
func (m *Manager) Save(cfg *Config) error {
	if m.HasYAML() {
		return m.SaveAsYAML(cfg)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return m.write(m.jsonPath, data, cfg)
}

func (m *Manager) SaveAsYAML(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml config: %w", err)
	}

	return m.write(m.yamlPath, data, cfg)
}

func (m *Manager) write(path string, data []byte, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	stored := *cfg
	stored.applyDefaults(m.baseDir)
	m.configValue.Store(&stored)
	return nil
}

// CreateExampleYAML writes a commented starter config.
func (m *Manager) CreateExampleYAML() error {
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := os.WriteFile(m.yamlPath, []byte(exampleYAML), 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	_, err := m.Load()
	return err
}

// GetPath returns the active config file, preferring YAML.
func (m *Manager) GetPath() string {
	if m.HasYAML() {
		return m.yamlPath
	}
	return m.jsonPath
}

func (m *Manager) BaseDir() string {
	return m.baseDir
}

func (m *Manager) Exists() bool {
	return m.HasYAML() || m.HasJSON()
}

func (m *Manager) HasYAML() bool {
	_, err := os.Stat(m.yamlPath)
	return err == nil
}

func (m *Manager) HasJSON() bool {
	_, err := os.Stat(m.jsonPath)
	return err == nil
}

const exampleYAML = `# omnitalk relay configuration
host: 127.0.0.1
port: 6970

# Optional bearer token required from callers of the relay.
# api_key: change-me

upstream_url: https://openrouter.ai/api/v1/chat/completions
referer: https://omnitalkx.example.com
title: OmniTalk X
timeout_seconds: 120

# Number of random bots answering a group message nobody was mentioned in.
group_size: 5

# Per-client request budget. Zero disables limiting.
rate_limit:
  requests_per_second: 5
  burst: 10

# Override or extend the built-in providers.
# providers_file: /path/to/providers.yaml

# Serve the web client from this directory.
# static_dir: /path/to/dist
`
