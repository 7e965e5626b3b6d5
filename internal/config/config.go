// internal/config/config.go
//
// This package handles configuration and the .director directory structure.
// Every project that uses director gets a .director/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/director/internal/story"
)

const (
	// DirectorDir is the name of the directory we create in each project
	DirectorDir = ".director"

	defaultServiceURL     = "http://localhost:8000"
	defaultServiceTimeout = 120 * time.Second
	defaultBackend        = "sqlite"
	defaultLogLevel       = "info"
)

var defaultModes = []string{"cinematic", "comic", "novel"}

const defaultProjectConfigYAML = `# director project configuration
version: 1

# Generation service. DIRECTOR_SERVICE_URL and DIRECTOR_SERVICE_TIMEOUT override these.
service:
  url: http://localhost:8000
  timeout: 120s

# Optional read-aloud sidecar. Leave url empty to disable narration.
narration:
  url: ""
  voice: ""

# Selector values used for the next session.
defaults:
  mode: cinematic
  strategy: manual

modes:
  - cinematic
  - comic
  - novel

# sqlite (state/director.db) or file (state/slots.json)
storage:
  backend: sqlite

log:
  level: info
`

// ServiceConfig points at the generation service.
type ServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// NarrationConfig points at the read-aloud sidecar.
type NarrationConfig struct {
	URL   string `yaml:"url"`
	Voice string `yaml:"voice,omitempty"`
}

// DefaultsConfig holds the selector values for the next session.
type DefaultsConfig struct {
	Mode     string `yaml:"mode"`
	Strategy string `yaml:"strategy"`
}

// StorageConfig selects the slot backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
}

// LogConfig controls the debug log.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ProjectConfig models .director/config.yaml.
type ProjectConfig struct {
	Version   int             `yaml:"version"`
	Service   ServiceConfig   `yaml:"service"`
	Narration NarrationConfig `yaml:"narration"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Modes     []string        `yaml:"modes"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// EnvOverrides are read from the environment and win over the file. They are
// kept apart from ProjectConfig so saving the file never bakes them in.
type EnvOverrides struct {
	ServiceURL     *string        `env:"DIRECTOR_SERVICE_URL"`
	ServiceTimeout *time.Duration `env:"DIRECTOR_SERVICE_TIMEOUT"`
	NarrationURL   *string        `env:"DIRECTOR_NARRATION_URL"`
	StorageBackend *string        `env:"DIRECTOR_STORAGE_BACKEND"`
	LogLevel       *string        `env:"DIRECTOR_LOG_LEVEL"`
}

// Config holds the runtime configuration for director.
type Config struct {
	// ProjectDir is the directory where the user ran `director` from
	ProjectDir string

	// DirectorProjectDir is ProjectDir/.director
	DirectorProjectDir string

	Project ProjectConfig
	Env     EnvOverrides
}

// InitDirectorDir creates the .director directory structure in the given project directory.
//
// Structure created:
// .director/
// ├── config.yaml
// ├── logs/      <- director.log (debug) and journey.log (journal)
// ├── state/     <- persisted session slots
// ├── audio/     <- narration output
// └── exports/   <- rendered story documents
func InitDirectorDir(projectDir string) error {
	directorDir := filepath.Join(projectDir, DirectorDir)
	dirs := []string{
		filepath.Join(directorDir, "logs"),
		filepath.Join(directorDir, "state"),
		filepath.Join(directorDir, "audio"),
		filepath.Join(directorDir, "exports"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(directorDir, "config.yaml"))
}

// NewConfig creates a new Config populated from .director/config.yaml and the environment.
func NewConfig(projectDir string) (*Config, error) {
	if strings.TrimSpace(projectDir) == "" {
		return nil, fmt.Errorf("config: project directory is required")
	}
	cfg := &Config{
		ProjectDir:         projectDir,
		DirectorProjectDir: filepath.Join(projectDir, DirectorDir),
		Project:            defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := env.Parse(&cfg.Env); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.DirectorProjectDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.DirectorProjectDir, "state")
}

// AudioDir returns where narration audio is written
func (c *Config) AudioDir() string {
	return filepath.Join(c.DirectorProjectDir, "audio")
}

// ExportsDir returns where exported documents are written
func (c *Config) ExportsDir() string {
	return filepath.Join(c.DirectorProjectDir, "exports")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.DirectorProjectDir, "config.yaml")
}

// ServiceURL returns the generation service base URL.
func (c *Config) ServiceURL() string {
	if c.Env.ServiceURL != nil && strings.TrimSpace(*c.Env.ServiceURL) != "" {
		return strings.TrimRight(strings.TrimSpace(*c.Env.ServiceURL), "/")
	}
	return c.Project.Service.URL
}

// ServiceTimeout returns the per-request HTTP timeout.
func (c *Config) ServiceTimeout() time.Duration {
	if c.Env.ServiceTimeout != nil && *c.Env.ServiceTimeout > 0 {
		return *c.Env.ServiceTimeout
	}
	return c.Project.Service.Timeout
}

// NarrationURL returns the sidecar endpoint, or "" when narration is off.
func (c *Config) NarrationURL() string {
	if c.Env.NarrationURL != nil {
		return strings.TrimSpace(*c.Env.NarrationURL)
	}
	return c.Project.Narration.URL
}

// NarrationVoice returns the configured voice, if any.
func (c *Config) NarrationVoice() string {
	return c.Project.Narration.Voice
}

// StorageBackend returns the slot backend name.
func (c *Config) StorageBackend() string {
	if c.Env.StorageBackend != nil && strings.TrimSpace(*c.Env.StorageBackend) != "" {
		return strings.ToLower(strings.TrimSpace(*c.Env.StorageBackend))
	}
	return c.Project.Storage.Backend
}

// LogLevel returns the debug log level name.
func (c *Config) LogLevel() string {
	if c.Env.LogLevel != nil && strings.TrimSpace(*c.Env.LogLevel) != "" {
		return strings.ToLower(strings.TrimSpace(*c.Env.LogLevel))
	}
	return c.Project.Log.Level
}

// DefaultMode returns the mode preselected for the next session.
func (c *Config) DefaultMode() story.Mode {
	return story.NormalizeMode(c.Project.Defaults.Mode)
}

// DefaultStrategy returns the strategy preselected for the next session.
func (c *Config) DefaultStrategy() story.Strategy {
	strategy, err := story.ParseStrategy(c.Project.Defaults.Strategy)
	if err != nil {
		return story.StrategyManual
	}
	return strategy
}

// Modes returns the narrative modes offered by the selector.
func (c *Config) Modes() []story.Mode {
	modes := make([]story.Mode, 0, len(c.Project.Modes))
	for _, m := range c.Project.Modes {
		modes = append(modes, story.NormalizeMode(m))
	}
	return modes
}

// SetDefaults records the selector values and persists them to
// .director/config.yaml. They apply to the next session, never the live one.
// A mode missing from the selector list is appended to it.
func (c *Config) SetDefaults(mode story.Mode, strategy story.Strategy) error {
	m := story.NormalizeMode(string(mode))
	s, err := story.ParseStrategy(string(strategy))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Project.Defaults.Mode = string(m)
	c.Project.Defaults.Strategy = string(s)
	if !contains(c.Project.Modes, string(m)) {
		c.Project.Modes = append(c.Project.Modes, string(m))
	}
	return c.saveProjectConfig()
}

// Reload re-reads the config file in place. The environment is not re-read.
func (c *Config) Reload() error {
	fresh := &Config{
		ProjectDir:         c.ProjectDir,
		DirectorProjectDir: c.DirectorProjectDir,
		Project:            defaultProjectConfig(),
		Env:                c.Env,
	}
	if err := fresh.loadProjectConfig(); err != nil {
		return err
	}
	c.Project = fresh.Project
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Service: ServiceConfig{
			URL:     defaultServiceURL,
			Timeout: defaultServiceTimeout,
		},
		Defaults: DefaultsConfig{
			Mode:     string(story.DefaultMode),
			Strategy: string(story.StrategyManual),
		},
		Modes:   append([]string(nil), defaultModes...),
		Storage: StorageConfig{Backend: defaultBackend},
		Log:     LogConfig{Level: defaultLogLevel},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Service.URL) == "" {
		pc.Service.URL = defaultServiceURL
	}
	if pc.Service.Timeout == 0 {
		pc.Service.Timeout = defaultServiceTimeout
	}
	if len(pc.Modes) == 0 {
		pc.Modes = append([]string(nil), defaultModes...)
	}
	if strings.TrimSpace(pc.Storage.Backend) == "" {
		pc.Storage.Backend = defaultBackend
	}
	if strings.TrimSpace(pc.Log.Level) == "" {
		pc.Log.Level = defaultLogLevel
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Service.URL = strings.TrimRight(strings.TrimSpace(pc.Service.URL), "/")
	pc.Narration.URL = strings.TrimSpace(pc.Narration.URL)
	pc.Narration.Voice = strings.TrimSpace(pc.Narration.Voice)
	pc.Defaults.Mode = string(story.NormalizeMode(pc.Defaults.Mode))
	pc.Defaults.Strategy = normalizeWord(pc.Defaults.Strategy)
	if pc.Defaults.Strategy == "" {
		pc.Defaults.Strategy = string(story.StrategyManual)
	}
	modes := make([]string, 0, len(pc.Modes))
	for _, m := range pc.Modes {
		m = normalizeWord(m)
		if m != "" && !contains(modes, m) {
			modes = append(modes, m)
		}
	}
	pc.Modes = modes
	if !contains(pc.Modes, pc.Defaults.Mode) {
		pc.Modes = append(pc.Modes, pc.Defaults.Mode)
	}
	pc.Storage.Backend = normalizeWord(pc.Storage.Backend)
	pc.Log.Level = normalizeWord(pc.Log.Level)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	parsed, err := url.Parse(pc.Service.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("service.url must be an http(s) URL")
	}
	if pc.Service.Timeout < 0 {
		return fmt.Errorf("service.timeout must not be negative")
	}
	if pc.Narration.URL != "" {
		if parsed, err := url.Parse(pc.Narration.URL); err != nil || parsed.Host == "" {
			return fmt.Errorf("narration.url must be a URL")
		}
	}
	if _, err := story.ParseStrategy(pc.Defaults.Strategy); err != nil {
		return fmt.Errorf("defaults.strategy: %w", err)
	}
	switch pc.Storage.Backend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("storage.backend must be 'sqlite' or 'file'")
	}
	switch pc.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

func normalizeWord(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.DirectorProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure director dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
