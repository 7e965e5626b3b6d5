package service

import (
	"strings"
	"time"

	"github.com/kingrea/director/internal/config"
)

const (
	// DefaultBaseURL is the local development address of the generation service.
	DefaultBaseURL = "http://localhost:8000"
	// DefaultTimeout bounds one generation round trip. Full runs are slow.
	DefaultTimeout = 120 * time.Second
	// DefaultMaxBodyBytes limits response payloads to 8 MB.
	DefaultMaxBodyBytes int64 = 8 << 20
)

// Settings captures how the client reaches the generation service.
type Settings struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// SettingsFromConfig builds Settings from the project config; environment
// overrides are already folded into the config accessors.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		BaseURL:      DefaultBaseURL,
		Timeout:      DefaultTimeout,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
	if cfg != nil {
		if url := strings.TrimSpace(cfg.ServiceURL()); url != "" {
			settings.BaseURL = url
		}
		if timeout := cfg.ServiceTimeout(); timeout > 0 {
			settings.Timeout = timeout
		}
	}
	settings.normalize()
	return settings
}

func (s *Settings) normalize() {
	if s == nil {
		return
	}
	s.BaseURL = strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
}
