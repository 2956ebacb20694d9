// Package config loads the optional on-disk settings for the telemetry
// agent.
//
// Settings are stored at /etc/dlctelemetry/config.yaml (overridable via
// DLC_TELEMETRY_CONFIG). A missing file yields defaults, not an error:
// the agent must run unconfigured on a stock image.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMetadataEndpoint is the instance metadata service address.
	DefaultMetadataEndpoint = "http://169.254.169.254"
	// DefaultBudget bounds the whole dispatch, reporter and tagger included.
	DefaultBudget = 5 * time.Second
	// DefaultArtifactDir receives debug artifacts when enabled.
	DefaultArtifactDir = "/tmp"
)

// Settings holds the tunables a host image may override.
type Settings struct {
	MetadataEndpoint string `yaml:"metadata-endpoint,omitempty"`
	Budget           string `yaml:"budget,omitempty"` // Go duration string, e.g. "5s"
	ArtifactDir      string `yaml:"artifact-dir,omitempty"`
	Artifacts        bool   `yaml:"artifacts,omitempty"`
	LogLevel         string `yaml:"log-level,omitempty"`
}

// Path returns the settings file location, honoring DLC_TELEMETRY_CONFIG.
func Path() string {
	if p := os.Getenv("DLC_TELEMETRY_CONFIG"); p != "" {
		return p
	}
	return "/etc/dlctelemetry/config.yaml"
}

// Load reads the settings file at path (Path() when empty). A missing
// file returns defaults.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = Path()
	}

	var s Settings
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.applyDefaults()
			return &s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	s.applyDefaults()
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.MetadataEndpoint == "" {
		s.MetadataEndpoint = DefaultMetadataEndpoint
	}
	if s.ArtifactDir == "" {
		s.ArtifactDir = DefaultArtifactDir
	}
}

// DispatchBudget parses the configured budget, falling back to
// DefaultBudget when unset.
func (s *Settings) DispatchBudget() (time.Duration, error) {
	if s.Budget == "" {
		return DefaultBudget, nil
	}
	d, err := time.ParseDuration(s.Budget)
	if err != nil {
		return 0, fmt.Errorf("parse budget: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("budget must be positive, got %s", d)
	}
	return d, nil
}

// ArtifactsEnabled reports whether debug artifacts should be written.
// TEST_MODE=1 in the environment enables them regardless of the file.
func (s *Settings) ArtifactsEnabled() bool {
	return s.Artifacts || os.Getenv("TEST_MODE") == "1"
}
