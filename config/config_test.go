package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.MetadataEndpoint != DefaultMetadataEndpoint {
		t.Errorf("MetadataEndpoint = %q, want %q", s.MetadataEndpoint, DefaultMetadataEndpoint)
	}
	if s.ArtifactDir != DefaultArtifactDir {
		t.Errorf("ArtifactDir = %q, want %q", s.ArtifactDir, DefaultArtifactDir)
	}
	budget, err := s.DispatchBudget()
	if err != nil {
		t.Fatalf("DispatchBudget() error = %v", err)
	}
	if budget != DefaultBudget {
		t.Errorf("DispatchBudget() = %s, want %s", budget, DefaultBudget)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "metadata-endpoint: http://127.0.0.1:8080\nbudget: 2s\nartifact-dir: /var/tmp\nartifacts: true\nlog-level: warn\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := s.MetadataEndpoint, "http://127.0.0.1:8080"; got != want {
		t.Errorf("MetadataEndpoint = %q, want %q", got, want)
	}
	if got, want := s.ArtifactDir, "/var/tmp"; got != want {
		t.Errorf("ArtifactDir = %q, want %q", got, want)
	}
	if !s.Artifacts {
		t.Error("Artifacts = false, want true")
	}
	if got, want := s.LogLevel, "warn"; got != want {
		t.Errorf("LogLevel = %q, want %q", got, want)
	}
	budget, err := s.DispatchBudget()
	if err != nil {
		t.Fatalf("DispatchBudget() error = %v", err)
	}
	if want := 2 * time.Second; budget != want {
		t.Errorf("DispatchBudget() = %s, want %s", budget, want)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("budget: [1,"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error for malformed yaml")
	}
}

func TestDispatchBudgetRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		budget string
	}{
		{name: "not a duration", budget: "five seconds"},
		{name: "zero", budget: "0s"},
		{name: "negative", budget: "-1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Settings{Budget: tt.budget}
			if _, err := s.DispatchBudget(); err == nil {
				t.Errorf("DispatchBudget(%q) expected error", tt.budget)
			}
		})
	}
}

func TestArtifactsEnabled(t *testing.T) {
	t.Run("off by default", func(t *testing.T) {
		t.Setenv("TEST_MODE", "")
		s := Settings{}
		if s.ArtifactsEnabled() {
			t.Error("ArtifactsEnabled() = true for zero settings")
		}
	})

	t.Run("enabled by settings", func(t *testing.T) {
		t.Setenv("TEST_MODE", "")
		s := Settings{Artifacts: true}
		if !s.ArtifactsEnabled() {
			t.Error("ArtifactsEnabled() = false with artifacts: true")
		}
	})

	t.Run("enabled by TEST_MODE", func(t *testing.T) {
		t.Setenv("TEST_MODE", "1")
		s := Settings{}
		if !s.ArtifactsEnabled() {
			t.Error("ArtifactsEnabled() = false with TEST_MODE=1")
		}
	})
}

func TestPathHonorsEnvOverride(t *testing.T) {
	t.Setenv("DLC_TELEMETRY_CONFIG", "/custom/path.yaml")
	if got, want := Path(), "/custom/path.yaml"; got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}
