package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, SettingsFile, `
database = "runs.db"
max_parallel = 4
query_timeout = "2s"
policy_dirs = ["policies"]
max_witness = 20

[telemetry.logging]
level = "debug"
format = "json"
`)

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	if s.Database != "runs.db" || s.MaxParallel != 4 || s.MaxWitness != 20 {
		t.Errorf("Unexpected settings %+v", s)
	}
	if s.Timeout() != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", s.Timeout())
	}
	if s.Telemetry.Logging.Level != "debug" || s.Telemetry.Logging.Format != "json" {
		t.Errorf("Unexpected logging settings %+v", s.Telemetry.Logging)
	}
	if s.Telemetry.ServiceName != "pdreach" {
		t.Errorf("Expected defaults to survive decoding, got service %q", s.Telemetry.ServiceName)
	}
}

func TestLoadSettings_Missing(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Missing settings should yield defaults: %v", err)
	}
	if s.Database != "" || s.Timeout() != 0 || s.Telemetry == nil {
		t.Errorf("Unexpected default settings %+v", s)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad timeout", content: `query_timeout = "soon"`},
		{name: "negative parallelism", content: `max_parallel = -2`},
		{name: "unknown key", content: `colour = "red"`},
		{name: "bad log level", content: "[telemetry.logging]\nlevel = \"loud\"\n"},
		{name: "syntax", content: `database = `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), SettingsFile, tt.content)
			if _, err := LoadSettings(path); err == nil {
				t.Error("Expected settings error")
			}
		})
	}
}

func TestWriteSettings_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFile)
	s := DefaultSettings()
	s.Database = "history.db"
	s.PolicyDirs = []string{"a", "b"}

	if err := WriteSettings(path, s); err != nil {
		t.Fatalf("Failed to write settings: %v", err)
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("Failed to reload settings: %v", err)
	}
	if got.Database != "history.db" || len(got.PolicyDirs) != 2 {
		t.Errorf("Unexpected reloaded settings %+v", got)
	}
}
