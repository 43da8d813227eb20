package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"codesync/internal/engine"
	"codesync/internal/inject"
	"codesync/internal/markup"

	"github.com/google/go-cmp/cmp"
)

func TestLoad(t *testing.T) {
	t.Setenv("CODESYNC_HOME", "/state")
	t.Setenv("CODESYNC_LOG_LEVEL", "")
	t.Setenv("CODESYNC_JOURNAL", "")
	t.Setenv("CODESYNC_WORKERS", "")

	dir := t.TempDir()
	data := `workers: 3
protect:
  - "*.gen.tsx"
layout: src/app/layout.tsx
script:
  src: https://cdn.example.com/editor.js
  attributes:
    - name: strategy
      value: afterInteractive
deprecated_scripts:
  - "old-editor"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Workers != 3 || cfg.Journal != filepath.Join("/state", "journal.db") || cfg.MarkerAttribute != "data-oid" {
		t.Errorf("unexpected config %+v", cfg)
	}
	want := []engine.Injection{{
		Path: "src/app/layout.tsx",
		Marker: inject.Marker{
			Src:        "https://cdn.example.com/editor.js",
			Attributes: []markup.AttrSpec{{Name: "strategy", Value: "afterInteractive"}},
		},
		Deprecated: []string{"old-editor"},
	}}
	if diff := cmp.Diff(want, cfg.Injections()); diff != "" {
		t.Errorf("Injections (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CODESYNC_HOME", "/state")
	t.Setenv("CODESYNC_LOG_LEVEL", "debug")
	t.Setenv("CODESYNC_JOURNAL", "")
	t.Setenv("CODESYNC_WORKERS", "")

	cfg, err := LoadDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if l, _ := cfg.Level(); l != slog.LevelDebug {
		t.Errorf("level = %v, want debug", l)
	}
	if cfg.Injections() != nil {
		t.Error("no script configured, expected no injections")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false); err == nil {
		t.Error("expected error for a required missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative workers", Config{Workers: -1, LogLevel: "info"}},
		{"bad level", Config{LogLevel: "loud"}},
		{"script without src", Config{LogLevel: "info", Script: &inject.Marker{}}},
		{"bad pattern", Config{LogLevel: "info", DeprecatedScripts: []string{"("}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestHome(t *testing.T) {
	t.Setenv("CODESYNC_HOME", "")
	t.Setenv("XDG_CACHE_HOME", "/xdg")
	got, err := Home()
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join("/xdg", "codesync") {
		t.Errorf("Home = %s", got)
	}
}
