package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// chdir mirrors testing.T.Chdir (Go 1.24+): change into dir and restore the
// previous working directory when the test finishes.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 1 || cfg.OutcomePolicy != "skip" || cfg.Analysis.MinPlays != 100 || cfg.Analysis.Top != 10 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	cols := cfg.Columns.Parser()
	if cols.Deck[1] != "players_1_spells" || cols.Tag != "replayTag" {
		t.Errorf("unexpected columns: %+v", cols)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, "crstats.yaml", `
db: /tmp/cr.db
workers: 4
outcome_policy: fail
segments:
  mode: items
  default: rest
  items:
    win_con: [Hog Rider, Golem]
    spell: [Zap]
`)
	t.Setenv("CRSTATS_WORKERS", "8")
	t.Setenv("CRSTATS_LOG_LEVEL", "debug")

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB != "/tmp/cr.db" || cfg.OutcomePolicy != "fail" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Workers != 8 {
		t.Errorf("env override: workers=%d, want 8", cfg.Workers)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("env override: log level %q", cfg.Log.Level)
	}
	if cfg.Segments.Mode != "items" || len(cfg.Segments.Items["win_con"]) != 2 {
		t.Errorf("segments: %+v", cfg.Segments)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad policy":  "outcome_policy: maybe\n",
		"bad workers": "workers: 0\n",
		"min plays":   "analysis:\n  min_plays: 0\n",
		"overlap":     "segments:\n  mode: items\n  items:\n    a: [Zap]\n    b: [Zap]\n",
		"bad level":   "log:\n  level: loud\n",
	}
	for name, body := range cases {
		path := writeFile(t, "crstats.yaml", body)
		if _, err := Load(viper.New(), path); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		log, err := NewLogger(LogConfig{Level: "warn", Format: format})
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if log.Core().Enabled(-1) {
			t.Errorf("%s: debug should be disabled at warn level", format)
		}
	}
}
