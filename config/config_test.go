package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	mdgxerrors "github.com/wippyai/mdgx-bridge/errors"
)

func isConfigErr(err error) bool {
	return errors.Is(err, &mdgxerrors.Error{Kind: mdgxerrors.KindInvalidConfig})
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
		check   func(t *testing.T, c *Config)
	}{
		{
			name: "empty uses defaults",
			yaml: "",
			check: func(t *testing.T, c *Config) {
				if c.Logging.Level != DefaultLogLevel || c.Logging.Format != DefaultLogFormat {
					t.Errorf("Logging = %+v", c.Logging)
				}
			},
		},
		{
			name: "full",
			yaml: `
evaluator:
  module: /opt/mdgx/mdgx.wasm
  memory_limit_pages: 512
logging:
  level: debug
  format: json
metrics:
  listen: ":9090"
`,
			check: func(t *testing.T, c *Config) {
				if c.Evaluator.Module != "/opt/mdgx/mdgx.wasm" || c.Evaluator.MemoryLimitPages != 512 {
					t.Errorf("Evaluator = %+v", c.Evaluator)
				}
				if c.Logging.Level != "debug" || c.Logging.Format != "json" {
					t.Errorf("Logging = %+v", c.Logging)
				}
				if c.Metrics.Listen != ":9090" {
					t.Errorf("Metrics.Listen = %q", c.Metrics.Listen)
				}
			},
		},
		{
			name: "partial keeps other defaults",
			yaml: "logging:\n  level: warn\n",
			check: func(t *testing.T, c *Config) {
				if c.Logging.Level != "warn" || c.Logging.Format != DefaultLogFormat {
					t.Errorf("Logging = %+v", c.Logging)
				}
			},
		},
		{name: "bad level", yaml: "logging:\n  level: loud\n", wantErr: "Level"},
		{name: "bad format", yaml: "logging:\n  format: xml\n", wantErr: "Format"},
		{name: "too many pages", yaml: "evaluator:\n  memory_limit_pages: 70000\n", wantErr: "MemoryLimitPages"},
		{name: "bad listen", yaml: "metrics:\n  listen: nowhere\n", wantErr: "Listen"},
		{name: "unknown key", yaml: "evaluater:\n  module: x\n", wantErr: "decode yaml"},
		{name: "malformed", yaml: "logging: [\n", wantErr: "decode yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				if !isConfigErr(err) {
					t.Fatalf("expected config error, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mdgx.yaml")
	if err := os.WriteFile(path, []byte("evaluator:\n  module: mdgx.wasm\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(dir, "mdgx.wasm"); cfg.Evaluator.Module != want {
		t.Errorf("Module = %q, want %q", cfg.Evaluator.Module, want)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !isConfigErr(err) {
		t.Errorf("expected config error for missing file, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Evaluator.Module = "/abs/mdgx.wasm"
	cfg.Metrics.Listen = "localhost:9100"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *got != *cfg {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LoggingConfig
		wantErr bool
	}{
		{"console", LoggingConfig{Level: "info", Format: "console"}, false},
		{"json", LoggingConfig{Level: "debug", Format: "json"}, false},
		{"bad level", LoggingConfig{Level: "loud", Format: "json"}, true},
		{"bad format", LoggingConfig{Level: "info", Format: "xml"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				if !isConfigErr(err) {
					t.Errorf("expected config error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			if !logger.Core().Enabled(mustLevel(t, tt.cfg.Level)) {
				t.Errorf("logger does not enable %s", tt.cfg.Level)
			}
		})
	}
}

func TestManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	data := `
systems:
  - name: water
    topology: water.prmtop
    coordinates: water.inpcrd
    sites: water.sites
  - name: ion
    topology: /data/ion.prmtop
    coordinates: /data/ion.inpcrd
    sites: /data/ion.sites
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(m.Systems) != 2 {
		t.Fatalf("len(Systems) = %d, want 2", len(m.Systems))
	}
	water := m.Systems[0]
	if water.Topology != filepath.Join(dir, "water.prmtop") || water.Sites != filepath.Join(dir, "water.sites") {
		t.Errorf("water paths not resolved: %+v", water)
	}
	ion := m.Systems[1]
	if ion.Topology != "/data/ion.prmtop" || ion.Sites != "/data/ion.sites" {
		t.Errorf("ion = %+v", ion)
	}
}

func TestManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"no systems", "systems: []\n"},
		{"missing topology", "systems:\n  - name: a\n    coordinates: a.inpcrd\n    sites: a.sites\n"},
		{"missing sites", "systems:\n  - {name: a, topology: t, coordinates: c}\n"},
		{"duplicate names", "systems:\n  - {name: a, topology: t, coordinates: c, sites: s}\n  - {name: a, topology: t, coordinates: c, sites: s}\n"},
		{"unknown field", "systems:\n  - {name: a, topology: t, coordinates: c, sites: s, extra: 1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseManifest([]byte(tt.yaml)); !isConfigErr(err) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}
}

func mustLevel(t *testing.T, s string) zapcore.Level {
	t.Helper()
	l, err := zapcore.ParseLevel(s)
	if err != nil {
		t.Fatal(err)
	}
	return l
}
