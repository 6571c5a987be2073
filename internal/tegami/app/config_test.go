package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/Tegami/internal/tegami/dispatch"
	"github.com/bdobrica/Tegami/internal/tegami/kv"
	"github.com/bdobrica/Tegami/internal/tegami/llm"
	"github.com/bdobrica/Tegami/internal/tegami/matrix"
)

func TestApplyYAML_Overlays(t *testing.T) {
	cfg := Config{
		DatabasePath: "/var/lib/tegami.db",
		HTTPAddr:     ":8080",
		LLM:          llm.Config{APIKey: "from-env", Model: "gpt-4o-mini"},
	}
	doc := `
database:
  quotaBytes: 1024
namespace: test
timezone: Asia/Tokyo
stalePolicy: drop-stale
matrix:
  homeserver: https://matrix.example.org
  userId: "@tegami:example.org"
llm:
  model: qwen2.5
  timeout: 30s
  rateLimit: 5
`
	if err := ApplyYAML(&cfg, []byte(doc)); err != nil {
		t.Fatalf("ApplyYAML: %v", err)
	}

	if cfg.DatabasePath != "/var/lib/tegami.db" {
		t.Errorf("DatabasePath = %q, want env value kept", cfg.DatabasePath)
	}
	if cfg.LocalQuotaBytes != 1024 {
		t.Errorf("LocalQuotaBytes = %d", cfg.LocalQuotaBytes)
	}
	if cfg.Namespace != "test" || cfg.HTTPAddr != ":8080" {
		t.Errorf("Namespace = %q, HTTPAddr = %q", cfg.Namespace, cfg.HTTPAddr)
	}
	if cfg.Location == nil || cfg.Location.String() != "Asia/Tokyo" {
		t.Errorf("Location = %v", cfg.Location)
	}
	if cfg.StalePolicy != dispatch.DropStale {
		t.Errorf("StalePolicy = %v", cfg.StalePolicy)
	}
	if cfg.Matrix == nil || cfg.Matrix.UserID != "@tegami:example.org" {
		t.Errorf("Matrix = %+v", cfg.Matrix)
	}
	if cfg.LLM.Model != "qwen2.5" || cfg.LLM.APIKey != "from-env" || cfg.LLM.Timeout != 30*time.Second {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLMRateLimit != 5 {
		t.Errorf("LLMRateLimit = %d", cfg.LLMRateLimit)
	}
}

func TestApplyYAML_MatrixMergesWithEnv(t *testing.T) {
	cfg := Config{Matrix: &matrix.Config{Homeserver: "https://old", AccessToken: "secret"}}
	if err := ApplyYAML(&cfg, []byte("matrix:\n  homeserver: https://new\n")); err != nil {
		t.Fatal(err)
	}
	if cfg.Matrix.Homeserver != "https://new" || cfg.Matrix.AccessToken != "secret" {
		t.Errorf("Matrix = %+v", cfg.Matrix)
	}
}

func TestApplyYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", "database: [\n"},
		{"unknown timezone", "timezone: Mars/Olympus\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			if err := ApplyYAML(&cfg, []byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tegami.yaml")
	if err := os.WriteFile(path, []byte("namespace: filed\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var cfg Config
	if err := ApplyFile(&cfg, path); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	if cfg.Namespace != "filed" {
		t.Errorf("Namespace = %q", cfg.Namespace)
	}
	if err := ApplyFile(&cfg, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.withDefaults()
	if cfg.DatabasePath != "./tegami.db" || cfg.LocalQuotaBytes != DefaultLocalQuota {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Namespace != kv.DefaultNamespace || cfg.Location == nil {
		t.Errorf("defaults = %+v", cfg)
	}
}
