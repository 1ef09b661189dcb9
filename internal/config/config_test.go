package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabasePath != "./continuum.db" {
		t.Errorf("databasePath = %q, want default", cfg.DatabasePath)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "continuum.yaml")
	data := `
databasePath: /var/lib/continuum/mem.db
providers:
  baseURL: http://localhost:11434/v1
  embedModel: nomic-embed-text
buffer:
  maxTokens: 2000
  idleGap: 2h
chunking:
  minTokens: 300
  maxTokens: 600
retention:
  deleteAfter: 8760h
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabasePath != "/var/lib/continuum/mem.db" {
		t.Errorf("databasePath = %q", cfg.DatabasePath)
	}
	if cfg.Providers.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("baseURL = %q", cfg.Providers.BaseURL)
	}
	if cfg.Buffer.MaxTokens != 2000 {
		t.Errorf("buffer.maxTokens = %d", cfg.Buffer.MaxTokens)
	}
	if cfg.Buffer.IdleGap != 2*time.Hour {
		t.Errorf("buffer.idleGap = %s", cfg.Buffer.IdleGap)
	}
	if cfg.Chunking.MaxTokens != 600 {
		t.Errorf("chunking.maxTokens = %d", cfg.Chunking.MaxTokens)
	}
	if cfg.Retention.DeleteAfter != 8760*time.Hour {
		t.Errorf("retention.deleteAfter = %s", cfg.Retention.DeleteAfter)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "continuum.yaml")
	if err := os.WriteFile(path, []byte("databasePath: [broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "continuum.yaml")
	data := "databasePath: /from/file.db\nbuffer:\n  maxMessages: 10\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONTINUUM_DB_PATH", "/from/env.db")
	t.Setenv("CONTINUUM_API_KEY", "sk-test")
	t.Setenv("CONTINUUM_BUFFER_MAX_MESSAGES", "40")
	t.Setenv("CONTINUUM_RETRIEVAL_TOP_K", "7")
	t.Setenv("CONTINUUM_BUFFER_IDLE_GAP", "90m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabasePath != "/from/env.db" {
		t.Errorf("databasePath = %q, want env value", cfg.DatabasePath)
	}
	if cfg.Providers.APIKey != "sk-test" {
		t.Errorf("apiKey = %q", cfg.Providers.APIKey)
	}
	if cfg.Buffer.MaxMessages != 40 {
		t.Errorf("buffer.maxMessages = %d, want env value", cfg.Buffer.MaxMessages)
	}
	if cfg.Assembly.TopK != 7 {
		t.Errorf("assembly.topK = %d", cfg.Assembly.TopK)
	}
	if cfg.Buffer.IdleGap != 90*time.Minute {
		t.Errorf("buffer.idleGap = %s, want env value", cfg.Buffer.IdleGap)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"missing db path", func(c *Config) { c.DatabasePath = "" }, true},
		{"min tokens above max", func(c *Config) {
			c.Chunking.MinTokens = 800
			c.Chunking.MaxTokens = 400
		}, true},
		{"overlap min above max", func(c *Config) {
			c.Chunking.OverlapMin = 0.5
			c.Chunking.OverlapMax = 0.2
		}, true},
		{"topic threshold out of range", func(c *Config) { c.Buffer.TopicShiftThreshold = 1.5 }, true},
		{"similarity floor negative", func(c *Config) { c.Assembly.SimilarityFloor = -0.1 }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"zero values valid", func(c *Config) { c.Chunking = ChunkingConfig{} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
