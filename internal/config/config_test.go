package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.Oracle.Timeout != def.Oracle.Timeout || cfg.Oracle.PreambleRules != 5 {
		t.Errorf("oracle = %+v, want defaults", cfg.Oracle)
	}
	if cfg.Learning.Boost != 0.05 || cfg.Learning.Ceiling != 1.0 {
		t.Errorf("learning = %+v, want 0.05/1.0", cfg.Learning)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)
	original := DefaultConfig()
	original.DataDir = "/var/lib/ruleloop"
	original.Oracle.Provider = ProviderOpenAI
	original.Oracle.Timeout = 12 * time.Second
	original.Learning.AutoLearn = true

	if err := original.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DataDir != original.DataDir {
		t.Errorf("data_dir = %q, want %q", loaded.DataDir, original.DataDir)
	}
	if loaded.Oracle.Provider != ProviderOpenAI || loaded.Oracle.Timeout != 12*time.Second {
		t.Errorf("oracle = %+v", loaded.Oracle)
	}
	if !loaded.Learning.AutoLearn {
		t.Errorf("learning.auto_learn = false, want true")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("http:\n  addr: 0.0.0.0:9000\noracle:\n  model: from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RULELOOP_ORACLE__MODEL", "from-env")
	t.Setenv("RULELOOP_DB_PATH", "/tmp/x.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Oracle.Model != "from-env" {
		t.Errorf("oracle.model = %q, want from-env", cfg.Oracle.Model)
	}
	if cfg.HTTP.Addr != "0.0.0.0:9000" {
		t.Errorf("http.addr = %q, want file value", cfg.HTTP.Addr)
	}
	if cfg.DatabasePath() != "/tmp/x.db" {
		t.Errorf("DatabasePath() = %q, want /tmp/x.db", cfg.DatabasePath())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad provider", func(c *Config) { c.Oracle.Provider = "carrier-pigeon" }, "oracle.provider"},
		{"openai without model", func(c *Config) { c.Oracle.Provider = ProviderOpenAI; c.Oracle.Model = "" }, "oracle.model"},
		{"zero timeout", func(c *Config) { c.Oracle.Timeout = 0 }, "oracle.timeout"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"ceiling above one", func(c *Config) { c.Learning.Ceiling = 1.5 }, "learning.ceiling"},
		{"negative boost", func(c *Config) { c.Learning.Boost = -0.1 }, "learning.boost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDatabasePath_DefaultsToDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	if got := cfg.DatabasePath(); got != filepath.Join("/data", "ruleloop.db") {
		t.Errorf("DatabasePath() = %q", got)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("rule fired", "rule_id", "r-1")

	if !strings.Contains(stderr.String(), "rule_id=r-1") {
		t.Errorf("stderr = %q, want text record", stderr.String())
	}
	var rec map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(file.Bytes()), &rec); err != nil {
		t.Fatalf("file output not a single JSON record: %v (%q)", err, file.String())
	}
	if rec["msg"] != "rule fired" || rec["rule_id"] != "r-1" {
		t.Errorf("file record = %v", rec)
	}
}

func TestSetupLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ruleloop.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("hello")
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file = %q", data)
	}
}
