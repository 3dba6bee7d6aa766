package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("FBXBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want config failure", err)
	}
}

// TestRun_InvalidAuthStore verifies validation rejects unknown stores.
func TestRun_InvalidAuthStore(t *testing.T) {
	t.Setenv("FBXBRIDGE_CONFIG", writeConfig(t, `
auth:
  store: "vault"
`))

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "auth.store") {
		t.Fatalf("run() error = %v, want auth.store validation failure", err)
	}
}

// TestRun_GatewayUnreachable verifies startup gives up when ctx ends
// before the box answers.
func TestRun_GatewayUnreachable(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("FBXBRIDGE_CONFIG", writeConfig(t, `
freebox:
  address: "127.0.0.1:1"
  request_timeout: 1
auth:
  store: "file"
  file: "`+filepath.Join(tmpDir, "auth.json")+`"
logging:
  level: "error"
  format: "text"
  output: "stderr"
`))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "discovering freebox api") {
		t.Fatalf("run() error = %v, want discovery failure", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("FBXBRIDGE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("FBXBRIDGE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestOpenAuthStore(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	info := freeboxos.AuthInfo{AppToken: "dyNYgfK0Ya6FWGqq83sBHa7TwzWo+pg4fDFUJHShcjVYzTfaRrZzm93p7OTAfH/0", TrackID: 42}

	tests := []struct {
		name  string
		store string
	}{
		{"file", config.AuthStoreFile},
		{"sqlite", config.AuthStoreSQLite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Auth: config.AuthConfig{Store: tt.store, File: filepath.Join(tmpDir, tt.name, "auth.json")},
				Database: config.DatabaseConfig{
					Path:        filepath.Join(tmpDir, tt.name, "bridge.db"),
					BusyTimeout: 5,
				},
			}

			store, closeStore, err := openAuthStore(ctx, cfg, logging.Discard())
			if err != nil {
				t.Fatalf("openAuthStore() error = %v", err)
			}
			defer closeStore()

			got, err := store.Load(ctx)
			if err != nil || !got.IsZero() {
				t.Fatalf("Load() on empty store = %+v, %v", got, err)
			}
			if err := store.Save(ctx, info); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if got, _ := store.Load(ctx); got != info {
				t.Errorf("Load() = %+v, want %+v", got, info)
			}
		})
	}
}
