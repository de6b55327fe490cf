package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dileep-u-k/agent-gateway/internal/app"
	"github.com/dileep-u-k/agent-gateway/internal/gateway"
	"github.com/dileep-u-k/agent-gateway/internal/settings"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GIN_MODE", "release")
	for _, key := range []string{"GATEWAY_SETTINGS_BACKEND", "GATEWAY_SETTINGS_PATH", "GATEWAY_HOST", "GATEWAY_PORT", "GATEWAY_VAULT_DIR", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.SettingsBackend != "file" || cfg.SettingsPath != "settings.yaml" || cfg.Host != "127.0.0.1" || cfg.VaultDir != "." {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.PortOverride != 0 {
		t.Errorf("PortOverride = %d, want 0", cfg.PortOverride)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"GATEWAY_PORT": "eighty"}},
		{"port out of range", map[string]string{"GATEWAY_PORT": "70000"}},
		{"unknown backend", map[string]string{"GATEWAY_SETTINGS_BACKEND": "etcd"}},
		{"redis without addr", map[string]string{"GATEWAY_SETTINGS_BACKEND": "redis", "REDIS_ADDR": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GIN_MODE", "release")
			t.Setenv("GATEWAY_PORT", "")
			t.Setenv("GATEWAY_SETTINGS_BACKEND", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Error("LoadConfig() succeeded, want error")
			}
		})
	}
}

func TestOpenStoreBackends(t *testing.T) {
	dir := t.TempDir()

	store, closer, err := openStore(&AppConfig{SettingsBackend: "file", SettingsPath: filepath.Join(dir, "s.yaml")}, nil)
	if err != nil || closer != nil {
		t.Fatalf("file backend: %v, closer %v", err, closer)
	}
	if _, ok := store.(*settings.FileStore); !ok {
		t.Errorf("file backend returned %T", store)
	}

	store, closer, err = openStore(&AppConfig{SettingsBackend: "sqlite", SettingsPath: filepath.Join(dir, "s.db")}, nil)
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	defer closer.Close()
	if _, ok := store.(*settings.SQLStore); !ok {
		t.Errorf("sqlite backend returned %T", store)
	}
}

func TestStartGatewayReportsBindFailure(t *testing.T) {
	store := settings.NewFileStore(filepath.Join(t.TempDir(), "settings.yaml"))
	gw := app.New(app.Options{Store: store, Host: "192.0.2.1"})
	defer gw.Shutdown(context.Background())

	if err := startGateway(context.Background(), gw); err != nil {
		t.Fatalf("startGateway() = %v, want nil for a bind failure", err)
	}
	if gw.Server().State() != gateway.StateStopped {
		t.Errorf("state = %s, want stopped", gw.Server().State())
	}
}

func TestStartGatewayReturnsSettingsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("port: [not, a, port"), 0o644); err != nil {
		t.Fatal(err)
	}
	gw := app.New(app.Options{Store: settings.NewFileStore(path)})
	defer gw.Shutdown(context.Background())

	if err := startGateway(context.Background(), gw); err == nil {
		t.Error("startGateway() succeeded with an unreadable settings file")
	}
}

func TestLoadConfigSettingsPathPerBackend(t *testing.T) {
	tests := []struct {
		backend, path, want string
	}{
		{"file", "", "settings.yaml"},
		{"sqlite", "", "settings.db"},
		{"sqlite", "/var/lib/gw/state.db", "/var/lib/gw/state.db"},
	}
	for _, tt := range tests {
		t.Run(tt.backend+"/"+tt.want, func(t *testing.T) {
			t.Setenv("GIN_MODE", "release")
			t.Setenv("GATEWAY_PORT", "")
			t.Setenv("GATEWAY_SETTINGS_BACKEND", tt.backend)
			t.Setenv("GATEWAY_SETTINGS_PATH", tt.path)
			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig() failed: %v", err)
			}
			if cfg.SettingsPath != tt.want {
				t.Errorf("SettingsPath = %q, want %q", cfg.SettingsPath, tt.want)
			}
		})
	}
}
