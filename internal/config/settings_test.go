package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/reqforge/internal/reqdef"
)

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv("REQFORGE_CONFIG_DIR", t.TempDir())

	settings, handle, err := LoadSettings(context.Background())
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if handle.Format != SettingsFormatTOML {
		t.Fatalf("expected toml handle for fresh config, got %s", handle.Format)
	}
	if settings.HTTP.Timeout.Std() != 30*time.Second || !settings.HTTP.FollowRedirects {
		t.Fatalf("unexpected http defaults %+v", settings.HTTP)
	}
	if settings.History.MaxEntries != 200 {
		t.Fatalf("unexpected history defaults %+v", settings.History)
	}
}

func TestLoadSettingsTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REQFORGE_CONFIG_DIR", dir)

	content := `
log_level = "debug"

[variables]
host = "api.test"

[http]
timeout = "10s"
user_agent = "custom/1.0"

[history]
max_entries = 50

[auth]
type = "bearer"
token = "work-token"
`
	if err := os.WriteFile(filepath.Join(dir, "settings.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	settings, _, err := LoadSettings(context.Background())
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if settings.LogLevel != "debug" {
		t.Fatalf("expected debug level, got %q", settings.LogLevel)
	}
	if settings.Variables["host"] != "api.test" {
		t.Fatalf("expected variables to load, got %+v", settings.Variables)
	}
	if settings.HTTP.Timeout.Std() != 10*time.Second || settings.HTTP.UserAgent != "custom/1.0" {
		t.Fatalf("unexpected http settings %+v", settings.HTTP)
	}
	if settings.History.MaxEntries != 50 {
		t.Fatalf("unexpected history settings %+v", settings.History)
	}
	// Unset sections keep their defaults.
	if settings.Socket.SendQueue != 32 {
		t.Fatalf("expected socket defaults, got %+v", settings.Socket)
	}
	auth := settings.Auth.Config()
	if auth == nil || auth.Type != reqdef.AuthBearer || auth.Bearer.Token != "work-token" {
		t.Fatalf("unexpected default auth %+v", auth)
	}
}

func TestAuthSettingsConfig(t *testing.T) {
	t.Parallel()

	if cfg := (AuthSettings{}).Config(); cfg != nil {
		t.Fatalf("empty block must yield no default, got %+v", cfg)
	}

	basic := AuthSettings{Type: "basic", Username: "u", Password: "p"}.Config()
	if basic == nil || basic.Type != reqdef.AuthBasic || basic.Basic.Username != "u" {
		t.Fatalf("unexpected basic mapping %+v", basic)
	}

	key := AuthSettings{Type: "API_KEY", Key: "X-Key", Value: "v", AddTo: "query"}.Config()
	if key == nil || key.APIKey.AddTo != reqdef.APIKeyInQuery {
		t.Fatalf("unexpected api key mapping %+v", key)
	}
	header := AuthSettings{Type: "api_key", Key: "X-Key", Value: "v"}.Config()
	if header == nil || header.APIKey.AddTo != reqdef.APIKeyInHeader {
		t.Fatalf("placement should default to header, got %+v", header)
	}
}

func TestLoadSettingsEnvOverride(t *testing.T) {
	t.Setenv("REQFORGE_CONFIG_DIR", t.TempDir())
	t.Setenv("REQFORGE_HTTP_TIMEOUT", "5s")
	t.Setenv("REQFORGE_LOG_LEVEL", "warn")

	settings, _, err := LoadSettings(context.Background())
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if settings.HTTP.Timeout.Std() != 5*time.Second {
		t.Fatalf("env override lost, got %v", settings.HTTP.Timeout)
	}
	if settings.LogLevel != "warn" {
		t.Fatalf("env override lost, got %q", settings.LogLevel)
	}
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REQFORGE_CONFIG_DIR", dir)

	settings := DefaultSettings()
	settings.LogLevel = "trace"
	settings.Variables["uid"] = "42"

	handle := SettingsHandle{Path: filepath.Join(dir, "settings.toml"), Format: SettingsFormatTOML}
	if err := SaveSettings(settings, handle); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	loaded, _, err := LoadSettings(context.Background())
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if loaded.LogLevel != "trace" || loaded.Variables["uid"] != "42" {
		t.Fatalf("round trip mismatch %+v", loaded)
	}
}

func TestLoadSettingsBadTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REQFORGE_CONFIG_DIR", dir)

	if err := os.WriteFile(filepath.Join(dir, "settings.toml"), []byte("log_level = ["), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	if _, _, err := LoadSettings(context.Background()); err == nil {
		t.Fatal("expected parse error for malformed settings")
	}
}
