package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	return path
}

func TestLoadConfigMergesFileOverEmbeddedDefaults(t *testing.T) {
	path := writeConfig(t, "overlay:\n  guild_id: \"1561035437838649\"\n  channel_id: \"1714016194916588\"\nserver:\n  port: 5100\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Overlay.GuildID != "1561035437838649" || cfg.Overlay.ChannelID != "1714016194916588" {
		t.Fatalf("overlay ids=%s/%s", cfg.Overlay.GuildID, cfg.Overlay.ChannelID)
	}
	if cfg.Overlay.ClientID != "15943749139034" {
		t.Fatalf("client_id=%q, want embedded default", cfg.Overlay.ClientID)
	}
	if cfg.Overlay.HandshakeTimeout != 10*time.Second {
		t.Fatalf("handshake_timeout=%s, want 10s", cfg.Overlay.HandshakeTimeout)
	}
	if cfg.Viewer.PushInterval != 100*time.Millisecond {
		t.Fatalf("push_interval=%s, want 100ms", cfg.Viewer.PushInterval)
	}
	if len(cfg.Overlay.Subprotocols) != 1 || cfg.Overlay.Subprotocols[0] != "ws_streamkit" {
		t.Fatalf("subprotocols=%v, want [ws_streamkit]", cfg.Overlay.Subprotocols)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("log.format=%q, want json", cfg.Log.Format)
	}
	if cfg.HTTPAddr != "127.0.0.1:5100" {
		t.Fatalf("http_addr=%q, want 127.0.0.1:5100", cfg.HTTPAddr)
	}
	if want := filepath.Join(filepath.Dir(path), "webassets", "overlay"); cfg.Viewer.FrontendDir != want {
		t.Fatalf("frontend_dir=%q, want %q", cfg.Viewer.FrontendDir, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "overlay:\n  guild_id: \"from-file\"\n")
	t.Setenv("VOICE_OVERLAY_OVERLAY_GUILD_ID", "from-env")
	t.Setenv("VOICE_OVERLAY_HTTP_ADDR", ":9000")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Overlay.GuildID != "from-env" {
		t.Fatalf("guild_id=%q, want from-env", cfg.Overlay.GuildID)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("http_addr=%q, want :9000", cfg.HTTPAddr)
	}
}

func TestLoadUsesRootDirEnv(t *testing.T) {
	path := writeConfig(t, "overlay:\n  channel_id: \"c\"\n")
	t.Setenv("VOICE_OVERLAY_ROOT_DIR", filepath.Dir(path))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Overlay.ChannelID != "c" {
		t.Fatalf("channel_id=%q, want c", cfg.Overlay.ChannelID)
	}
	if cfg.RootDir != filepath.Dir(path) {
		t.Fatalf("root_dir=%q, want %q", cfg.RootDir, filepath.Dir(path))
	}
}

func TestValidateRequiresSessionIdentifiers(t *testing.T) {
	cfg := Config{Viewer: ViewerConfig{PushInterval: time.Second}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate error=nil, want missing guild and channel")
	}
	cfg.Overlay.GuildID = "g"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate error=nil, want missing channel")
	}
	cfg.Overlay.ChannelID = "c"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	cfg.Log.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate error=nil, want unknown log level")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadConfig(absent) error=nil, want non-nil")
	}
}
