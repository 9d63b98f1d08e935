package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig("no-such-file.yml")
	if cfg.Web.Port != 3000 {
		t.Fatalf("default port = %d", cfg.Web.Port)
	}
	if cfg.Session.MessageBufferSize != 50 {
		t.Fatalf("default buffer = %d", cfg.Session.MessageBufferSize)
	}
	if cfg.Session.AddressSuffix != "s.whatsapp.net" {
		t.Fatalf("default suffix = %q", cfg.Session.AddressSuffix)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	cfile := filepath.Join(dir, "wppgate.yml")
	data := []byte("web:\n  port: 8080\nsession:\n  pairing_wait_ms: 9000\n")
	if err := os.WriteFile(cfile, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(cfile)
	if cfg.Web.Port != 8080 {
		t.Fatalf("port = %d", cfg.Web.Port)
	}
	if cfg.Session.PairingWaitMs != 9000 {
		t.Fatalf("pairing wait = %d", cfg.Session.PairingWaitMs)
	}
	// Untouched keys keep their defaults.
	if cfg.Session.ReconnectMaxAttempts != 10 {
		t.Fatalf("reconnect attempts = %d", cfg.Session.ReconnectMaxAttempts)
	}
	// The shared default must not be mutated by file loading.
	if DefaultAppConfig.Web.Port != 3000 {
		t.Fatalf("defaults mutated: port = %d", DefaultAppConfig.Web.Port)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("WPPGATE_SYSTEM_WORKDIR", "/tmp/wpp-test")
	t.Setenv("NODE_ENV", "production")

	cfg := LoadConfig("")
	if cfg.Web.Port != 4000 {
		t.Fatalf("port = %d", cfg.Web.Port)
	}
	if cfg.System.Workdir != "/tmp/wpp-test" {
		t.Fatalf("workdir = %q", cfg.System.Workdir)
	}
	if cfg.Logger.Mode != "production" {
		t.Fatalf("logger mode = %q", cfg.Logger.Mode)
	}
}

func TestDirAccessors(t *testing.T) {
	cfg := LoadConfig("")
	cfg.System.Workdir = "/var/lib/wpp"
	if got := cfg.GetSessionsDir(); got != filepath.Join("/var/lib/wpp", "sessions") {
		t.Fatalf("sessions dir = %q", got)
	}
	if got := cfg.GetLogDir(); got != filepath.Join("/var/lib/wpp", "logs") {
		t.Fatalf("log dir = %q", got)
	}
}

func TestEnvironment(t *testing.T) {
	t.Setenv("NODE_ENV", "")
	if got := Environment(); got != "development" {
		t.Fatalf("Environment() = %q", got)
	}
	t.Setenv("NODE_ENV", "production")
	if got := Environment(); got != "production" {
		t.Fatalf("Environment() = %q", got)
	}
}
