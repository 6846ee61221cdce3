package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every mapped variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for env := range NewEnvLoader().Mapping() {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != "/xdg/panelbus/config.toml" {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/u")
	if got := DefaultPath(); got != "/home/u/.config/panelbus/config.toml" {
		t.Errorf("DefaultPath() fallback = %q", got)
	}
}

func TestDefaultSocket(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := Default().Compositor.Socket; got != "/run/user/1000/panelbus.sock" {
		t.Errorf("Compositor.Socket = %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "absent.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := Default()
	if !reflect.DeepEqual(cfg.Compositor, want.Compositor) || cfg.Log != want.Log {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[compositor]
socket = "/tmp/wayfire.sock"
health_interval = "500ms"

[log]
level = "debug"
format = "json"

[dispatch]
mode = "deferred"

[relay]
enabled = true
websocket = "127.0.0.1:8765"

[plugins]
paths = ["/opt/plugins"]
disabled = ["eventlog"]
timeout = "250ms"

[plugins.settings.focus]
history = 32
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Compositor.Socket != "/tmp/wayfire.sock" {
		t.Errorf("Compositor.Socket = %q", cfg.Compositor.Socket)
	}
	if cfg.Compositor.HealthInterval.Std() != 500*time.Millisecond {
		t.Errorf("HealthInterval = %v", cfg.Compositor.HealthInterval.Std())
	}
	if cfg.Compositor.ReadSize != 4096 {
		t.Errorf("ReadSize = %d, want default 4096", cfg.Compositor.ReadSize)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Dispatch.Mode != DispatchDeferred {
		t.Errorf("Dispatch.Mode = %q", cfg.Dispatch.Mode)
	}
	if !cfg.Relay.Enabled || cfg.Relay.Websocket != "127.0.0.1:8765" || cfg.Relay.Listen == "" {
		t.Errorf("Relay = %+v", cfg.Relay)
	}
	if !reflect.DeepEqual(cfg.Plugins.Disabled, []string{"eventlog"}) {
		t.Errorf("Plugins.Disabled = %v", cfg.Plugins.Disabled)
	}
	if cfg.Plugins.Timeout.Std() != 250*time.Millisecond {
		t.Errorf("Plugins.Timeout = %v", cfg.Plugins.Timeout.Std())
	}
	if got := cfg.Plugins.Settings["focus"]["history"]; got != int64(32) {
		t.Errorf("focus history = %#v, want int64(32)", got)
	}
}

func TestLoadParseErrors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
		message string
	}{
		{"syntax", "[log\nlevel = 1\n", ""},
		{"unknown key", "[log]\nlevl = \"debug\"\n", "levl"},
		{"bad duration", "[compositor]\nhealth_interval = \"soon\"\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Load() error = %v, want *ParseError", err)
			}
			if perr.Path != path {
				t.Errorf("ParseError.Path = %q", perr.Path)
			}
			if !strings.Contains(perr.Message, tt.message) {
				t.Errorf("ParseError.Message = %q, want it to mention %q", perr.Message, tt.message)
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Compositor.Socket = ""
	cfg.Compositor.ReadSize = 0
	cfg.Log.Level = "loud"
	cfg.Dispatch.Mode = "async"
	cfg.Relay.Enabled = true
	cfg.Relay.Listen = ""

	err := cfg.Validate()
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("Validate() = %v, want ErrValidationFailed", err)
	}
	for _, field := range []string{"compositor.socket", "compositor.read_size", "log.level", "dispatch.mode", "relay.listen"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Validate() error missing %s: %v", field, err)
		}
	}
	if n := len(err.(interface{ Unwrap() []error }).Unwrap()); n != 5 {
		t.Errorf("Validate() joined %d errors, want 5", n)
	}
}

func TestValidateRelayListen(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		listen  string
		wantErr bool
	}{
		{"distinct", true, "/run/user/1000/panelbus-relay.sock", false},
		{"same as compositor", true, "/run/user/1000/panelbus.sock", true},
		{"same after cleaning", true, "/run/user/1000//panelbus.sock", true},
		{"relay disabled", false, "/run/user/1000/panelbus.sock", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Compositor.Socket = "/run/user/1000/panelbus.sock"
			cfg.Relay.Enabled = tt.enabled
			cfg.Relay.Listen = tt.listen

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "relay.listen") {
				t.Errorf("Validate() error = %v, want relay.listen", err)
			}
		})
	}
}

func TestParseErrorFormat(t *testing.T) {
	tests := []struct {
		err      *ParseError
		expected string
	}{
		{&ParseError{Path: "c.toml", Line: 3, Column: 7, Message: "bad"}, "parse error in c.toml at line 3, column 7: bad"},
		{&ParseError{Path: "c.toml", Line: 3, Message: "bad"}, "parse error in c.toml at line 3: bad"},
		{&ParseError{Path: "c.toml", Message: "bad"}, "parse error in c.toml: bad"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.expected {
			t.Errorf("Error() = %q, want %q", got, tt.expected)
		}
	}
}

func TestPluginPathsExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/u")
	cfg := Default()
	cfg.Plugins.Paths = []string{"~/plugins", "/abs", "~user/x"}

	want := []string{"/home/u/plugins", "/abs", "~user/x"}
	if got := cfg.PluginPaths(); !reflect.DeepEqual(got, want) {
		t.Errorf("PluginPaths() = %v, want %v", got, want)
	}
}
