package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/panelbus/internal/ipc"
	"github.com/dshills/panelbus/internal/logging"
)

// FileName is the config file name inside the config directory.
const FileName = "config.toml"

// Dispatch modes.
const (
	DispatchSync     = "sync"
	DispatchDeferred = "deferred"
)

// Duration is a time.Duration that reads from TOML strings like "3s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete panelbus configuration.
type Config struct {
	Compositor CompositorConfig `toml:"compositor"`
	Log        LogConfig        `toml:"log"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	Relay      RelayConfig      `toml:"relay"`
	Plugins    PluginsConfig    `toml:"plugins"`

	// path is the file the config was loaded from, if any.
	path string
}

// CompositorConfig configures the compositor connection.
type CompositorConfig struct {
	// Socket is the compositor IPC socket path.
	Socket string `toml:"socket"`
	// HealthInterval is how often a lost connection is retried.
	HealthInterval Duration `toml:"health_interval"`
	// ReadSize is the size of each socket read.
	ReadSize int `toml:"read_size"`
	// MaxFrameSize bounds a single unterminated line.
	MaxFrameSize int `toml:"max_frame_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DispatchConfig selects how the bus delivers events.
type DispatchConfig struct {
	// Mode is "sync" (handlers run inside Dispatch) or "deferred"
	// (each delivery is posted to the loop).
	Mode string `toml:"mode"`
	// QueueSize is the loop's task queue capacity.
	QueueSize int `toml:"queue_size"`
}

// RelayConfig configures the event relay.
type RelayConfig struct {
	Enabled bool `toml:"enabled"`
	// Listen is the relay's unix socket path.
	Listen string `toml:"listen"`
	// Websocket is an optional TCP address for the websocket mirror.
	Websocket string `toml:"websocket"`
	// ClientQueue is the per-client send queue length.
	ClientQueue int `toml:"client_queue"`
}

// PluginsConfig configures the plugin host.
type PluginsConfig struct {
	// Paths are searched in order for Lua plugins. Empty uses the
	// default search path.
	Paths    []string `toml:"paths"`
	Disabled []string `toml:"disabled"`
	// Timeout bounds each call into a Lua plugin.
	Timeout  Duration                  `toml:"timeout"`
	Settings map[string]map[string]any `toml:"settings"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Compositor: CompositorConfig{
			Socket:         ipc.SocketPath("panelbus"),
			HealthInterval: Duration(3 * time.Second),
			ReadSize:       4096,
			MaxFrameSize:   ipc.DefaultMaxFrameSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Dispatch: DispatchConfig{
			Mode:      DispatchSync,
			QueueSize: 256,
		},
		Relay: RelayConfig{
			Listen:      ipc.SocketPath("panelbus-relay"),
			ClientQueue: 64,
		},
		Plugins: PluginsConfig{
			Timeout: Duration(time.Second),
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/panelbus/config.toml, falling
// back to ~/.config.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "panelbus", FileName)
}

// Load reads the config file at path over the defaults, applies
// PANELBUS_* environment overrides and validates the result. A missing
// file yields the defaults. An empty path uses DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := cfg.decode(path, data); err != nil {
			return nil, err
		}
	}

	if err := NewEnvLoader().Apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		perr := &ParseError{Path: path, Message: err.Error(), Err: err}

		var derr *toml.DecodeError
		var serr *toml.StrictMissingError
		switch {
		case errors.As(err, &derr):
			perr.Line, perr.Column = derr.Position()
			perr.Message = derr.Error()
		case errors.As(err, &serr) && len(serr.Errors) > 0:
			perr.Line, perr.Column = serr.Errors[0].Position()
			perr.Message = "unknown key " + strings.Join(serr.Errors[0].Key(), ".")
		}
		return perr
	}
	return nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Validate checks every field and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(field string, value any, msg string) {
		errs = append(errs, &FieldError{Field: field, Value: value, Message: msg})
	}

	if c.Compositor.Socket == "" {
		invalid("compositor.socket", c.Compositor.Socket, "must not be empty")
	}
	if c.Compositor.HealthInterval <= 0 {
		invalid("compositor.health_interval", c.Compositor.HealthInterval.Std(), "must be positive")
	}
	if c.Compositor.ReadSize <= 0 {
		invalid("compositor.read_size", c.Compositor.ReadSize, "must be positive")
	}
	if c.Compositor.MaxFrameSize < 0 {
		invalid("compositor.max_frame_size", c.Compositor.MaxFrameSize, "must not be negative")
	}
	if !logging.ValidLevel(c.Log.Level) {
		invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		invalid("log.format", c.Log.Format, `must be "console" or "json"`)
	}
	if c.Dispatch.Mode != DispatchSync && c.Dispatch.Mode != DispatchDeferred {
		invalid("dispatch.mode", c.Dispatch.Mode, `must be "sync" or "deferred"`)
	}
	if c.Dispatch.QueueSize <= 0 {
		invalid("dispatch.queue_size", c.Dispatch.QueueSize, "must be positive")
	}
	if c.Relay.Enabled && c.Relay.Listen == "" {
		invalid("relay.listen", c.Relay.Listen, "required when the relay is enabled")
	}
	if c.Relay.Enabled && c.Relay.Listen != "" && samePath(c.Relay.Listen, c.Compositor.Socket) {
		invalid("relay.listen", c.Relay.Listen, "must differ from compositor.socket")
	}
	if c.Relay.ClientQueue <= 0 {
		invalid("relay.client_queue", c.Relay.ClientQueue, "must be positive")
	}
	if c.Plugins.Timeout < 0 {
		invalid("plugins.timeout", c.Plugins.Timeout.Std(), "must not be negative")
	}

	return errors.Join(errs...)
}

func samePath(a, b string) bool {
	return filepath.Clean(expandHome(a)) == filepath.Clean(expandHome(b))
}

// PluginPaths returns the configured plugin directories with a leading
// ~ expanded.
func (c *Config) PluginPaths() []string {
	paths := make([]string, 0, len(c.Plugins.Paths))
	for _, p := range c.Plugins.Paths {
		paths = append(paths, expandHome(p))
	}
	return paths
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
