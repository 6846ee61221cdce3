// Package app wires the panelbus components together and manages their
// lifecycle.
//
// Bootstrap order:
//
//  1. logger
//  2. loop
//  3. event bus (sync or deferred delivery)
//  4. compositor router, installed as the bus's category handlers
//  5. subscriber registrar
//  6. plugin manager with the built-in plugins
//  7. connection supervisor
//  8. relay (when enabled)
//
// Everything that touches the bus, the supervisor or the plugin manager
// after Run starts does so on the loop goroutine.
package app

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/panelbus/internal/compositor"
	"github.com/dshills/panelbus/internal/config"
	"github.com/dshills/panelbus/internal/event"
	"github.com/dshills/panelbus/internal/ipc"
	"github.com/dshills/panelbus/internal/logging"
	"github.com/dshills/panelbus/internal/loop"
	"github.com/dshills/panelbus/internal/plugin"
	"github.com/dshills/panelbus/internal/registrar"
	"github.com/dshills/panelbus/internal/relay"
)

// Application is the central coordinator for all panelbus components.
type Application struct {
	mu sync.RWMutex

	config *config.Config
	opts   Options
	log    *logging.Logger

	// Core
	loop       *loop.Loop
	bus        *event.Bus
	router     *compositor.Router
	registrar  *registrar.Registrar
	supervisor *ipc.Supervisor

	// Extensions
	plugins *plugin.Manager
	relay   *relay.Server
	watcher *config.Watcher

	// State
	ran          atomic.Bool
	running      atomic.Bool
	shutdownOnce sync.Once
	done         chan struct{}
	stopped      chan struct{}
	startTime    time.Time
	reloads      atomic.Uint64
}

// Options configures the application.
type Options struct {
	// LogOutput receives log output. Default: os.Stderr.
	LogOutput io.Writer

	// Logger replaces the configured logger.
	Logger *logging.Logger

	// WatchConfig enables hot reload of the config file and plugin
	// directories.
	WatchConfig bool

	// DisableRelay overrides relay.enabled.
	DisableRelay bool

	// Builtins replaces the default built-in plugins.
	Builtins []plugin.Plugin

	// Override is applied to the initial config and to every config
	// loaded by hot reload, so command line settings survive a reload.
	Override func(*config.Config)

	// ShutdownTimeout bounds the loop-side cleanup in Shutdown.
	// Default: 5 seconds
	ShutdownTimeout time.Duration
}

// New creates an Application from cfg. Nothing runs until Run.
func New(cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Override != nil {
		opts.Override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	app := &Application{
		config:  cfg,
		opts:    opts,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if err := app.bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// bootstrap initializes all components in dependency order.
func (app *Application) bootstrap() error {
	cfg := app.config

	// 1. Logger
	app.log = app.opts.Logger
	if app.log == nil {
		out := app.opts.LogOutput
		if out == nil {
			out = os.Stderr
		}
		app.log = logging.New(logging.Config{
			Level:  logging.ParseLevel(cfg.Log.Level),
			Output: out,
			Format: cfg.Log.Format,
			Prefix: "panelbus",
		})
	}

	// 2. Loop
	app.loop = loop.New(
		loop.WithQueueSize(cfg.Dispatch.QueueSize),
		loop.WithLogger(app.log),
	)

	// 3. Event bus
	busOpts := []event.Option{event.WithLogger(app.log.WithComponent("bus"))}
	if cfg.Dispatch.Mode == config.DispatchDeferred {
		busOpts = append(busOpts, event.WithDeferredDelivery(app.loop))
	}
	app.bus = event.NewBus(busOpts...)

	// 4. Router
	app.router = compositor.NewRouter(app.log)
	if err := app.router.Install(app.bus); err != nil {
		return &InitError{Component: "router", Err: err}
	}

	// 5. Registrar
	app.registrar = registrar.New(app.bus, app.log)

	// 6. Plugins
	builtins := app.opts.Builtins
	if builtins == nil {
		builtins = []plugin.Plugin{plugin.NewEventLog(), plugin.NewFocus()}
	}
	app.plugins = plugin.NewManager(pluginConfig(cfg), app.bus, app.registrar, app.log, builtins...)
	app.plugins.Subscribe(app.logPluginEvent)

	// 7. Supervisor
	app.supervisor = ipc.NewSupervisor(app.loop, app.bus, ipc.Config{
		ReadSize:       cfg.Compositor.ReadSize,
		HealthInterval: cfg.Compositor.HealthInterval.Std(),
		MaxFrameSize:   cfg.Compositor.MaxFrameSize,
	}, app.log)
	app.supervisor.OnStateChange(func(from, to ipc.ConnState) {
		app.log.Info("compositor connection %s -> %s", from, to)
	})

	// 8. Relay
	if cfg.Relay.Enabled && !app.opts.DisableRelay {
		app.relay = relay.New(relay.Config{
			Listen:       cfg.Relay.Listen,
			Websocket:    cfg.Relay.Websocket,
			ClientQueue:  cfg.Relay.ClientQueue,
			MaxFrameSize: cfg.Compositor.MaxFrameSize,
		}, app.bus, app.loop, app.log)
	}

	return nil
}

// pluginConfig translates the plugins section into a ManagerConfig.
func pluginConfig(cfg *config.Config) plugin.ManagerConfig {
	mc := plugin.ManagerConfig{
		PluginPaths:      cfg.PluginPaths(),
		Disabled:         cfg.Plugins.Disabled,
		ExecutionTimeout: cfg.Plugins.Timeout.Std(),
		Settings:         make(map[string]plugin.Settings, len(cfg.Plugins.Settings)),
	}
	if len(mc.PluginPaths) == 0 {
		mc.PluginPaths = plugin.DefaultPluginPaths()
	}
	for name, section := range cfg.Plugins.Settings {
		mc.Settings[name] = plugin.Settings(section)
	}
	return mc
}

func (app *Application) logPluginEvent(ev plugin.ManagerEvent) {
	switch ev.Type {
	case plugin.EventPluginError:
		app.log.Warn("plugin %s: %v", ev.Plugin, ev.Error)
	case plugin.EventPluginDisabled:
		app.log.Info("plugin %s is disabled", ev.Plugin)
	default:
		app.log.Debug("plugin %s %s", ev.Plugin, ev.Type)
	}
}

// IsRunning returns true if the application is running.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Config returns the current configuration.
func (app *Application) Config() *config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.config
}

// Logger returns the root logger.
func (app *Application) Logger() *logging.Logger {
	return app.log
}

// Loop returns the application loop.
func (app *Application) Loop() *loop.Loop {
	return app.loop
}

// Bus returns the event bus.
func (app *Application) Bus() *event.Bus {
	return app.bus
}

// Router returns the compositor router.
func (app *Application) Router() *compositor.Router {
	return app.router
}

// Registrar returns the subscriber registrar.
func (app *Application) Registrar() *registrar.Registrar {
	return app.registrar
}

// Supervisor returns the compositor connection supervisor.
func (app *Application) Supervisor() *ipc.Supervisor {
	return app.supervisor
}

// Plugins returns the plugin manager.
func (app *Application) Plugins() *plugin.Manager {
	return app.plugins
}

// Relay returns the relay server (may be nil).
func (app *Application) Relay() *relay.Server {
	return app.relay
}
