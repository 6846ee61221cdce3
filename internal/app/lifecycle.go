package app

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/panelbus/internal/config"
	"github.com/dshills/panelbus/internal/logging"
)

// Run starts the loop, the relay and the config watcher, connects to the
// compositor and loads plugins. It blocks until ctx is done or Shutdown
// is called, then cleans up in reverse order. An Application runs once.
func (app *Application) Run(ctx context.Context) error {
	if !app.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	app.startTime = time.Now()
	app.running.Store(true)
	defer close(app.stopped)
	defer app.running.Store(false)

	// The loop outlives ctx so that cleanup can still run on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopErr := make(chan error, 1)
	go func() { loopErr <- app.loop.Run(loopCtx) }()

	if app.relay != nil {
		if err := app.relay.Start(); err != nil {
			stopLoop()
			<-app.loop.Done()
			return &ComponentError{Component: "relay", Action: "start", Err: err}
		}
	}

	cfg := app.Config()
	app.loop.Post(func() {
		if err := app.plugins.LoadAll(); err != nil {
			app.log.Warn("some plugins failed to load: %v", err)
		}
		app.supervisor.Start(cfg.Compositor.Socket)
	})

	if app.opts.WatchConfig {
		app.startWatcher(cfg)
	}

	app.log.Info("panelbus running (dispatch=%s, socket=%s)", cfg.Dispatch.Mode, cfg.Compositor.Socket)

	var runErr error
	select {
	case <-ctx.Done():
	case <-app.done:
	case err := <-loopErr:
		// The loop only returns early if something stopped it directly.
		runErr = err
	}

	if err := app.shutdown(stopLoop); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func (app *Application) startWatcher(cfg *config.Config) {
	w, err := config.NewWatcher(app.loop, cfg.Path(), pluginConfig(cfg).PluginPaths, app.handleChange,
		config.WithWatcherLogger(app.log))
	if err != nil {
		app.log.Warn("config hot reload disabled: %v", err)
		return
	}
	app.mu.Lock()
	app.watcher = w
	app.mu.Unlock()
}

// Shutdown requests a graceful shutdown. It does not wait; Run returns
// once cleanup is complete. Safe to call more than once and from the
// loop goroutine.
func (app *Application) Shutdown() {
	app.shutdownOnce.Do(func() {
		close(app.done)
	})
}

// Stopped is closed once Run has finished cleaning up.
func (app *Application) Stopped() <-chan struct{} {
	return app.stopped
}

// shutdown performs cleanup in reverse initialization order.
func (app *Application) shutdown(stopLoop context.CancelFunc) error {
	var errs []error

	// 1. Config watcher
	app.mu.Lock()
	w := app.watcher
	app.watcher = nil
	app.mu.Unlock()
	if w != nil {
		w.Close()
	}

	// 2. Relay
	if app.relay != nil {
		if err := app.relay.Close(); err != nil {
			errs = append(errs, &ComponentError{Component: "relay", Action: "close", Err: err})
		}
	}

	// 3. Supervisor and plugins, on the loop
	var unloadErr error
	if err := app.onLoop(func() {
		app.supervisor.Stop()
		unloadErr = app.plugins.UnloadAll()
	}); err != nil {
		errs = append(errs, err)
	} else if unloadErr != nil {
		errs = append(errs, &ComponentError{Component: "plugins", Action: "unload", Err: unloadErr})
	}

	// 4. Loop
	stopLoop()
	<-app.loop.Done()

	app.router.Uninstall(app.bus)
	app.log.Info("panelbus stopped")
	app.log.Sync()
	return errors.Join(errs...)
}

// onLoop runs fn on the loop goroutine and waits for it. When the loop
// no longer accepts work fn runs on the caller's goroutine, which is
// safe because nothing else runs loop callbacks any more.
func (app *Application) onLoop(fn func()) error {
	finished := make(chan struct{})
	if !app.loop.Post(func() {
		defer close(finished)
		fn()
	}) {
		select {
		case <-app.loop.Done():
			fn()
			return nil
		default:
		}
		return ErrShutdownTimeout
	}

	select {
	case <-finished:
		return nil
	case <-time.After(app.opts.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// handleChange runs on the loop when the watcher reports a change.
func (app *Application) handleChange(change config.Change) {
	if change.Config {
		cfg, err := app.reloadConfig()
		if err != nil {
			app.log.Error("config reload failed, keeping current settings: %v", err)
			return
		}
		app.ApplyConfig(cfg)
		return
	}
	if change.Plugins {
		app.log.Info("plugin files changed: %v", change.Paths)
		app.reloadPlugins()
	}
}

// reloadConfig reads the config file again and reapplies the
// command line overrides.
func (app *Application) reloadConfig() (*config.Config, error) {
	cfg, err := config.Load(app.Config().Path())
	if err != nil {
		return nil, err
	}
	if app.opts.Override == nil {
		return cfg, nil
	}
	app.opts.Override(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyConfig switches to cfg. The log level, compositor socket and
// plugin settings take effect immediately; plugins are reloaded. The
// dispatch mode and relay settings need a restart. Must be called on the
// loop goroutine while running.
func (app *Application) ApplyConfig(cfg *config.Config) {
	app.mu.Lock()
	old := app.config
	app.config = cfg
	app.mu.Unlock()

	if cfg.Log.Level != old.Log.Level {
		app.log.SetLevel(logging.ParseLevel(cfg.Log.Level))
		app.log.Info("log level set to %s", cfg.Log.Level)
	}
	if cfg.Dispatch.Mode != old.Dispatch.Mode || cfg.Relay != old.Relay {
		app.log.Warn("dispatch and relay changes take effect after a restart")
	}
	if cfg.Compositor.Socket != old.Compositor.Socket && app.IsRunning() {
		app.log.Info("compositor socket changed to %s", cfg.Compositor.Socket)
		app.supervisor.Connect(cfg.Compositor.Socket)
	}

	app.plugins.SetConfig(pluginConfig(cfg))
	app.reloadPlugins()
}

func (app *Application) reloadPlugins() {
	app.reloads.Add(1)
	if err := app.plugins.Reload(); err != nil {
		app.log.Warn("plugin reload finished with errors: %v", err)
	}
}
