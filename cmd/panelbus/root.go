package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/panelbus/internal/config"
	"github.com/dshills/panelbus/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "panelbus",
	Short: "Compositor event bus for desktop panels",
	Long: `panelbus connects to the compositor's IPC socket, decodes its event
stream and dispatches each event to built-in and Lua plugins.

With the relay enabled, other processes can follow the event stream
over a unix socket or a websocket and inject events of their own.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig loads the configuration and applies command line overrides.
func loadConfig() (*config.Config, error) {
	if err := checkFlags(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	return cfg, nil
}

func checkFlags() error {
	if logLevel != "" && !logging.ValidLevel(logLevel) {
		return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", logLevel)
	}
	return nil
}

// applyFlags applies the persistent flags to cfg.
func applyFlags(cfg *config.Config) {
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
}
