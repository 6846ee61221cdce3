package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/panelbus/internal/app"
	"github.com/dshills/panelbus/internal/config"
)

var (
	runWatch   bool
	runRelay   bool
	runNoRelay bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the compositor and dispatch events",
	Long: `Run connects to the compositor socket, loads plugins and dispatches
compositor events until interrupted. The connection is retried while the
compositor is unavailable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPanelbus(cmd, runRelay)
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run with the event relay enabled",
	Long: `Relay is run with relay.enabled forced on. Every compositor event is
forwarded as one JSON line to clients of the relay socket, and lines the
clients write are dispatched as events.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPanelbus(cmd, true)
	},
}

func runPanelbus(cmd *cobra.Command, enableRelay bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg, app.Options{
		WatchConfig:  runWatch,
		DisableRelay: runNoRelay && !enableRelay,
		Override: func(c *config.Config) {
			applyFlags(c)
			if enableRelay {
				c.Relay.Enabled = true
			}
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return application.Run(ctx)
}

func init() {
	for _, c := range []*cobra.Command{runCmd, relayCmd} {
		c.Flags().BoolVar(&runWatch, "watch", true, "reload configuration and plugins when their files change")
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().BoolVar(&runRelay, "relay", false, "enable the event relay")
	runCmd.Flags().BoolVar(&runNoRelay, "no-relay", false, "disable the event relay")
	runCmd.MarkFlagsMutuallyExclusive("relay", "no-relay")
}
