package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/panelbus/internal/ipc"
)

var (
	watchSocket  string
	watchTypes   []string
	watchCompact bool
	watchNoColor bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print events from a running panelbus relay",
	Long: `Watch connects to the relay socket of a running panelbus and prints
every event it forwards. Use --type to restrict output to some event
types; a type ending in "-" selects a whole category, e.g. "view-".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := relaySocket(watchSocket)
		if err != nil {
			return err
		}
		conn, err := net.Dial("unix", path)
		if err != nil {
			return fmt.Errorf("connect to relay: %w", err)
		}
		defer conn.Close()

		opts := printOptions{
			Compact: watchCompact,
			Color:   !watchNoColor && term.IsTerminal(int(os.Stdout.Fd())),
			Types:   watchTypes,
		}

		out := cmd.OutOrStdout()
		frames := ipc.NewFrameReader(ipc.DefaultMaxFrameSize)
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				lines, ferr := frames.Feed(buf[:n])
				if ferr != nil {
					return ferr
				}
				for _, line := range lines {
					if opts.matches(line) {
						out.Write(opts.format(line))
					}
				}
			}
			if err != nil {
				// The relay closing the connection ends the watch.
				return nil
			}
		}
	},
}

// relaySocket returns the relay socket to dial: the flag value when set,
// otherwise relay.listen from the configuration.
func relaySocket(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Relay.Listen, nil
}

func init() {
	watchCmd.Flags().StringVarP(&watchSocket, "socket", "s", "", "relay socket (default relay.listen)")
	watchCmd.Flags().StringSliceVarP(&watchTypes, "type", "t", nil, "event types to print")
	watchCmd.Flags().BoolVar(&watchCompact, "compact", false, "print one event per line")
	watchCmd.Flags().BoolVar(&watchNoColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(watchCmd)
}
