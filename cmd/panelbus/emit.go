package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
)

var emitSocket string

var emitCmd = &cobra.Command{
	Use:   "emit <event-type> [path=value...]",
	Short: "Inject an event through a running panelbus relay",
	Long: `Emit builds an event object and writes it to the relay socket of a
running panelbus, which dispatches it like a compositor event.

Paths use dotted gjson syntax. Values that are valid JSON are stored as
JSON, anything else as a string:

  panelbus emit view-focused view.id=5 view.pid=100 view.role=toplevel view.app-id=foot`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := buildEvent(args[0], args[1:])
		if err != nil {
			return err
		}
		path, err := relaySocket(emitSocket)
		if err != nil {
			return err
		}
		conn, err := net.Dial("unix", path)
		if err != nil {
			return fmt.Errorf("connect to relay: %w", err)
		}
		defer conn.Close()

		if _, err := conn.Write(append(payload, '\n')); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		return nil
	},
}

func init() {
	emitCmd.Flags().StringVarP(&emitSocket, "socket", "s", "", "relay socket (default relay.listen)")
	rootCmd.AddCommand(emitCmd)
}
