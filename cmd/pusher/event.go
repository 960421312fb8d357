package main

import (
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event --event <kind> [key=value ...]",
	Short: "Broadcast an event to the target without waiting for a reply",
	RunE:  runEvent,
}

var eventKind string

func init() {
	eventCmd.Flags().StringVarP(&eventKind, "event", "e", "", "Event kind, e.g. BluetoothDeviceConnectedEvent")
	rootCmd.AddCommand(eventCmd)
}

func runEvent(_ *cobra.Command, args []string) error {
	if eventKind == "" {
		return usageError{msg: "no event kind: pass --event"}
	}
	// Event attributes stay strings; the kind's schema decides their types.
	attrs, err := parseArgs(args, false)
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := signalContext()
	defer cancel()
	return s.pusher.SendEventAttrs(ctx, s.target, eventKind, attrs)
}
