package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command for the Nakadi client.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "nakadi",
		Short: "Nakadi client commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers the client command groups and their shared flags on root.
func AddCommands(root *cobra.Command, baseURL BaseURLFunc) {
	root.PersistentFlags().String("client", "", "Client id sent as X-Nakadi-Client (default $NAKADI_CLIENT)")
	root.PersistentFlags().StringP("output", "o", "json", "Output format: json|yaml")
	root.AddCommand(
		NewStorageCommand(baseURL),
		NewEventTypeCommand(baseURL),
		NewTimelineCommand(baseURL),
		NewEventsCommand(baseURL),
		NewCursorCommand(),
	)
}
