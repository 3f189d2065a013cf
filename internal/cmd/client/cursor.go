package client

import (
	"github.com/spf13/cobra"

	"github.com/adyach/nakadi/internal/cursor"
)

// NewCursorCommand constructs the `cursor` command group. Its commands work
// offline.
func NewCursorCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "cursor", Short: "Cursor utilities"}
	inspectCmd := &cobra.Command{
		Use:   "inspect OFFSET",
		Short: "Show the version and timeline order encoded in a cursor offset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, order, err := cursor.Inspect(args[0])
			if err != nil {
				return err
			}
			return printOut(cmd, map[string]any{
				"offset":  args[0],
				"version": v.String(),
				"order":   order,
			})
		},
	}
	cmd.AddCommand(inspectCmd)
	return cmd
}
