package client

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/adyach/nakadi/internal/domain"
)

// NewEventTypeCommand constructs the `event-type` command group.
func NewEventTypeCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "event-type", Short: "Event type operations"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			partitions, _ := cmd.Flags().GetInt("partitions")
			retention, _ := cmd.Flags().GetInt64("retention-ms")
			et := domain.EventType{Name: name, Partitions: partitions, RetentionTimeMs: retention}
			var out domain.EventType
			if err := newAPIClient(cmd, baseURL).do(cmd.Context(), http.MethodPost, "/v1/event-types", et, nil, &out); err != nil {
				return err
			}
			return printOut(cmd, out)
		},
	}
	createCmd.Flags().String("name", "", "Event type name")
	createCmd.Flags().Int("partitions", 0, "Partition count (0 uses the server default)")
	createCmd.Flags().Int64("retention-ms", 0, "Retention in milliseconds (0 uses the server default)")
	_ = createCmd.MarkFlagRequired("name")

	getCmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Show an event type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out domain.EventType
			if err := newAPIClient(cmd, baseURL).do(cmd.Context(), http.MethodGet, "/v1/event-types/"+url.PathEscape(args[0]), nil, nil, &out); err != nil {
				return err
			}
			return printOut(cmd, out)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List event types",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Items []domain.EventType `json:"items"`
			}
			if err := newAPIClient(cmd, baseURL).do(cmd.Context(), http.MethodGet, "/v1/event-types", nil, nil, &out); err != nil {
				return err
			}
			return printOut(cmd, out.Items)
		},
	}

	partitionsCmd := &cobra.Command{
		Use:   "partitions NAME",
		Short: "Show the oldest and newest cursor of every partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []map[string]string
			if err := newAPIClient(cmd, baseURL).do(cmd.Context(), http.MethodGet, "/v1/event-types/"+url.PathEscape(args[0])+"/partitions", nil, nil, &out); err != nil {
				return err
			}
			return printOut(cmd, out)
		},
	}

	cmd.AddCommand(createCmd, getCmd, listCmd, partitionsCmd)
	return cmd
}
