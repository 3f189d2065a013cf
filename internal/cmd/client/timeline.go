package client

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/adyach/nakadi/internal/domain"
)

// NewTimelineCommand constructs the `timeline` command group.
func NewTimelineCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "timeline", Short: "Timeline operations"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Move an event type to a new timeline on the given storage (admin only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			et, _ := cmd.Flags().GetString("event-type")
			storageID, _ := cmd.Flags().GetString("storage")
			body := map[string]string{"storage_id": storageID}
			var out domain.Timeline
			if err := newAPIClient(cmd, baseURL).do(cmd.Context(), http.MethodPost, "/v1/event-types/"+url.PathEscape(et)+"/timelines", body, nil, &out); err != nil {
				return err
			}
			return printOut(cmd, out)
		},
	}
	createCmd.Flags().String("event-type", "", "Event type name")
	createCmd.Flags().String("storage", "", "Target storage id")
	_ = createCmd.MarkFlagRequired("event-type")
	_ = createCmd.MarkFlagRequired("storage")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the timelines of an event type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			et, _ := cmd.Flags().GetString("event-type")
			var out struct {
				Items []domain.Timeline `json:"items"`
			}
			if err := newAPIClient(cmd, baseURL).do(cmd.Context(), http.MethodGet, "/v1/event-types/"+url.PathEscape(et)+"/timelines", nil, nil, &out); err != nil {
				return err
			}
			return printOut(cmd, out.Items)
		},
	}
	listCmd.Flags().String("event-type", "", "Event type name")
	_ = listCmd.MarkFlagRequired("event-type")

	cmd.AddCommand(createCmd, listCmd)
	return cmd
}
