package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adyach/nakadi/internal/cursor"
)

// cursorsHeader carries the JSON cursor list of a read.
const cursorsHeader = "X-Nakadi-Cursors"

// NewEventsCommand constructs the `events` command group.
func NewEventsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "Publish and read events"}
	cmd.AddCommand(newEventsPublishCommand(baseURL), newEventsReadCommand(baseURL))
	return cmd
}

func newEventsPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a batch of JSON events to one partition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			et, _ := cmd.Flags().GetString("event-type")
			data, _ := cmd.Flags().GetStringArray("data")
			file, _ := cmd.Flags().GetString("file")
			partition, _ := cmd.Flags().GetString("partition")
			key, _ := cmd.Flags().GetString("key")

			var batch []json.RawMessage
			for i, d := range data {
				if !json.Valid([]byte(d)) {
					return fmt.Errorf("--data #%d is not valid JSON", i+1)
				}
				batch = append(batch, json.RawMessage(d))
			}
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				var fromFile []json.RawMessage
				if err := json.Unmarshal(b, &fromFile); err != nil {
					return fmt.Errorf("--file must hold a JSON array: %w", err)
				}
				batch = append(batch, fromFile...)
			}
			if len(batch) == 0 {
				return fmt.Errorf("nothing to publish; use --data or --file")
			}

			q := url.Values{}
			if partition != "" {
				q.Set("partition", partition)
			}
			if key != "" {
				q.Set("key", key)
			}
			path := "/v1/event-types/" + url.PathEscape(et) + "/events"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var out struct {
				Cursors []cursor.Cursor `json:"cursors"`
			}
			if err := newAPIClient(cmd, baseURL).do(cmd.Context(), http.MethodPost, path, batch, nil, &out); err != nil {
				return err
			}
			return printOut(cmd, out.Cursors)
		},
	}
	publishCmd.Flags().String("event-type", "", "Event type name")
	publishCmd.Flags().StringArray("data", nil, "JSON event (repeatable)")
	publishCmd.Flags().String("file", "", "File holding a JSON array of events")
	publishCmd.Flags().String("partition", "", "Target partition")
	publishCmd.Flags().String("key", "", "Partition key")
	_ = publishCmd.MarkFlagRequired("event-type")
	return publishCmd
}

func newEventsReadCommand(baseURL BaseURLFunc) *cobra.Command {
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read events after the given cursors",
		Long: "Read events after the given cursors. Cursors are PARTITION:OFFSET; the offset\n" +
			"may be BEGIN. Without cursors the read starts at the newest event.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			et, _ := cmd.Flags().GetString("event-type")
			raw, _ := cmd.Flags().GetStringArray("cursor")
			limit, _ := cmd.Flags().GetInt("limit")
			filter, _ := cmd.Flags().GetString("filter")
			waitMs, _ := cmd.Flags().GetInt("wait-ms")

			cursors, err := parseCursorFlags(raw)
			if err != nil {
				return err
			}
			headers := map[string]string{}
			if len(cursors) > 0 {
				b, _ := json.Marshal(cursors)
				headers[cursorsHeader] = string(b)
			}
			q := url.Values{}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if filter != "" {
				q.Set("filter", filter)
			}
			if waitMs > 0 {
				q.Set("wait_ms", strconv.Itoa(waitMs))
			}
			path := "/v1/event-types/" + url.PathEscape(et) + "/events"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var out struct {
				Items []struct {
					Cursor cursor.Cursor     `json:"cursor"`
					Events []json.RawMessage `json:"events,omitempty"`
				} `json:"items"`
			}
			if err := newAPIClient(cmd, baseURL).do(cmd.Context(), http.MethodGet, path, nil, headers, &out); err != nil {
				return err
			}
			return printOut(cmd, out.Items)
		},
	}
	readCmd.Flags().String("event-type", "", "Event type name")
	readCmd.Flags().StringArray("cursor", nil, "Start cursor PARTITION:OFFSET (repeatable)")
	readCmd.Flags().Int("limit", 0, "Max events per partition")
	readCmd.Flags().String("filter", "", "CEL filter expression")
	readCmd.Flags().Int("wait-ms", 0, "Long-poll wait when nothing is available")
	_ = readCmd.MarkFlagRequired("event-type")
	return readCmd
}

func parseCursorFlags(raw []string) ([]cursor.Cursor, error) {
	out := make([]cursor.Cursor, 0, len(raw))
	for _, r := range raw {
		partition, offset, ok := strings.Cut(r, ":")
		if !ok || partition == "" || offset == "" {
			return nil, fmt.Errorf("invalid --cursor %q; expected PARTITION:OFFSET", r)
		}
		out = append(out, cursor.Cursor{Partition: partition, Offset: offset})
	}
	return out, nil
}
