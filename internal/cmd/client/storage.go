package client

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adyach/nakadi/internal/domain"
)

// NewStorageCommand constructs the `storage` command group.
func NewStorageCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "storage", Short: "Storage operations"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a storage (admin only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			typ, _ := cmd.Flags().GetString("type")
			brokers, _ := cmd.Flags().GetString("brokers")
			st := domain.Storage{ID: id, Type: domain.StorageType(typ)}
			if brokers != "" {
				st.Kafka = &domain.KafkaStorage{Brokers: strings.Split(brokers, ",")}
			}
			var out domain.Storage
			if err := newAPIClient(cmd, baseURL).do(cmd.Context(), http.MethodPost, "/v1/storages", st, nil, &out); err != nil {
				return err
			}
			return printOut(cmd, out)
		},
	}
	createCmd.Flags().String("id", "", "Storage id")
	createCmd.Flags().String("type", string(domain.StorageLocal), "Storage type: local|kafka")
	createCmd.Flags().String("brokers", "", "Comma-separated Kafka brokers")
	_ = createCmd.MarkFlagRequired("id")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List storages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Items []domain.Storage `json:"items"`
			}
			if err := newAPIClient(cmd, baseURL).do(cmd.Context(), http.MethodGet, "/v1/storages", nil, nil, &out); err != nil {
				return err
			}
			return printOut(cmd, out.Items)
		},
	}

	cmd.AddCommand(createCmd, listCmd)
	return cmd
}
