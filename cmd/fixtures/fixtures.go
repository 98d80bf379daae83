package fixtures

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/mainthub/notifier/internal/notification"
)

// Command prints the demo dataset shown when the backend is unreachable.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "fixtures",
		Short: "Print the demo notification dataset as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := notification.NewNormalizer(notification.NormalizeOptions{})
			records, err := notification.DemoRecords(n, time.Now())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}
}
