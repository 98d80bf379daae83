package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mainthub/notifier/internal/buildinfo"
)

// Command creates a new cobra.Command to print the build version.
func Command(build *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the notifier version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.String())
		},
	}
}
