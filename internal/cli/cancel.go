package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a monitored job and drop its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			if _, err := client.Delete("/api/v1/monitors/job/" + args[0]); err != nil {
				return fmt.Errorf("cancel job: %w", err)
			}
			fmt.Printf("Job %s cancelled\n", args[0])
			return nil
		},
	}
}
