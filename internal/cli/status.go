package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/me/slurmproxy/pkg/model"
)

func newStatusCmd() *cobra.Command {
	var flagTask string

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show stored and live status for a monitored job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			switch {
			case len(args) == 1:
				if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
					return fmt.Errorf("invalid job id %q", args[0])
				}
				path = "/api/v1/monitors/job/" + args[0]
			case flagTask != "":
				path = "/api/v1/monitors/task/" + flagTask
			default:
				return fmt.Errorf("provide a job id or --task")
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}

			var summary model.MonitorSummary
			if err := json.Unmarshal(resp.Data, &summary); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			printSummary(summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagTask, "task", "", "Look up by task UUID instead of job id")
	return cmd
}

func printSummary(summary model.MonitorSummary) {
	m := summary.Monitor
	fmt.Printf("Job %d (task %s)\n", m.MainJobID, m.TaskUUID)
	fmt.Printf("  State:   %s\n", m.State)
	fmt.Printf("  Prep:    %d\n", m.PrepJobID)
	fmt.Printf("  Created: %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"))
	if m.LastPolledAt != nil {
		fmt.Printf("  Polled:  %s\n", m.LastPolledAt.Format("2006-01-02 15:04:05"))
	}
	if m.NotifiedAt != nil {
		fmt.Printf("  Notified: %s\n", m.NotifiedAt.Format("2006-01-02 15:04:05"))
	}
	if summary.Task != nil {
		fmt.Printf("  Task:    %s (%s)\n", summary.Task.Name, summary.Task.Username)
	}
	if summary.Live != nil {
		fmt.Printf("  Scheduler: %s", summary.Live.RawState)
		if summary.Live.Elapsed != "" {
			fmt.Printf(" (elapsed %s)", summary.Live.Elapsed)
		}
		fmt.Println()
	}
}
