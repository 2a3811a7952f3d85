package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/slurmproxy/pkg/model"
)

// newMonitorCmd registers a monitor for a job submitted outside the proxy.
func newMonitorCmd() *cobra.Command {
	var (
		flagTask  string
		flagPrep  int64
		flagState string
	)

	cmd := &cobra.Command{
		Use:   "monitor <job-id>",
		Short: "Register an externally submitted job for monitoring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagTask == "" {
				return fmt.Errorf("--task is required")
			}

			var jobID int64
			if _, err := fmt.Sscanf(args[0], "%d", &jobID); err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			body := map[string]any{
				"task_uuid":    flagTask,
				"slurm_job_id": jobID,
			}
			if flagPrep != 0 {
				body["prep_job_id"] = flagPrep
			}
			if flagState != "" {
				body["state"] = flagState
			}

			resp, err := client.Post("/api/v1/monitors/", body)
			if err != nil {
				return fmt.Errorf("register monitor: %w", err)
			}

			var m model.Monitor
			if err := json.Unmarshal(resp.Data, &m); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Printf("Monitoring job %d (task %s, state %s)\n", m.MainJobID, m.TaskUUID, m.State)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagTask, "task", "", "Task UUID the job belongs to (required)")
	cmd.Flags().Int64Var(&flagPrep, "prep", 0, "Prep job id, if one exists")
	cmd.Flags().StringVar(&flagState, "state", "", "Initial state (default PENDING)")
	return cmd
}
