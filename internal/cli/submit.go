package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/slurmproxy/internal/normalize"
)

func newSubmitCmd() *cobra.Command {
	var flagUUID string

	cmd := &cobra.Command{
		Use:   "submit <task-file>",
		Short: "Submit a task described by a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := readTaskFile(args[0])
			if err != nil {
				return err
			}
			if flagUUID != "" {
				task.UUID = flagUUID
			}
			if task.UUID == "" {
				task.UUID = uuid.New().String()
			}

			resp, err := client.Post("/api/v1/tasks", map[string]any{"task": task})
			if err != nil {
				return fmt.Errorf("submit task: %w", err)
			}

			var data struct {
				TaskUUID  string `json:"task_uuid"`
				JobID     int64  `json:"slurm_job_id"`
				PrepJobID int64  `json:"prep_job_id"`
				State     string `json:"state"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Task submitted\n")
			fmt.Printf("  UUID:     %s\n", data.TaskUUID)
			fmt.Printf("  Job ID:   %d (prep %d)\n", data.JobID, data.PrepJobID)
			fmt.Printf("  State:    %s\n", data.State)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagUUID, "uuid", "", "Task UUID (generated when omitted)")
	return cmd
}

// readTaskFile parses a task request from a YAML or JSON file.
func readTaskFile(path string) (*normalize.TaskRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}

	var task normalize.TaskRequest
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &task); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return &task, nil
	}
	// YAML path goes through JSON so the request's json tags apply.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", path, err)
	}
	if err := json.Unmarshal(buf, &task); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &task, nil
}
