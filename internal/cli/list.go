package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/me/slurmproxy/pkg/model"
)

func newListCmd() *cobra.Command {
	var flagState string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monitored jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/monitors/"
			if flagState != "" {
				path += "?state=" + flagState
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list monitors: %w", err)
			}

			var monitors []model.Monitor
			if err := json.Unmarshal(resp.Data, &monitors); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if len(monitors) == 0 {
				fmt.Println("No monitored jobs")
				return nil
			}

			// Narrow terminals drop the task uuid column.
			wide := true
			if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
				if width, _, err := term.GetSize(fd); err == nil && width < 80 {
					wide = false
				}
			}

			if wide {
				fmt.Printf("%-10s %-10s %-10s %-20s %s\n", "JOB", "PREP", "STATE", "CREATED", "TASK")
			} else {
				fmt.Printf("%-10s %-10s %s\n", "JOB", "STATE", "CREATED")
			}
			for _, m := range monitors {
				created := m.CreatedAt.Format("2006-01-02 15:04:05")
				if wide {
					fmt.Printf("%-10d %-10d %-10s %-20s %s\n", m.MainJobID, m.PrepJobID, m.State, created, m.TaskUUID)
				} else {
					fmt.Printf("%-10d %-10s %s\n", m.MainJobID, m.State, created)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagState, "state", "", "Filter by state (PENDING, RUNNING, COMPLETED, FAILED, CANCELLED, TIMEOUT)")
	return cmd
}
