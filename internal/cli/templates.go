package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List available task templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/templates")
			if err != nil {
				return fmt.Errorf("list templates: %w", err)
			}

			var templates []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Cmd         string `json:"cmd"`
			}
			if err := json.Unmarshal(resp.Data, &templates); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			for _, t := range templates {
				fmt.Printf("%s\n", t.Name)
				if t.Cmd != "" {
					fmt.Printf("  command: %s\n", t.Cmd)
				}
				if t.Description != "" {
					fmt.Printf("  %s\n", t.Description)
				}
			}
			return nil
		},
	}
}
