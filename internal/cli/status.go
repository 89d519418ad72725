package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/me/quiver/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Show the status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			resp, err := client.Get(cmd.Context(), "/api/v1/tasks/"+id)
			if err != nil {
				return fmt.Errorf("get task: %w", err)
			}

			var t model.TaskSummary
			if err := json.Unmarshal(resp.Data, &t); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task: %s\n", t.ID)
			fmt.Fprintf(out, "  Name:      %s\n", t.Name)
			fmt.Fprintf(out, "  State:     %s\n", t.State)
			if len(t.Resources) > 0 {
				kinds := make([]string, 0, len(t.Resources))
				for k := range t.Resources {
					kinds = append(kinds, k)
				}
				sort.Strings(kinds)
				fmt.Fprintf(out, "  Resources:")
				for _, k := range kinds {
					fmt.Fprintf(out, " %s=%g", k, t.Resources[k])
				}
				fmt.Fprintln(out)
			}
			if t.SlaveID != "" {
				fmt.Fprintf(out, "  Agent:     %s\n", t.SlaveID)
			}
			if t.Message != "" {
				fmt.Fprintf(out, "  Message:   %s\n", t.Message)
			}
			fmt.Fprintf(out, "  Submitted: %s\n", t.SubmittedAt.Format("2006-01-02T15:04:05Z"))
			if t.CompletedAt != nil {
				fmt.Fprintf(out, "  Completed: %s\n", t.CompletedAt.Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
}
