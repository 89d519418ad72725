package cli

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/me/quiver/pkg/model"
)

func newListCmd() *cobra.Command {
	var state string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			path := "/api/v1/tasks/"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := client.Get(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}

			var tasks []model.TaskSummary
			if err := json.Unmarshal(resp.Data, &tasks); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks found.")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-14s  %-20s  %s\n", "ID", "STATE", "NAME", "SUBMITTED")
			fmt.Fprintf(out, "%-36s  %-14s  %-20s  %s\n", "--", "-----", "----", "---------")
			for _, t := range tasks {
				fmt.Fprintf(out, "%-36s  %-14s  %-20s  %s\n", t.ID, t.State, t.Name, t.SubmittedAt.Format("2006-01-02T15:04:05Z"))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(tasks), resp.Pagination.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only show tasks in this state (e.g. TASK_RUNNING)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of tasks to show")
	return cmd
}
