package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <task_id>",
		Short: "Kill a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			if _, err := client.Post(cmd.Context(), "/api/v1/tasks/"+id+"/kill", nil); err != nil {
				return fmt.Errorf("kill task: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kill requested for task %s\n", id)
			return nil
		},
	}
}
