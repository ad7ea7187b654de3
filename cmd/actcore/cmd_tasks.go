package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"actcore/internal/store"
	"actcore/internal/types"

	"github.com/spf13/cobra"
)

var (
	tasksStatus       string
	tasksLimit        int
	tasksCorrelations bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect tasks and their thoughts",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE:  runTasksList,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task with its thoughts",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksShow,
}

func init() {
	tasksListCmd.Flags().StringVar(&tasksStatus, "status", "", "Only tasks with this status")
	tasksListCmd.Flags().IntVarP(&tasksLimit, "limit", "n", 50, "Maximum tasks to show")
	tasksShowCmd.Flags().BoolVar(&tasksCorrelations, "correlations", false, "Include handler correlation records")

	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd)
}

func withStore(fn func(ctx context.Context, st *store.LocalStore) error) error {
	st, err := store.NewLocalStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), st)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	status := types.TaskStatus(tasksStatus)
	if status != "" && !status.Valid() {
		return fmt.Errorf("unknown task status %q", tasksStatus)
	}
	return withStore(func(ctx context.Context, st *store.LocalStore) error {
		tasks, err := st.ListTasks(ctx, status, tasksLimit)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tCHANNEL\tUPDATED\tDESCRIPTION")
		for _, t := range tasks {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Status, t.ChannelID, t.UpdatedAt.Format("2006-01-02 15:04:05"), t.Description)
		}
		return tw.Flush()
	})
}

func runTasksShow(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, st *store.LocalStore) error {
		task, err := st.GetTask(ctx, args[0])
		if err != nil {
			return err
		}
		thoughts, err := st.ThoughtsForTask(ctx, task.ID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Task %s [%s]\n", task.ID, task.Status)
		fmt.Fprintf(out, "  Channel:     %s\n", task.ChannelID)
		fmt.Fprintf(out, "  Description: %s\n", task.Description)
		fmt.Fprintf(out, "  Created:     %s\n", task.CreatedAt.Format("2006-01-02 15:04:05"))

		for _, th := range thoughts {
			fmt.Fprintf(out, "\n%s%s [%s, depth %d]\n", strings.Repeat("  ", th.Depth), th.ID, th.Status, th.Depth)
			indent := strings.Repeat("  ", th.Depth+1)
			if th.FinalAction != nil {
				fmt.Fprintf(out, "%saction: %s\n", indent, th.FinalAction.ActionType.Upper())
			}
			for _, line := range strings.Split(th.Content, "\n") {
				fmt.Fprintf(out, "%s%s\n", indent, line)
			}
			for _, note := range th.PonderNotes {
				fmt.Fprintf(out, "%s? %s\n", indent, note)
			}
			if !tasksCorrelations {
				continue
			}
			corrs, err := st.Correlations(ctx, th.ID, 0)
			if err != nil {
				return err
			}
			for _, c := range corrs {
				fmt.Fprintf(out, "%s~ %s %s %s %s (%dms)\n", indent, c.ID, c.Handler, c.ActionType, c.Status, c.DurationMS)
			}
		}
		return nil
	})
}
