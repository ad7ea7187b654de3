package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"actcore/internal/dispatch"
	"actcore/internal/handlers"
	"actcore/internal/store"
	"actcore/internal/types"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	dispatchTaskID       string
	dispatchThoughtID    string
	dispatchFile         string
	dispatchContent      string
	dispatchChannel      string
	dispatchAuthor       string
	dispatchWAAuthorized bool
	dispatchWAID         string
	dispatchShowMetrics  bool
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run one action against the local stores",
	Long: `Run one action against the local stores.

The action file is YAML:

  selected_action: memorize
  rationale: the user stated a preference
  action_parameters:
    node:
      id: user/alice/colour
      type: concept
      scope: local
      attributes:
        value: blue

A missing task or thought is created first. Messages and deferrals are
printed to the terminal.`,
	Args: cobra.NoArgs,
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchTaskID, "task", "", "Task id (created when missing)")
	dispatchCmd.Flags().StringVar(&dispatchThoughtID, "thought", "", "Thought id (created when missing)")
	dispatchCmd.Flags().StringVarP(&dispatchFile, "file", "f", "", "Action YAML file (- for stdin)")
	dispatchCmd.Flags().StringVar(&dispatchContent, "content", "", "Content for a newly created thought")
	dispatchCmd.Flags().StringVar(&dispatchChannel, "channel", "console", "Channel for a newly created task")
	dispatchCmd.Flags().StringVar(&dispatchAuthor, "author", "", "Author id for the dispatch context")
	dispatchCmd.Flags().BoolVar(&dispatchWAAuthorized, "wa-authorized", false, "Mark the dispatch as Wise Authority approved")
	dispatchCmd.Flags().StringVar(&dispatchWAID, "wa-id", "", "Approving Wise Authority id")
	dispatchCmd.Flags().BoolVar(&dispatchShowMetrics, "metrics", false, "Print handler metrics afterwards")
	_ = dispatchCmd.MarkFlagRequired("file")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	result, err := readAction(cmd.InOrStdin(), dispatchFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	thought, err := loadOrCreateThought(ctx, rt, result.SelectedAction)
	if err != nil {
		return err
	}

	console := newConsoleBus(cmd.OutOrStdout())
	deps := handlers.Dependencies{
		Persistence:   rt.store,
		Communication: console,
		Memory:        rt.graph,
		Tools:         localTools{now: time.Now},
		WiseAuthority: console,
		Audit:         rt.audit,
		Scheduler:     rt.scheduler,
		Filter:        rt.filter,
		Tracker:       rt.tracker,
		Metrics:       rt.metrics,
		Shutdown:      rt.shutdown,
		Config:        cfg.Handlers,
	}
	if rt.secrets != nil {
		deps.Secrets = rt.secrets
	}
	d := dispatch.NewDefault(deps)

	dc := types.DispatchContext{
		ChannelContext: &types.ChannelContext{ChannelID: dispatchChannel, ChannelType: "cli"},
		AuthorID:       dispatchAuthor,
		OriginService:  "cli",
		WAAuthorized:   dispatchWAAuthorized,
		WAID:           dispatchWAID,
	}
	followUpID, err := d.Dispatch(ctx, result, thought, dc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	updated, err := rt.store.GetThought(ctx, thought.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Thought %s: %s\n", updated.ID, updated.Status)
	if task, err := rt.store.GetTask(ctx, updated.SourceTaskID); err == nil {
		fmt.Fprintf(out, "Task %s: %s\n", task.ID, task.Status)
	}
	if followUpID != "" {
		next, err := rt.store.GetThought(ctx, followUpID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Follow-up %s (depth %d):\n%s\n", next.ID, next.Depth, next.Content)
	}
	if stats := rt.filter.Stats(); stats.TotalFilters > 0 {
		fmt.Fprintf(out, "Adaptive filters: %d active\n", stats.TotalFilters)
	}
	if pending := rt.scheduler.List(); len(pending) > 0 {
		for _, st := range pending {
			fmt.Fprintf(out, "Scheduled %s: task %s at %s (%s)\n", st.ID, st.TaskID, st.DeferUntil, st.Status)
		}
	}
	if dispatchShowMetrics {
		return printMetrics(out, rt.registry)
	}
	return nil
}

func readAction(stdin io.Reader, path string) (*types.ActionResult, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read action: %w", err)
	}

	var result types.ActionResult
	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse action: %w", err)
	}
	action, err := types.ParseActionType(string(result.SelectedAction))
	if err != nil {
		return nil, err
	}
	result.SelectedAction = action
	return &result, nil
}

// loadOrCreateThought returns the --thought thought, creating it (and its
// task) when it does not exist yet. New content is passed through the
// secrets filter before it is stored.
func loadOrCreateThought(ctx context.Context, rt *runtime, action types.ActionType) (*types.Thought, error) {
	if dispatchThoughtID != "" {
		thought, err := rt.store.GetThought(ctx, dispatchThoughtID)
		if err == nil {
			return thought, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	taskID := dispatchTaskID
	if taskID == "" {
		taskID = "task_" + uuid.New().String()
	}
	if _, err := rt.store.GetTask(ctx, taskID); errors.Is(err, store.ErrNotFound) {
		task := &types.Task{
			ID:          taskID,
			ChannelID:   dispatchChannel,
			Description: fmt.Sprintf("CLI dispatch of %s", action.Upper()),
			Status:      types.TaskStatusActive,
			Context: &types.TaskContext{
				ChannelContext: &types.ChannelContext{ChannelID: dispatchChannel, ChannelType: "cli"},
				AuthorID:       dispatchAuthor,
			},
		}
		if err := rt.store.AddTask(ctx, task); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	content := dispatchContent
	if content == "" {
		content = fmt.Sprintf("Operator requested %s", action.Upper())
	}
	if rt.secrets != nil {
		filtered, found, err := rt.secrets.ProcessIncomingText(ctx, content, "cli")
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			fmt.Fprintf(os.Stderr, "Stored %d secret(s) found in thought content\n", len(found))
		}
		content = filtered
	}

	thoughtID := dispatchThoughtID
	if thoughtID == "" {
		thoughtID = "th_" + uuid.New().String()
	}
	thought := &types.Thought{
		ID:           thoughtID,
		SourceTaskID: taskID,
		ChannelID:    dispatchChannel,
		ThoughtType:  types.ThoughtTypeStandard,
		Status:       types.ThoughtStatusProcessing,
		Content:      content,
		Context:      &types.ThoughtContext{ChannelID: dispatchChannel, AuthorID: dispatchAuthor},
	}
	if err := rt.store.AddThought(ctx, thought); err != nil {
		return nil, err
	}
	return thought, nil
}

// printMetrics writes every counter and histogram sample in reg.
func printMetrics(out io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf("%s=%q ", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), trimSpace(labels), m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				lines = append(lines, fmt.Sprintf("%s_count{%s} %d", mf.GetName(), trimSpace(labels), m.GetHistogram().GetSampleCount()))
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	return nil
}

func trimSpace(s string) string {
	if len(s) > 0 && s[len(s)-1] == ' ' {
		return s[:len(s)-1]
	}
	return s
}
