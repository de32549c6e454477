package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/coachflow/engine"
	observestore "github.com/PipeOpsHQ/coachflow/observe/store"
	eventsqlite "github.com/PipeOpsHQ/coachflow/observe/store/sqlite"
)

func (a *app) historyCommand() *cobra.Command {
	var (
		user   string
		thread string
		task   string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the checkpoints of a thread, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if thread == "" {
				if user == "" {
					return fmt.Errorf("--thread or --user is required")
				}
				thread = engine.ThreadID(user, task)
			}
			ctx := cmd.Context()
			rt, err := a.build(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			turns, err := rt.engine.History(ctx, thread, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(turns) == 0 {
				fmt.Fprintf(out, "no checkpoints for %s\n", thread)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tSTAGE\tWRITTEN\tMESSAGES\tRESPONSE")
			for _, t := range turns {
				stage := t.Stage
				if stage == "" {
					stage = "(done)"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\t%s\n",
					t.Seq, stage, t.WrittenAt.Format(time.RFC3339),
					len(t.State.VisibleMessages()), len(t.State.MessageHistory),
					truncate(t.State.FinalResponse, 60))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if user != "" {
				summary, err := rt.engine.Summary(ctx, user, thread)
				if err != nil {
					return err
				}
				if summary != "" {
					fmt.Fprintf(out, "\nsummary: %s\n", summary)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id")
	cmd.Flags().StringVar(&thread, "thread", "", "Thread id (default: derived from user and task)")
	cmd.Flags().StringVar(&task, "task", "", "Task id used to derive the thread")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum checkpoints to show")
	return cmd
}

func (a *app) toolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools advertised by the tool process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.Tools.Enabled() {
				return errToolsDisabled
			}
			ctx := cmd.Context()
			rt, err := a.build(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			tools, err := rt.tools.ListTools(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, t := range tools {
				fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Description)
			}
			return w.Flush()
		},
	}
}

func (a *app) outboxCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Show the most recent action batches published to the outbox",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.build(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.outbox == nil {
				return fmt.Errorf("actions.mode %q does not publish to the outbox", a.cfg.Actions.Mode)
			}

			records, err := rt.outbox.Recent(ctx, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPUBLISHED\tTHREAD\tACTIONS")
			for _, r := range records {
				kinds := make([]string, 0, len(r.Batch.Items))
				for _, item := range r.Batch.Items {
					kinds = append(kinds, string(item.Kind))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.PublishedAt.Format(time.RFC3339), r.Batch.ThreadID, strings.Join(kinds, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum batches to show")
	return cmd
}

func (a *app) eventsCommand() *cobra.Command {
	var (
		user    string
		thread  string
		task    string
		limit   int
		metrics bool
		since   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recorded turn events for a thread, or totals with --metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := strings.TrimSpace(a.cfg.Events.Path)
			if path == "" {
				return fmt.Errorf("event recording is disabled (events.path is empty)")
			}
			store, err := eventsqlite.New(path)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if metrics {
				var q observestore.MetricsQuery
				if since > 0 {
					from := time.Now().Add(-since)
					q.Since = &from
				}
				m, err := store.AggregateMetrics(ctx, q)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "turns started\t%d\n", m.TurnsStarted)
				fmt.Fprintf(w, "turns completed\t%d\n", m.TurnsCompleted)
				fmt.Fprintf(w, "turns failed\t%d\n", m.TurnsFailed)
				fmt.Fprintf(w, "stages failed\t%d\n", m.StagesFailed)
				fmt.Fprintf(w, "fallbacks\t%d\n", m.Fallbacks)
				fmt.Fprintf(w, "checkpoints\t%d\n", m.Checkpoints)
				return w.Flush()
			}

			if thread == "" {
				if user == "" {
					return fmt.Errorf("--thread or --user is required")
				}
				thread = engine.ThreadID(user, task)
			}
			events, err := store.ListEventsByThread(ctx, thread, observestore.ListQuery{Limit: limit})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tSTATUS\tSTAGE\tDURATION\tERROR")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
					e.Timestamp.Format(time.RFC3339), e.Kind, e.Status, e.Stage, e.DurationMs, truncate(e.Error, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id")
	cmd.Flags().StringVar(&thread, "thread", "", "Thread id (default: derived from user and task)")
	cmd.Flags().StringVar(&task, "task", "", "Task id used to derive the thread")
	cmd.Flags().IntVarP(&limit, "limit", "n", 200, "Maximum events to show")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "Print totals across all threads")
	cmd.Flags().DurationVar(&since, "since", 0, "With --metrics, only count events this recent")
	return cmd
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
