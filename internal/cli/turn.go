package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/coachflow/engine"
)

type turnOptions struct {
	user      string
	thread    string
	task      string
	token     string
	showState bool
}

func (a *app) turnCommand() *cobra.Command {
	var opts turnOptions
	cmd := &cobra.Command{
		Use:   "turn [flags] <message...>",
		Short: "Process one user message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.TrimSpace(strings.Join(args, " "))
			if input == "" {
				return fmt.Errorf("message cannot be empty")
			}
			return a.runTurn(cmd, opts, input)
		},
	}
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "User id (required)")
	cmd.Flags().StringVar(&opts.thread, "thread", "", "Thread id (default: derived from user and task)")
	cmd.Flags().StringVar(&opts.task, "task", "", "Task the message refers to")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("COACHFLOW_AUTH_TOKEN"), "Auth token passed to the tool process")
	cmd.Flags().BoolVar(&opts.showState, "state", false, "Print the final turn state as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (a *app) runTurn(cmd *cobra.Command, opts turnOptions, input string) error {
	ctx := cmd.Context()
	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	final, runErr := rt.engine.ProcessRequest(ctx, opts.user, input, engine.RequestContext{
		ThreadID:  opts.thread,
		TaskID:    opts.task,
		AuthToken: opts.token,
	})

	out := cmd.OutOrStdout()
	if opts.showState {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
	} else {
		fmt.Fprintln(out, final.FinalResponse)
	}
	return runErr
}
