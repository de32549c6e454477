package cli

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/coachflow/prompt"
)

func (a *app) promptsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "List the stage prompts, including overrides from prompts.dir",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadPrompts(); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tTEMPERATURE\tSOURCE\tDESCRIPTION")
			for _, spec := range prompt.List() {
				temp := "-"
				if spec.Temperature != nil {
					temp = fmt.Sprintf("%.2g", *spec.Temperature)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", spec.Name, spec.Version, temp, spec.Source, spec.Description)
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <name[@version]>",
		Short: "Print one prompt and any warnings about it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadPrompts(); err != nil {
				return err
			}
			spec, err := prompt.Get(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s@%s\n\n%s\n", spec.Name, spec.Version, spec.System)
			if spec.User != "" {
				fmt.Fprintf(out, "\n## user\n\n%s\n", spec.User)
			}
			for _, warning := range validatePrompt(spec) {
				fmt.Fprintf(out, "warning: %s\n", warning)
			}
			return nil
		},
	})
	return cmd
}

func (a *app) loadPrompts() error {
	if _, err := prompt.LoadDir(a.cfg.Prompts.Dir); err != nil {
		return fmt.Errorf("failed to load prompt overrides: %w", err)
	}
	return nil
}

// validatePrompt flags overrides that are unlikely to drive a stage well.
func validatePrompt(spec prompt.Spec) []string {
	var warnings []string
	system := strings.TrimSpace(spec.System)
	if len(system) < 10 {
		warnings = append(warnings, "system prompt is very short and may not provide enough guidance")
	}
	if len(system) > 6000 {
		warnings = append(warnings, "system prompt is very long and may hurt latency")
	}
	if spec.User != "" {
		tmpl, err := prompt.Parse(spec.User)
		if err != nil {
			warnings = append(warnings, err.Error())
		} else if !slices.Contains(tmpl.Vars(), "input") {
			warnings = append(warnings, "user template never uses {{input}}, so the user's message is not sent")
		}
	}
	return warnings
}
