package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tripwire/internal/guard"
)

func newChecksCmd(flags *globalFlags) *cobra.Command {
	var direction string

	cmd := &cobra.Command{
		Use:   "checks",
		Short: "List registered guardrail checks",
		Example: `  tripwirectl checks
  tripwirectl checks --direction output -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, closeFn, err := newEngine(cmd.Context(), flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			descs := engine.Checks()
			if direction != "" {
				dir, err := guard.ParseDirection(direction)
				if err != nil {
					return err
				}
				descs = engine.Registry().ListByDirection(dir)
			}

			out := cmd.OutOrStdout()
			if flags.output != formatText {
				return printStructured(out, flags.output, descs)
			}
			rows := make([][]string, len(descs))
			for i, d := range descs {
				rows[i] = []string{
					d.ID,
					string(d.Direction),
					string(d.Category),
					formatScore(d.DefaultThreshold),
					strconv.FormatBool(d.Enabled),
					oneLine(d.Description, 60),
				}
			}
			return printTable(out, []string{"id", "direction", "category", "threshold", "enabled", "description"}, rows)
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "", "only checks valid for input or output")
	return cmd
}
