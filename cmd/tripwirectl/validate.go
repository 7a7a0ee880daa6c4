package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tripwire/internal/guard"
)

func newValidateCmd(flags *globalFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an agent guardrail configuration",
		Long: `Validate checks an agent's guardrail configuration against the registry.

Unknown checks, checks listed for the wrong direction, unbuildable options,
and bad thresholds are errors; disabled or duplicate checks and ignored
thresholds are warnings. Exits 1 when there are errors.`,
		Example: `  tripwirectl validate -f agent.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadAgentConfig(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			engine, closeFn, err := newEngine(cmd.Context(), flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			rep := engine.Validate(cfg)
			if err := printReport(cmd, flags.output, rep); err != nil {
				return err
			}
			if !rep.Valid {
				return &codedError{code: exitError}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `agent configuration file ("-" for stdin)`)
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func printReport(cmd *cobra.Command, format string, rep guard.Report) error {
	out := cmd.OutOrStdout()
	if format != formatText {
		return printStructured(out, format, rep)
	}
	if rep.Valid && len(rep.Warnings) == 0 {
		_, err := fmt.Fprintln(out, "✓ configuration is valid")
		return err
	}
	rows := make([][]string, 0, len(rep.Errors)+len(rep.Warnings))
	for _, e := range rep.Errors {
		rows = append(rows, []string{"error", e.Field, e.Message})
	}
	for _, w := range rep.Warnings {
		rows = append(rows, []string{"warning", w.Field, w.Message})
	}
	if err := printTable(out, []string{"level", "field", "message"}, rows); err != nil {
		return err
	}
	if rep.Valid {
		_, err := fmt.Fprintln(out, "✓ configuration is valid (with warnings)")
		return err
	}
	_, err := fmt.Fprintf(out, "✗ configuration has %d error(s)\n", len(rep.Errors))
	return err
}
