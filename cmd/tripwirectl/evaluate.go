package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tripwire/internal/guard"
	"github.com/ashita-ai/tripwire/internal/model"
)

func newEvaluateCmd(flags *globalFlags) *cobra.Command {
	var (
		file      string
		direction string
		text      string
		agentID   string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate text against an agent guardrail configuration",
		Long: `Evaluate runs the checks configured for one direction over a piece of text
and prints each check's result. Without --text the text is read from stdin.
Exits 2 when the text is blocked.`,
		Example: `  tripwirectl evaluate -f agent.yaml --direction input --text "my email is jane@example.com"
  echo "Thanks for waiting!" | tripwirectl evaluate -f agent.yaml --direction output -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := guard.ParseDirection(direction)
			if err != nil {
				return err
			}
			if agentID != "" {
				if err := model.ValidateAgentID(agentID); err != nil {
					return err
				}
			}
			cfg, err := loadAgentConfig(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("text") {
				if file == "-" {
					return fmt.Errorf("--text is required when the configuration is read from stdin")
				}
				raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), model.MaxCandidateTextLen+1))
				if err != nil {
					return fmt.Errorf("read text: %w", err)
				}
				text = strings.TrimRight(string(raw), "\n")
			}
			if len(text) > model.MaxCandidateTextLen {
				return fmt.Errorf("text exceeds %d bytes", model.MaxCandidateTextLen)
			}

			engine, closeFn, err := newEngine(cmd.Context(), flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			ev, err := engine.Evaluate(cmd.Context(), dir, cfg, guard.PlainText(text), guard.EvalContext{AgentID: agentID})
			if err != nil {
				return err
			}
			if err := printEvaluation(cmd.OutOrStdout(), flags.output, ev); err != nil {
				return err
			}
			if ev.Blocked {
				return &codedError{code: exitBlocked}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", `agent configuration file ("-" for stdin)`)
	f.StringVar(&direction, "direction", "", "input or output")
	f.StringVar(&text, "text", "", "text to evaluate (default: read stdin)")
	f.StringVar(&agentID, "agent-id", "", "agent identifier recorded with each execution")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("direction")
	return cmd
}

func printEvaluation(w io.Writer, format string, ev guard.Evaluation) error {
	if format != formatText {
		return printStructured(w, format, ev)
	}
	verdict := "ALLOWED"
	if ev.Blocked {
		verdict = "BLOCKED"
	}
	if _, err := fmt.Fprintf(w, "%s (%s, %d checks)\n", verdict, ev.Direction, len(ev.Results)); err != nil {
		return err
	}
	if len(ev.Results) > 0 {
		rows := make([][]string, len(ev.Results))
		for i, r := range ev.Results {
			note := r.Reasoning
			if r.Error != "" {
				note = "error: " + r.Error
			}
			rows[i] = []string{
				r.CheckID,
				strconv.FormatBool(r.Triggered),
				formatScore(r.Confidence),
				formatScore(r.Threshold),
				oneLine(note, 70),
			}
		}
		if err := printTable(w, []string{"check", "triggered", "confidence", "threshold", "reasoning"}, rows); err != nil {
			return err
		}
	}
	for _, s := range ev.Skipped {
		if _, err := fmt.Fprintf(w, "skipped %s: %s\n", s.CheckID, s.Reason); err != nil {
			return err
		}
	}
	if ev.Blocked {
		if _, err := fmt.Fprintf(w, "message: %s\n", ev.Message); err != nil {
			return err
		}
	}
	return nil
}
