package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/tripwire/internal/cache"
	"github.com/ashita-ai/tripwire/internal/classifier"
	"github.com/ashita-ai/tripwire/internal/config"
	"github.com/ashita-ai/tripwire/internal/guard"
	"github.com/ashita-ai/tripwire/internal/guard/checks"
	"github.com/ashita-ai/tripwire/internal/model"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	classifier string
	checksFile string
	output     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "tripwirectl",
		Short: "Inspect and exercise tripwire guardrail checks",
		Long: `tripwirectl runs the tripwire guardrail pipeline in-process.

Use it to list the available checks, validate an agent's guardrail
configuration before deploying it, and evaluate sample text against it.
Classifier and checks-file settings are read from the same environment
variables as the server; flags override them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch flags.output {
			case formatText, formatJSON, formatYAML:
				return nil
			default:
				return fmt.Errorf("--output must be one of text, json, yaml, got %q", flags.output)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.classifier, "classifier", "", "classifier provider: auto, ollama, openai, or lexicon (default from TRIPWIRE_CLASSIFIER_PROVIDER)")
	pf.StringVar(&flags.checksFile, "checks-file", "", "YAML file of custom instruction checks (default from TRIPWIRE_CHECKS_FILE)")
	pf.StringVarP(&flags.output, "output", "o", formatText, "output format: text, json, or yaml")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log classifier selection and check executions to stderr")

	root.AddCommand(
		newChecksCmd(flags),
		newValidateCmd(flags),
		newEvaluateCmd(flags),
	)
	return root
}

// newEngine builds an in-process engine from the environment and flags.
func newEngine(ctx context.Context, flags *globalFlags, stderr io.Writer) (*guard.Engine, func(), error) {
	level := slog.LevelError
	if flags.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if flags.classifier != "" {
		cfg.ClassifierProvider = strings.ToLower(flags.classifier)
	}
	if flags.checksFile != "" {
		cfg.ChecksFile = flags.checksFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	cls, _ := classifier.Select(ctx, cfg.ClassifierSettings(), logger)
	resultCache := cache.New(cache.Options{MaxEntries: cfg.CacheMaxEntries})
	reg := guard.NewRegistry(logger,
		guard.WithStrictDirections(cfg.StrictRegistry),
		guard.WithServices(guard.Services{Cache: resultCache}),
	)
	if err := checks.RegisterBuiltins(reg, cls); err != nil {
		resultCache.Close()
		return nil, nil, err
	}
	if cfg.ChecksFile != "" {
		defs, err := config.LoadChecksFile(cfg.ChecksFile)
		if err != nil {
			resultCache.Close()
			return nil, nil, err
		}
		for _, def := range defs {
			if err := checks.RegisterCustom(reg, cls, def); err != nil {
				resultCache.Close()
				return nil, nil, err
			}
		}
	}
	return guard.NewEngine(reg, logger, cfg.MaxConcurrentChecks), resultCache.Close, nil
}

// loadAgentConfig reads an agent guardrail configuration from a YAML (or
// JSON) file. "-" reads stdin.
func loadAgentConfig(path string, stdin io.Reader) (model.AgentGuardrailConfig, error) {
	var cfg model.AgentGuardrailConfig
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return cfg, fmt.Errorf("open agent config: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse agent config %s: %w", path, err)
	}
	return cfg, nil
}
