package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fxnatic/jsdeob/config"
	"github.com/fxnatic/jsdeob/deobfuscator"
	"github.com/fxnatic/jsdeob/fallback"
	"github.com/fxnatic/jsdeob/fetch"
	"github.com/fxnatic/jsdeob/fold"
	"github.com/fxnatic/jsdeob/rules"
)

var version = "dev"

var (
	configPath  string
	timeout     time.Duration
	failFast    bool
	noNormalize bool
	reportPath  string
	verbose     bool
	quiet       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jsdeob <input> [output]",
		Short: "Deobfuscate a string-table obfuscated script",
		Long: `jsdeob recovers readable JavaScript from scripts protected by a string
table, an offset decrypt chain and an operator map.

The input may be a file path or an http(s) URL.

Examples:
  jsdeob bundle.js
  jsdeob bundle.js clean.js --report stats.json
  jsdeob https://example.com/static/app.js --fail-fast`,
		Version:       version,
		Args:          cobra.RangeArgs(1, 2),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runDeobfuscate,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to a YAML config file (default: .jsdeob.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&quiet, "quiet", "q", false, "only log errors and skip the summary")

	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "sandbox timeout per evaluation (overrides config)")
	rootCmd.Flags().BoolVar(&failFast, "fail-fast", false, "abort on the first call site that fails to evaluate")
	rootCmd.Flags().BoolVar(&noNormalize, "no-normalize", false, "skip the accessor and literal cleanup passes")
	rootCmd.Flags().StringVar(&reportPath, "report", "", "write run statistics as JSON to this file")

	rootCmd.AddCommand(newFallbackCmd(), newRulesCmd(), newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// ExitError carries an exit code out of a command.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

func loadConfig() (*config.Config, zerolog.Logger, error) {
	if quiet && verbose {
		return nil, zerolog.Nop(), fmt.Errorf("--quiet and --verbose are mutually exclusive")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, newLogger(cfg.Log.Level), nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	switch {
	case verbose:
		lvl = zerolog.DebugLevel
	case quiet:
		lvl = zerolog.ErrorLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// readInput loads a local file or fetches a URL.
func readInput(ctx context.Context, input string, cfg *config.Config, log zerolog.Logger) (string, error) {
	if !fetch.IsURL(input) {
		data, err := os.ReadFile(input)
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return string(data), nil
	}

	f, err := fetch.New(cfg.Fetch.TimeoutSeconds)
	if err != nil {
		return "", err
	}
	log.Info().Str("url", input).Msg("fetching script")
	src, err := f.Script(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to fetch input: %w", err)
	}
	return src, nil
}

func runDeobfuscate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	input := args[0]
	output := deobfuscator.OutputPath(input, cfg.Output.Suffix)
	if len(args) == 2 {
		output = args[1]
	}

	src, err := readInput(ctx, input, cfg, log)
	if err != nil {
		return err
	}

	sandboxTimeout := cfg.Sandbox.Timeout
	if timeout > 0 {
		sandboxTimeout = timeout
	}
	policy := cfg.FoldPolicy()
	if failFast {
		policy = fold.FailFast
	}
	normalize := deobfuscator.NormalizeOptions{
		BracketToDot:    cfg.Normalize.BracketToDot,
		ValueOrDefault:  cfg.Normalize.ValueOrDefault,
		Simplify:        cfg.Normalize.Simplify,
		InlineConstants: cfg.Normalize.InlineConstants,
	}
	if noNormalize {
		normalize = deobfuscator.NormalizeOptions{}
	}

	res, err := deobfuscator.Deobfuscate(ctx, src,
		deobfuscator.WithLogger(log),
		deobfuscator.WithSandboxTimeout(sandboxTimeout),
		deobfuscator.WithMaxCallStack(cfg.Sandbox.MaxCallStack),
		deobfuscator.WithFoldPolicy(policy),
		deobfuscator.WithNormalize(normalize),
	)
	if err != nil {
		// already logged by the pipeline
		return &ExitError{Code: 1}
	}

	if err := deobfuscator.WriteOutput(output, res.Code); err != nil {
		log.Error().Err(err).Msg("could not write output")
		return &ExitError{Code: 1}
	}
	log.Info().Str("output", output).Msg("wrote deobfuscated script")

	if reportPath != "" {
		if err := writeReport(reportPath, input, output, res.Stats); err != nil {
			return err
		}
	}
	if !quiet {
		fmt.Fprintln(os.Stderr, renderSummary(input, output, res.Stats))
	}
	return nil
}

func newFallbackCmd() *cobra.Command {
	var offset int
	cmd := &cobra.Command{
		Use:   "fallback <input>",
		Short: "Run the regex-only deobfuscation path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			input := args[0]
			src, err := readInput(cmd.Context(), input, cfg, log)
			if err != nil {
				return err
			}

			opts := fallback.DefaultOptions()
			opts.BaseOffset = cfg.Fallback.BaseOffset
			if cmd.Flags().Changed("base-offset") {
				opts.BaseOffset = offset
			}
			opts.Policy = cfg.FoldPolicy()
			opts.Log = log

			res, err := fallback.Run(src, opts)
			if err != nil {
				log.Error().Err(err).Msg("fallback failed")
				return &ExitError{Code: 1}
			}
			output := deobfuscator.OutputPath(input, cfg.Output.Suffix)
			if err := deobfuscator.WriteOutput(output, res.Code); err != nil {
				log.Error().Err(err).Msg("could not write output")
				return &ExitError{Code: 1}
			}
			log.Info().
				Str("output", output).
				Int("decrypted", res.Stats.Decrypted).
				Int("failed", res.Stats.Failed).
				Msg("wrote fallback output")
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "base-offset", fallback.DefaultBaseOffset, "index offset subtracted by the decrypt dispatcher")
	return cmd
}

func newRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules <input>",
		Short: "Print the signing rules embedded in a deobfuscated script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			src, err := readInput(cmd.Context(), args[0], cfg, log)
			if err != nil {
				return err
			}
			r, err := rules.ExtractSource(src, log)
			if err != nil {
				return fmt.Errorf("failed to parse input: %w", err)
			}
			out, err := r.MarshalJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !r.Complete() {
				return &ExitError{Code: 1, Message: "some rules were not found"}
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.FileName + ".yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return &ExitError{Code: 1, Message: fmt.Sprintf("%s already exists", path)}
			}
			if err := config.Save(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	})
	return cmd
}
