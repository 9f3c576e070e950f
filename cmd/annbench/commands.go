package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/23skdu/annbench/internal/config"
	bencherrors "github.com/23skdu/annbench/internal/errors"
	"github.com/23skdu/annbench/internal/evaluate"
	"github.com/23skdu/annbench/internal/logging"
	"github.com/23skdu/annbench/internal/pipeline"
)

// globalFlags override the loaded configuration when set.
type globalFlags struct {
	ConfigPath string
	BaseDir    string
	LogLevel   string
	LogFormat  string
	Mode       string
}

type app struct {
	stdout io.Writer
	stderr io.Writer
	flags  globalFlags
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "annbench",
		Short:         "Compare approximate and exact vector search on AsterixDB",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bencherrors.NewUsageError("annbench", "a command is required")
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return bencherrors.WrapUsageError(err, cmd.Name(), "invalid flags")
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.ConfigPath, "config", "", "YAML configuration file")
	pf.StringVar(&a.flags.BaseDir, "base-dir", "", "directory holding raw/, datasets/, tests/, neighbors/ and output/")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.flags.LogFormat, "log-format", "", "log format (json, console)")

	root.AddCommand(
		a.command("acquire <dataset>", "Download the raw dataset container", 1, 1, parseAcquire),
		a.command("convert <dataset>", "Convert the raw container into record streams", 1, 1, parseConvert),
		a.command("subsample <dataset> <num_records>", "Derive the first num_records training records", 2, 2, parseSubsample),
		a.command("ingest <dataset> [num_records]", "Load the training stream into AsterixDB", 1, 2, parseIngest),
		a.command("index <dataset> <num_k> [num_records]", "Create the vector index", 2, 3, parseIndex),
		a.withMode(a.command("evaluate <dataset> <num_queries> [num_records]", "Measure recall and latency of ANN search", 2, 3, a.parseEvaluate)),
		a.withMode(a.command("pipeline <dataset> (<num_k> <num_queries> [num_records] | clean)", "Run every stage, or clean a dataset", 2, 4, a.parsePipeline)),
		a.command("clean <dataset>", "Remove every artifact of a dataset", 1, 1, parseClean),
		a.command("history <dataset>", "List recorded evaluation runs", 1, 1, parseHistory),
	)
	return root
}

func (a *app) withMode(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().StringVar(&a.flags.Mode, "mode", string(evaluate.ModeExact), "recall reference: exact or groundtruth")
	return cmd
}

type parseFunc func(args []string) (pipeline.Command, error)

func (a *app) command(use, short string, minArgs, maxArgs int, parse parseFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  argsBetween(minArgs, maxArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := parse(args)
			if err != nil {
				return err
			}
			return a.dispatch(cmd, command)
		},
	}
}

func (a *app) dispatch(cmd *cobra.Command, command pipeline.Command) error {
	if err := command.Validate(); err != nil {
		return err
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Output: a.stderr})
	if err != nil {
		return bencherrors.WrapConfigurationError(err, "logging", "configure logger")
	}

	ctl, err := pipeline.New(logger, cfg, a.stdout)
	if err != nil {
		return err
	}
	return ctl.Dispatch(cmd.Context(), command)
}

func (a *app) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.flags.ConfigPath)
	if err != nil {
		return cfg, bencherrors.WrapConfigurationError(err, "config", "load configuration")
	}
	if a.flags.BaseDir != "" {
		cfg.BaseDir = a.flags.BaseDir
	}
	if a.flags.LogLevel != "" {
		cfg.LogLevel = a.flags.LogLevel
	}
	if a.flags.LogFormat != "" {
		cfg.LogFormat = a.flags.LogFormat
	}
	if err := config.ValidateConfig(&cfg); err != nil {
		return cfg, bencherrors.WrapConfigurationError(err, "config", "invalid configuration")
	}
	return cfg, nil
}

func argsBetween(minArgs, maxArgs int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < minArgs || len(args) > maxArgs {
			return bencherrors.NewUsageError(cmd.Name(),
				fmt.Sprintf("expected %d to %d arguments, got %d", minArgs, maxArgs, len(args)))
		}
		return nil
	}
}

// intArg parses the positional argument at i, or returns 0 when absent.
func intArg(op, name string, args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, bencherrors.NewUsageError(op, fmt.Sprintf("%s must be an integer, got %q", name, args[i]))
	}
	return n, nil
}

func parseAcquire(args []string) (pipeline.Command, error) {
	return pipeline.AcquireArgs{Dataset: args[0]}, nil
}

func parseConvert(args []string) (pipeline.Command, error) {
	return pipeline.ConvertArgs{Dataset: args[0]}, nil
}

func parseSubsample(args []string) (pipeline.Command, error) {
	n, err := intArg("subsample", "num_records", args, 1)
	if err != nil {
		return nil, err
	}
	return pipeline.SubsampleArgs{Dataset: args[0], Records: n}, nil
}

func parseIngest(args []string) (pipeline.Command, error) {
	n, err := intArg("ingest", "num_records", args, 1)
	if err != nil {
		return nil, err
	}
	return pipeline.IngestArgs{Dataset: args[0], Records: n}, nil
}

func parseIndex(args []string) (pipeline.Command, error) {
	k, err := intArg("index", "num_k", args, 1)
	if err != nil {
		return nil, err
	}
	n, err := intArg("index", "num_records", args, 2)
	if err != nil {
		return nil, err
	}
	return pipeline.IndexArgs{Dataset: args[0], Centroids: k, Records: n}, nil
}

func (a *app) parseEvaluate(args []string) (pipeline.Command, error) {
	q, err := intArg("evaluate", "num_queries", args, 1)
	if err != nil {
		return nil, err
	}
	n, err := intArg("evaluate", "num_records", args, 2)
	if err != nil {
		return nil, err
	}
	return pipeline.EvaluateArgs{Dataset: args[0], Queries: q, Records: n, Mode: evaluate.Mode(a.flags.Mode)}, nil
}

func (a *app) parsePipeline(args []string) (pipeline.Command, error) {
	if args[1] == "clean" {
		if len(args) != 2 {
			return nil, bencherrors.NewUsageError("pipeline", "clean takes no further arguments")
		}
		return pipeline.CleanArgs{Dataset: args[0]}, nil
	}
	if len(args) < 3 {
		return nil, bencherrors.NewUsageError("pipeline", "num_k and num_queries are required")
	}
	k, err := intArg("pipeline", "num_k", args, 1)
	if err != nil {
		return nil, err
	}
	q, err := intArg("pipeline", "num_queries", args, 2)
	if err != nil {
		return nil, err
	}
	n, err := intArg("pipeline", "num_records", args, 3)
	if err != nil {
		return nil, err
	}
	return pipeline.PipelineArgs{Dataset: args[0], Centroids: k, Queries: q, Records: n, Mode: evaluate.Mode(a.flags.Mode)}, nil
}

func parseClean(args []string) (pipeline.Command, error) {
	return pipeline.CleanArgs{Dataset: args[0]}, nil
}

func parseHistory(args []string) (pipeline.Command, error) {
	return pipeline.HistoryArgs{Dataset: args[0]}, nil
}
