package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/gadget-inc/clonefs/internal/config"
	"github.com/gadget-inc/clonefs/internal/environment"
	"github.com/gadget-inc/clonefs/internal/key"
	"github.com/gadget-inc/clonefs/internal/logger"
	"github.com/gadget-inc/clonefs/internal/metrics"
	"github.com/gadget-inc/clonefs/internal/telemetry"
	"github.com/gadget-inc/clonefs/pkg/cow"
	"github.com/gadget-inc/clonefs/pkg/version"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Process exit codes.
const (
	ExitOK               = 0
	ExitInvalidArguments = 1
	ExitFailure          = 2
	ExitNotSupported     = 3
)

// ExitError carries the exit code a command wants alongside its error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func invalidArguments(err error) error {
	return &ExitError{Code: ExitInvalidArguments, Err: err}
}

var errNotSupported = errors.New("copy-on-write linking is not allowed between the source and destination")

var (
	shutdownTelemetry func()
	span              trace.Span
	collector         *metrics.Collector
	metricsFile       string
	provider          *cow.Provider
)

type configKey struct{}

func configFromContext(ctx context.Context) *config.Configuration {
	if c, ok := ctx.Value(configKey{}).(*config.Configuration); ok {
		return c
	}
	return config.NewDefault()
}

func buildLogConfig(env environment.Env, level zapcore.Level, encoding string) zap.Config {
	var config zap.Config
	if env == environment.Prod {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = zap.NewAtomicLevelAt(level)
	config.Encoding = encoding
	return config
}

func NewRootCommand() *cobra.Command {
	var (
		level      string
		encoding   string
		tracing    bool
		configPath string
	)

	cmd := &cobra.Command{
		Use:               "clonefs",
		Short:             "Copy-on-write file cloning",
		DisableAutoGenTag: true,
		SilenceErrors:     true,
		Version:           version.Version,
		Args:              noCommand,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.HasParent() {
				return nil
			}
			cmd.SilenceUsage = true // silence usage when an error occurs after flags have been parsed

			cfg, err := config.Load(configPath)
			if err != nil {
				return invalidArguments(err)
			}

			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.Log.Level = level
			}
			if flags.Changed("log-encoding") {
				cfg.Log.Encoding = encoding
			}
			if err := cfg.Validate(); err != nil {
				return invalidArguments(err)
			}

			env, err := environment.LoadEnvironment()
			if err != nil {
				return invalidArguments(err)
			}

			lvl, err := zapcore.ParseLevel(cfg.Log.Level)
			if err != nil {
				return invalidArguments(err)
			}

			err = logger.Init(buildLogConfig(env, lvl, cfg.Log.Encoding))
			if err != nil {
				return fmt.Errorf("could not initialize logger: %w", err)
			}

			ctx := cmd.Context()

			if tracing {
				shutdownTelemetry, err = telemetry.Init(ctx)
				if err != nil {
					return fmt.Errorf("could not initialize telemetry: %w", err)
				}
			}

			ctx, span = telemetry.Start(ctx, "cmd.main")

			opts := cfg.ProviderOptions()
			if metricsFile != "" {
				collector, err = metrics.NewCollector()
				if err != nil {
					return err
				}
				opts = append(opts, cow.WithMetrics(collector))
			}

			provider, err = cow.New(ctx, opts...)
			if err != nil {
				return err
			}

			logger.Debug(ctx, "starting command",
				key.Command.Field(cmd.Name()),
				key.Environment.Field(env.String()),
				key.ConfigPath.Field(configPath),
				key.Backend.Field(provider.Backend()),
			)

			ctx = cow.IntoContext(ctx, provider)
			ctx = context.WithValue(ctx, configKey{}, cfg)

			cmd.SetContext(ctx)

			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidArguments(err)
	})

	cmd.PersistentFlags().StringVar(&level, "log-level", "info", "Log level (debug | info | warn | error)")
	cmd.PersistentFlags().StringVar(&encoding, "log-encoding", "console", "Log encoding (console | json)")
	cmd.PersistentFlags().BoolVar(&tracing, "tracing", false, "Whether tracing is enabled")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write metrics to this file in the textfile collector format on exit")

	cmd.AddCommand(NewCmdClone())
	cmd.AddCommand(NewCmdSupported())
	cmd.AddCommand(NewCmdVolumes())
	cmd.AddCommand(NewCmdTree())

	return cmd
}

// noCommand rejects any positional argument to the root, which can only be a
// subcommand name cobra did not recognise.
func noCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	msg := fmt.Sprintf("unknown command %q for %q", args[0], cmd.CommandPath())
	if suggestions := cmd.SuggestionsFor(args[0]); len(suggestions) > 0 {
		msg += "\n\nDid you mean this?\n\t" + strings.Join(suggestions, "\n\t")
	}
	return invalidArguments(errors.New(msg))
}

// exactArgs is cobra.ExactArgs reporting invalid arguments.
func exactArgs(n int) cobra.PositionalArgs {
	return rangeArgs(n, n)
}

func rangeArgs(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(min, max)(cmd, args); err != nil {
			return invalidArguments(err)
		}
		return nil
	}
}

func exitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, cow.ErrUnsupported):
		return ExitNotSupported
	default:
		return ExitFailure
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	shutdownTelemetry, span, collector, metricsFile, provider = nil, nil, nil, "", nil

	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)

	if provider != nil {
		provider.Close()
	}

	if collector != nil {
		if werr := collector.WriteTextfile(metricsFile); werr != nil {
			fmt.Fprintf(stderr, "Warning: could not write metrics: %v\n", werr)
		}
	}

	if span != nil {
		span.End()
	}

	if shutdownTelemetry != nil {
		shutdownTelemetry()
	}

	_ = logger.Sync()

	code := exitCode(err)
	switch code {
	case ExitOK:
	case ExitNotSupported:
		fmt.Fprintf(stderr, "Warning: %v\n", err)
		fmt.Fprintf(stderr, "Returning exit code %d\n", code)
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return code
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
