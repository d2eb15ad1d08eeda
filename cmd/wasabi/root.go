package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasabi/instrument"
	"github.com/wippyai/wasabi/internal/telemetry"
)

// app holds state shared by every subcommand.
type app struct {
	logger   *zap.Logger
	shutdown func()

	logLevel     string
	logFormat    string
	otel         bool
	otelEndpoint string
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop(), shutdown: func() {}}

	root := &cobra.Command{
		Use:   "wasabi",
		Short: "Instrument WebAssembly modules with analysis hooks",
		Long: `Wasabi rewrites a WebAssembly module so that every observed operation
calls an imported hook, and emits the glue that dispatches those hooks
to an analysis.

Examples:
  wasabi instrument app.wasm                  Instrument with every hook
  wasabi instrument --hooks call,load a.wasm  Instrument calls and loads only
  wasabi sites app.wasm                       List the instrumentation sites
  wasabi run --invoke main app.wasm           Run under wazero and count events`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(a.logLevel, a.logFormat)
			if err != nil {
				return err
			}
			a.logger = logger
			instrument.SetLogger(logger)

			shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
				Enabled:     a.otel,
				ExporterURL: a.otelEndpoint,
				ServiceName: "wasabi",
				Version:     version,
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			a.shutdown = shutdown
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.shutdown()
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "console", "Log format (console, json)")
	flags.BoolVar(&a.otel, "otel", false, "Export traces over OTLP/HTTP")
	flags.StringVar(&a.otelEndpoint, "otel-endpoint", "localhost:4318", "OTLP/HTTP collector endpoint")

	root.AddCommand(
		newInstrumentCmd(a),
		newSitesCmd(a),
		newRunCmd(a),
		newBrowseCmd(a),
	)
	return root
}

// newLogger builds a logger writing to stderr.
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// hooksFlag registers --hooks on cmd.
func hooksFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "hooks", "all", `Hooks to insert: "all", "empty" or a list like "call,load,store"`)
}

func readModule(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// baseName strips the directory and the .wasm extension.
func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".wasm")
}
