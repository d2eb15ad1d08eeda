package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasabi/analysis"
	"github.com/wippyai/wasabi/analysis/luascript"
	"github.com/wippyai/wasabi/analysis/tracedb"
	"github.com/wippyai/wasabi/host"
)

type runOptions struct {
	hooks  string
	invoke string
	db     string
	lua    string
	args   []string
	trace  bool
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Instrument a module and run it under wazero",
		Long: `Instruments the module in memory, instantiates it with WASI preview1
and calls --invoke (default _start). Every hook event is counted and a
per-kind summary is printed when the call returns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRun(cmd, opts, args[0])
		},
	}
	hooksFlag(cmd, &opts.hooks)
	cmd.Flags().StringVar(&opts.invoke, "invoke", "", "Exported function to call (default _start)")
	cmd.Flags().StringSliceVar(&opts.args, "args", nil, "Arguments for --invoke, converted to its parameter types")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "Log every event to stderr")
	cmd.Flags().StringVar(&opts.db, "db", "", "Record events in an SQLite database")
	cmd.Flags().StringVar(&opts.lua, "lua", "", "Run a Lua analysis script")
	return cmd
}

func (a *app) runRun(cmd *cobra.Command, opts *runOptions, file string) error {
	ctx := cmd.Context()
	out, err := a.instrumentFile(cmd, file, opts.hooks)
	if err != nil {
		return err
	}

	counter := analysis.NewCounter()
	graph := analysis.NewCallGraph()
	analyses := analysis.Multi{counter, analysis.Filter(graph, analysis.KindCallPre)}

	if opts.trace {
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		traceLog := zap.New(zapcore.NewCore(enc, zapcore.AddSync(cmd.ErrOrStderr()), zapcore.DebugLevel))
		analyses = append(analyses, analysis.NewTrace(traceLog, zapcore.InfoLevel))
	}

	var store *tracedb.Store
	if opts.db != "" {
		store, err = tracedb.Open(opts.db, tracedb.Options{Logger: a.logger})
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.LoadSites(ctx, out.Sites); err != nil {
			return fmt.Errorf("store sites: %w", err)
		}
		analyses = append(analyses, store)
	}

	var script *luascript.Script
	if opts.lua != "" {
		script, err = luascript.LoadFile(opts.lua, luascript.Options{Logger: a.logger})
		if err != nil {
			return err
		}
		defer script.Close()
		analyses = append(analyses, analysis.Filter(script, script.Kinds()...))
	}

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCoreFeatures(api.CoreFeaturesV2))
	defer r.Close(ctx)
	if _, err := instantiateWASI(ctx, r); err != nil {
		return fmt.Errorf("instantiate WASI: %w", err)
	}

	mc := wazero.NewModuleConfig().
		WithStdout(cmd.OutOrStdout()).
		WithStderr(cmd.ErrOrStderr()).
		WithArgs(append([]string{file}, opts.args...)...).
		WithStartFunctions()
	inst, err := host.Instantiate(ctx, r, out, host.Config{
		Analysis:     analyses,
		ModuleConfig: mc,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}
	defer inst.Close(ctx)

	results, err := invoke(ctx, inst.Module(), opts.invoke, opts.args)
	if err != nil {
		return err
	}
	if len(results) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "result: %s\n", strings.Join(results, " "))
	}

	w := cmd.OutOrStdout()
	writeSummary(w, counter)
	if edges := graph.Edges(); len(edges) > 0 {
		fmt.Fprintf(w, "call edges: %d, unresolved indirect calls: %d\n", len(edges), graph.Unresolved())
	}
	if depth, ok := inst.CallDepth(); ok && depth != 0 {
		fmt.Fprintf(w, "call depth after return: %d\n", depth)
	}
	if script != nil && script.Errors() > 0 {
		fmt.Fprintf(w, "lua errors: %d\n", script.Errors())
	}
	if store != nil {
		if err := store.Flush(ctx); err != nil {
			return fmt.Errorf("flush events: %w", err)
		}
		fmt.Fprintf(w, "events recorded in %s\n", opts.db)
	}
	return nil
}

// invoke calls name, or _start when name is empty. A WASI exit with code
// zero is a normal return.
func invoke(ctx context.Context, mod api.Module, name string, args []string) ([]string, error) {
	start := name == ""
	if start {
		name = "_start"
	}
	fn := mod.ExportedFunction(name)
	if fn == nil {
		if start {
			return nil, fmt.Errorf("module exports no _start; use --invoke")
		}
		return nil, fmt.Errorf("module exports no function %q", name)
	}

	def := fn.Definition()
	params, err := encodeArgs(def.ParamTypes(), args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	raw, err := fn.Call(ctx, params...)
	if err != nil {
		var exit *sys.ExitError
		if errors.As(err, &exit) && exit.ExitCode() == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return decodeResults(def.ResultTypes(), raw), nil
}

func encodeArgs(types []api.ValueType, args []string) ([]uint64, error) {
	if len(args) != len(types) {
		return nil, fmt.Errorf("expects %d arguments, got %d", len(types), len(args))
	}
	out := make([]uint64, len(args))
	for i, s := range args {
		switch types[i] {
		case api.ValueTypeI32:
			v, err := strconv.ParseInt(s, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out[i] = api.EncodeI32(int32(v))
		case api.ValueTypeI64:
			v, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out[i] = api.EncodeI64(v)
		case api.ValueTypeF32:
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out[i] = api.EncodeF32(float32(v))
		case api.ValueTypeF64:
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out[i] = api.EncodeF64(v)
		default:
			return nil, fmt.Errorf("argument %d: unsupported type %s", i, api.ValueTypeName(types[i]))
		}
	}
	return out, nil
}

func decodeResults(types []api.ValueType, raw []uint64) []string {
	out := make([]string, len(raw))
	for i, v := range raw {
		switch types[i] {
		case api.ValueTypeI32:
			out[i] = strconv.FormatInt(int64(api.DecodeI32(v)), 10)
		case api.ValueTypeF32:
			out[i] = strconv.FormatFloat(float64(api.DecodeF32(v)), 'g', -1, 32)
		case api.ValueTypeF64:
			out[i] = strconv.FormatFloat(api.DecodeF64(v), 'g', -1, 64)
		default:
			out[i] = strconv.FormatInt(int64(v), 10)
		}
	}
	return out
}

func writeSummary(w io.Writer, c *analysis.Counter) {
	rows := c.Summary()
	if len(rows) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no events"))
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("EVENT", "COUNT").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range rows {
		t.Row(string(r.Kind), strconv.FormatUint(r.Count, 10))
	}
	fmt.Fprintln(w, t.String())
	fmt.Fprintf(w, "total events: %d\n", c.Total())
}
