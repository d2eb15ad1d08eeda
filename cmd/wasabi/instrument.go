package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasabi/instrument"
)

type instrumentOptions struct {
	hooks  string
	outDir string
	jobs   int
	node   bool
}

func newInstrumentCmd(a *app) *cobra.Command {
	opts := &instrumentOptions{}
	cmd := &cobra.Command{
		Use:   "instrument FILE...",
		Short: "Insert hooks and write <name>.wasm and <name>.js",
		Long: `Instruments each module independently. For every input the
instrumented binary and its JavaScript glue are written to the output
directory as <name>.wasm and <name>.js.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInstrument(cmd, opts, args)
		},
	}
	hooksFlag(cmd, &opts.hooks)
	cmd.Flags().BoolVar(&opts.node, "node", false, "Emit glue for Node.js instead of the browser")
	cmd.Flags().StringVarP(&opts.outDir, "out-dir", "o", "out", "Output directory")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", runtime.NumCPU(), "Number of files instrumented in parallel")
	return cmd
}

func (a *app) runInstrument(cmd *cobra.Command, opts *instrumentOptions, files []string) error {
	hooks, err := instrument.ParseHookSet(opts.hooks)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	seen := make(map[string]string, len(files))
	for _, f := range files {
		name := baseName(f)
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%s and %s would both write %s.wasm", prev, f, name)
		}
		seen[name] = f
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(cmd.Context())
	if opts.jobs > 0 {
		g.SetLimit(opts.jobs)
	}
	for _, f := range files {
		g.Go(func() error {
			data, err := readModule(f)
			if err != nil {
				return err
			}
			log := a.logger.With(zap.String("file", f))
			out, err := instrument.Instrument(ctx, data, instrument.Options{
				Logger: log,
				Hooks:  hooks,
				Node:   opts.node,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}

			name := baseName(f)
			wasmPath := filepath.Join(opts.outDir, name+".wasm")
			if err := os.WriteFile(wasmPath, out.Binary, 0o644); err != nil {
				return err
			}
			if out.Glue != "" {
				if err := os.WriteFile(filepath.Join(opts.outDir, name+".js"), []byte(out.Glue), 0o644); err != nil {
					return err
				}
			}
			log.Info("wrote instrumented module", zap.String("out", wasmPath), zap.Int("inserted", out.Inserted))
			mu.Lock()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: inserted %d low-level hooks -> %s\n", f, out.Inserted, wasmPath)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}
