package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasabi/instrument"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

type sitesOptions struct {
	hooks string
	json  bool
}

func newSitesCmd(a *app) *cobra.Command {
	opts := &sitesOptions{}
	cmd := &cobra.Command{
		Use:   "sites FILE",
		Short: "List the instrumentation sites of a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.instrumentFile(cmd, args[0], opts.hooks)
			if err != nil {
				return err
			}
			if opts.json {
				return writeSitesJSON(cmd.OutOrStdout(), out.Sites)
			}
			writeSitesTable(cmd.OutOrStdout(), out)
			return nil
		},
	}
	hooksFlag(cmd, &opts.hooks)
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print sites as JSON")
	return cmd
}

// instrumentFile instruments path in memory.
func (a *app) instrumentFile(cmd *cobra.Command, path, hooksSpec string) (*instrument.Output, error) {
	hooks, err := instrument.ParseHookSet(hooksSpec)
	if err != nil {
		return nil, err
	}
	data, err := readModule(path)
	if err != nil {
		return nil, err
	}
	return instrument.Instrument(cmd.Context(), data, instrument.Options{Logger: a.logger, Hooks: hooks})
}

func writeSitesJSON(w io.Writer, sites []instrument.Site) error {
	if sites == nil {
		sites = []instrument.Site{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sites)
}

func writeSitesTable(w io.Writer, out *instrument.Output) {
	if len(out.Sites) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no instrumentation sites"))
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "FUNC", "INSTR", "HOOK", "OP", "IMPORT").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, s := range out.Sites {
		t.Row(strconv.Itoa(int(s.ID)), strconv.FormatUint(uint64(s.Func), 10), instrLabel(s.Instr), s.Hook.String(), siteOp(s), s.Import)
	}
	fmt.Fprintln(w, t.String())
	fmt.Fprintf(w, "%d sites, %d hook imports, hooks: %s\n", len(out.Sites), len(out.Imports), out.Hooks)
}

func instrLabel(instr int) string {
	if instr == instrument.EntryInstr {
		return "entry"
	}
	return strconv.Itoa(instr)
}

func siteOp(s instrument.Site) string {
	if s.Op != "" {
		return s.Op
	}
	return string(s.Variant)
}
