package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/wasabi/instrument"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	hookStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newBrowseCmd(a *app) *cobra.Command {
	var hooks string
	cmd := &cobra.Command{
		Use:   "browse FILE",
		Short: "Browse instrumentation sites interactively",
		Long: `Opens an interactive site browser. Type to filter by hook, operator,
import name or func:N. When stdout is not a terminal the site table is
printed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.instrumentFile(cmd, args[0], hooks)
			if err != nil {
				return err
			}
			if !isTerminal(cmd) {
				writeSitesTable(cmd.OutOrStdout(), out)
				return nil
			}
			_, err = tea.NewProgram(newBrowseModel(args[0], out), tea.WithAltScreen()).Run()
			return err
		},
	}
	hooksFlag(cmd, &hooks)
	return cmd
}

func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type browseModel struct {
	out      *instrument.Output
	filename string
	filter   textinput.Model
	detail   viewport.Model
	visible  []int
	selected int
	height   int
}

func newBrowseModel(filename string, out *instrument.Output) *browseModel {
	ti := textinput.New()
	ti.Placeholder = "filter: hook, op, import or func:N"
	ti.Focus()
	m := &browseModel{
		out:      out,
		filename: filename,
		filter:   ti,
		detail:   viewport.New(80, 8),
		height:   24,
	}
	m.applyFilter()
	return m
}

func (m *browseModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.detail.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "ctrl+k":
			if m.selected > 0 {
				m.selected--
				m.showDetail()
			}
			return m, nil
		case "down", "ctrl+j":
			if m.selected < len(m.visible)-1 {
				m.selected++
				m.showDetail()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	before := m.filter.Value()
	m.filter, cmd = m.filter.Update(msg)
	if m.filter.Value() != before {
		m.applyFilter()
	}
	return m, cmd
}

func (m *browseModel) applyFilter() {
	query := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	m.visible = m.visible[:0]
	for i, s := range m.out.Sites {
		if matchSite(s, query) {
			m.visible = append(m.visible, i)
		}
	}
	m.selected = 0
	m.showDetail()
}

// matchSite reports whether s matches query. "func:N" selects one
// function; anything else is a substring of hook, op or import.
func matchSite(s instrument.Site, query string) bool {
	if query == "" {
		return true
	}
	if fn, ok := strings.CutPrefix(query, "func:"); ok {
		return fmt.Sprint(s.Func) == fn
	}
	return strings.Contains(s.Hook.String(), query) ||
		strings.Contains(strings.ToLower(s.Op), query) ||
		strings.Contains(s.Import, query)
}

func (m *browseModel) showDetail() {
	if len(m.visible) == 0 {
		m.detail.SetContent(helpStyle.Render("no matching sites"))
		return
	}
	m.detail.SetContent(detailStyle.Render(describeSite(m.out.Sites[m.visible[m.selected]])))
	m.detail.GotoTop()
}

func describeSite(s instrument.Site) string {
	var b strings.Builder
	fmt.Fprintf(&b, "location %d: func %d, instr %s\n", s.ID, s.Func, instrLabel(s.Instr))
	fmt.Fprintf(&b, "hook %s, variant %s\n", s.Hook, s.Variant)
	fmt.Fprintf(&b, "import %s.%s\n", instrument.HookModule, s.Import)
	if s.Op != "" {
		fmt.Fprintf(&b, "op %s", s.Op)
		if s.Type != "" {
			fmt.Fprintf(&b, " (%s)", s.Type)
		}
		b.WriteByte('\n')
	}
	if s.Callee != nil {
		fmt.Fprintf(&b, "callee %d\n", *s.Callee)
	}
	if s.Table != nil {
		fmt.Fprintf(&b, "table %d\n", *s.Table)
	}
	if s.Global != nil {
		fmt.Fprintf(&b, "global %d\n", *s.Global)
	}
	if s.Memory != nil {
		fmt.Fprintf(&b, "memory %d", *s.Memory)
		if s.Offset != nil {
			fmt.Fprintf(&b, ", offset %d", *s.Offset)
		}
		if s.Align != nil {
			fmt.Fprintf(&b, ", align %d", *s.Align)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (m *browseModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("wasabi: %s (%d sites, hooks %s)", m.filename, len(m.out.Sites), m.out.Hooks)))
	b.WriteString("\n\n")
	b.WriteString(m.filter.View())
	b.WriteString("\n\n")

	rows := m.height - m.detail.Height - 8
	if rows < 3 {
		rows = 3
	}
	first := 0
	if m.selected >= rows {
		first = m.selected - rows + 1
	}
	for i := first; i < len(m.visible) && i < first+rows; i++ {
		s := m.out.Sites[m.visible[i]]
		line := fmt.Sprintf("%5d  func %-4d %-6s %s %s", s.ID, s.Func, instrLabel(s.Instr), hookStyle.Render(fmt.Sprintf("%-11s", s.Hook)), siteOp(s))
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteString("\n")
	b.WriteString(m.detail.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("up/down: select  type: filter  esc: quit"))
	return b.String()
}
