// Package tui renders the final install/uninstall report as a short
// Bubble Tea program instead of a bare fmt.Println, for interactive
// terminal sessions. Grounded on the teacher's internal/ui/model.go
// Bubble Tea Apply TUI and internal/ui/applystyle.go's lipgloss styling,
// narrowed from a live per-resource progress view (spec.md §1 keeps the
// actual wizard pages, of which a live per-component view would be one,
// as an external collaborator) down to the one piece that is pure CLI
// ambient UX: a styled summary screen shown once the headless run
// already finished.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	listItemStyle = lipgloss.NewStyle().PaddingLeft(2)
)

// Summary is the subset of runtime.Report the TUI needs to render,
// duplicated here rather than importing internal/runtime so this display
// layer stays a pure leaf with no dependency back into the engine.
type Summary struct {
	Title           string
	Items           []string
	RestartRequired bool
}

type reportModel struct {
	summary Summary
}

func (m reportModel) Init() tea.Cmd { return tea.Quit }

func (m reportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(tea.KeyMsg); ok {
		return m, tea.Quit
	}
	return m, nil
}

func (m reportModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.summary.Title))
	b.WriteString("\n")
	for _, item := range m.summary.Items {
		b.WriteString(listItemStyle.Render(okStyle.Render("✓ ") + item))
		b.WriteString("\n")
	}
	if m.summary.RestartRequired {
		b.WriteString(warnStyle.Render("a restart is required to finish updating essential components"))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderReport runs a single-frame Bubble Tea program that prints summary
// and exits immediately; used by the CLI when stdout is a terminal
// (isatty, same check internal/progress.Renderer makes), falling back to
// plain fmt.Println otherwise.
func RenderReport(summary Summary) error {
	p := tea.NewProgram(reportModel{summary: summary}, tea.WithoutSignalHandler())
	_, err := p.Run()
	return err
}

// PlainReport is the non-interactive fallback, used when stdout is not a
// terminal (piped output, CI logs).
func PlainReport(summary Summary) {
	fmt.Println(summary.Title)
	for _, item := range summary.Items {
		fmt.Println("  -", item)
	}
	if summary.RestartRequired {
		fmt.Println("a restart is required to finish updating essential components")
	}
}
