package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

func mark(ok bool) string {
	if ok {
		return okStyle.Render("✓")
	}
	return errStyle.Render("✗")
}

// stateStyle colours a session state name.
func stateStyle(state string) string {
	switch state {
	case "ready":
		return okStyle.Render(state)
	case "failed", "disconnected":
		return errStyle.Render(state)
	case "idle":
		return dimStyle.Render(state)
	default:
		return warnStyle.Render(state)
	}
}

// table renders rows in aligned columns. Cell widths are measured with
// lipgloss so styled cells line up.
func table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var b strings.Builder
	line := func(cells []string, style *lipgloss.Style) {
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			if style != nil {
				cell = style.Render(cell)
			}
			pad := widths[i] - lipgloss.Width(cell)
			if i < len(cells)-1 {
				pad += 2
			} else {
				pad = 0
			}
			fmt.Fprint(&b, cell, strings.Repeat(" ", max(pad, 0)))
		}
		b.WriteByte('\n')
	}
	line(header, &headStyle)
	for _, row := range rows {
		line(row, nil)
	}
	return b.String()
}

func truncStr(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
