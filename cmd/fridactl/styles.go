package main

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	id       lipgloss.Style
	selected lipgloss.Style
	result   lipgloss.Style
	err      lipgloss.Style
	help     lipgloss.Style
}

// newStyles returns colored styles for a terminal and plain ones otherwise.
func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{
			title:    plain,
			header:   plain,
			id:       plain,
			selected: plain,
			result:   plain,
			err:      plain,
			help:     plain,
		}
	}

	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB")),
		id: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98")),
		selected: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")),
		result: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90")),
		err: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")),
		help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")),
	}
}

// table writes rows in aligned columns under header. The first column uses the id style.
func (s styles) table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style func(int) lipgloss.Style) string {
		var b strings.Builder
		for i, cell := range cells {
			st := style(i)
			if i < len(cells)-1 {
				cell += strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2)
			}
			b.WriteString(st.Render(cell))
		}
		return strings.TrimRight(b.String(), " ")
	}

	io.WriteString(w, line(header, func(int) lipgloss.Style { return s.header })+"\n")
	for _, row := range rows {
		io.WriteString(w, line(row, func(i int) lipgloss.Style {
			if i == 0 {
				return s.id
			}
			return lipgloss.NewStyle()
		})+"\n")
	}
}
