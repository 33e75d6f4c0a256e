package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

// theme keeps all CLI colors in one place.
type theme struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Dim    lipgloss.Style
	OK     lipgloss.Style
	Error  lipgloss.Style
	Warn   lipgloss.Style
	Kinds  map[fable.Kind]lipgloss.Style
}

func newTheme() theme {
	return theme{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")),
		Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		OK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Error:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Kinds: map[fable.Kind]lipgloss.Style{
			fable.KindSource:    lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379")),
			fable.KindTransform: lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
			fable.KindProduct:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
			fable.KindSink:      lipgloss.NewStyle().Foreground(lipgloss.Color("#C678DD")),
		},
	}
}

// kind renders s in the color of k.
func (t theme) kind(k fable.Kind, s string) string {
	if style, ok := t.Kinds[k]; ok {
		return style.Render(s)
	}
	return s
}

var styles = newTheme()
