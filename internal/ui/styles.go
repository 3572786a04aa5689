package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var stdout = func() *lipgloss.Renderer {
	r := lipgloss.NewRenderer(os.Stdout)
	if !IsTerminal(os.Stdout) {
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}()

var (
	passStyle   = stdout.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle   = stdout.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	failStyle   = stdout.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	accentStyle = stdout.NewStyle().Foreground(lipgloss.Color("75"))
)

// RenderPass styles s as a success marker on stdout.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles s as a warning on stdout.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles s as a failure on stdout.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent highlights s on stdout.
func RenderAccent(s string) string { return accentStyle.Render(s) }
