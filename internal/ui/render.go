// Package ui renders attendance lists for terminals and collects the
// session identity interactively.
package ui

import (
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/view"
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// Renderer formats snapshots for one output. Colors are dropped when the
// output is not a terminal.
type Renderer struct {
	title   lipgloss.Style
	header  lipgloss.Style
	present lipgloss.Style
	absent  lipgloss.Style
	faint   lipgloss.Style
}

// NewRenderer creates a Renderer for w.
func NewRenderer(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	if !IsTerminal(w) {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{
		title:   r.NewStyle().Bold(true),
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("245")),
		present: r.NewStyle().Foreground(lipgloss.Color("42")),
		absent:  r.NewStyle().Foreground(lipgloss.Color("203")),
		faint:   r.NewStyle().Faint(true),
	}
}

var columns = []string{"CODE", "NAME", "CATEGORY", "UPDATED BY"}

// Snapshot renders snap. A non-empty search term filters the lists; the
// counts always cover the whole branch.
func (r *Renderer) Snapshot(snap view.Snapshot, search string) string {
	var b strings.Builder
	if snap.Branch == "" {
		b.WriteString(r.faint.Render("No branch selected"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(r.title.Render(snap.Branch + " (" + snap.State.String() + ")"))
	b.WriteString("\n")
	if snap.State == view.StateLoading && len(snap.Records) == 0 {
		b.WriteString(r.faint.Render("Loading..."))
		b.WriteString("\n")
		return b.String()
	}

	c := snap.Counts()
	b.WriteString(r.present.Render("Present "+strconv.Itoa(c.Present)) + "  " +
		r.absent.Render("Absent "+strconv.Itoa(c.Absent)) + "  " +
		"Total " + strconv.Itoa(c.Total))
	b.WriteString("\n")

	records := snap.Records
	if search != "" {
		records = snap.Search(search)
	}
	present, absent := member.Split(records)
	r.section(&b, "Present", present, snap, r.present)
	r.section(&b, "Absent", absent, snap, r.absent)
	return b.String()
}

func (r *Renderer) section(b *strings.Builder, title string, records []member.Record, snap view.Snapshot, style lipgloss.Style) {
	b.WriteString("\n")
	b.WriteString(style.Render(title))
	b.WriteString("\n")
	if len(records) == 0 {
		b.WriteString("  " + r.faint.Render("none") + "\n")
		return
	}

	rows := make([][]string, len(records))
	widths := make([]int, len(columns))
	for i, h := range columns {
		widths[i] = lipgloss.Width(h)
	}
	for i, rec := range records {
		rows[i] = []string{rec.Code, rec.Name, rec.Category, updatedBy(rec)}
		for j, cell := range rows[i] {
			if w := lipgloss.Width(cell); w > widths[j] {
				widths[j] = w
			}
		}
	}

	b.WriteString("  " + r.header.Render(formatRow(columns, widths)) + "\n")
	for i, row := range rows {
		marker := "  "
		if snap.IsPending(records[i].Code) {
			marker = "* "
		}
		b.WriteString(marker + formatRow(row, widths) + "\n")
	}
}

// formatRow pads cells to widths. The last cell is not padded.
func formatRow(cells []string, widths []int) string {
	var b strings.Builder
	for i, cell := range cells {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(cell)
		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func updatedBy(rec member.Record) string {
	if rec.UpdatedBy == "" {
		return ""
	}
	if rec.UpdatedByTeam == "" {
		return rec.UpdatedBy
	}
	return rec.UpdatedBy + " (" + rec.UpdatedByTeam + ")"
}
