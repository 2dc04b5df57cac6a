// Package console contains the user-facing status lines of the CLI and their
// Lip Gloss styles. Diagnostics go through internal/log; this is what the
// operator reads.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	SuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	WarningColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	ErrorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	MutedColor   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}

	successStyle = lipgloss.NewStyle().Foreground(SuccessColor).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(WarningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(MutedColor)
	insertStyle  = lipgloss.NewStyle().Foreground(SuccessColor)
	deleteStyle  = lipgloss.NewStyle().Foreground(ErrorColor)
)

// Printer writes status lines to w.
type Printer struct {
	w io.Writer
}

// New returns a Printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) line(s string) {
	_, _ = fmt.Fprintln(p.w, s)
}

func (p *Printer) NothingToDelete() { p.line(successStyle.Render("✔ Nothing to delete")) }
func (p *Printer) NothingToSign()   { p.line(successStyle.Render("✔ Nothing to sign")) }
func (p *Printer) NothingToUpdate() { p.line(successStyle.Render("✔ Nothing to update")) }
func (p *Printer) Done()            { p.line(successStyle.Render("✅ Done")) }

func (p *Printer) Deleted(path string) { p.line(warningStyle.Render("🗑 " + path + " was deleted")) }

func (p *Printer) WouldDelete(path string) {
	p.line(mutedStyle.Render("🗑 " + path + " would be deleted (dry run)"))
}

func (p *Printer) Verified(name string)  { p.line(successStyle.Render("🎉 " + name + " is verified!")) }
func (p *Printer) Signed(name string)    { p.line(successStyle.Render("🎉 " + name + " signed")) }
func (p *Printer) Generated(name string) { p.line("⚙ generated " + name) }

// Exported reports the written export file.
func (p *Printer) Exported(path string, chains int) {
	p.line(successStyle.Render(fmt.Sprintf("📦 %s written (%d chains)", path, chains)))
}

// Failure prints err on its own line.
func (p *Printer) Failure(err error) {
	p.line(errorStyle.Render("✘ " + err.Error()))
}

// ChainsWritten reports an updated chains section.
func (p *Printer) ChainsWritten(path string, chains int) {
	p.line(successStyle.Render(fmt.Sprintf("✔ %d chains written to %s", chains, path)))
}

// UpToDate reports a deployment that matches the local build.
func (p *Printer) UpToDate() {
	p.line(successStyle.Render("✔ Deployment is up to date"))
}

// Diff prints a line diff, colouring removed and added lines.
func (p *Printer) Diff(diff string) {
	p.line(warningStyle.Render("⚠ Deployment differs, re-deploy required"))
	for _, l := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(l, "-"):
			p.line(deleteStyle.Render(l))
		case strings.HasPrefix(l, "+"):
			p.line(insertStyle.Render(l))
		default:
			p.line(l)
		}
	}
}
