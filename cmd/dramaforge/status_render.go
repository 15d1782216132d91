package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dramaforge/internal/workflow"
)

// tone classifies a status line for labelling and coloring.
type tone uint8

const (
	toneInfo tone = iota
	toneGood
	toneWarn
	toneBad
)

var toneStyles = [...]struct{ tag, color string }{
	toneInfo: {"INFO", "\x1b[34m"},
	toneGood: {"OK", "\x1b[32m"},
	toneWarn: {"WARN", "\x1b[33m"},
	toneBad:  {"ERROR", "\x1b[31m"},
}

const ansiReset = "\x1b[0m"

// statusPrinter writes aligned "label: [TAG] detail" lines. Color is decided
// once, when the printer is bound to its writer.
type statusPrinter struct {
	out   io.Writer
	color bool
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	return &statusPrinter{out: out, color: isTerminal(out)}
}

func (p *statusPrinter) paint(t tone, s string) string {
	if !p.color || s == "" {
		return s
	}
	return toneStyles[t].color + s + ansiReset
}

func (p *statusPrinter) section(title string) {
	heading := "== " + strings.TrimSpace(title) + " =="
	fmt.Fprintln(p.out, p.paint(toneInfo, heading))
	fmt.Fprintln(p.out, p.paint(toneInfo, strings.Repeat("-", len(heading))))
}

func (p *statusPrinter) line(label string, t tone, detail string) {
	tag := "[" + toneStyles[t].tag + "]"
	if detail != "" {
		tag += " " + detail
	}
	fmt.Fprintln(p.out, p.paint(t, fmt.Sprintf("  %-20s %s", label+":", tag)))
}

// check prints a pass/fail line.
func (p *statusPrinter) check(name string, passed bool, detail string) {
	t := toneGood
	if !passed {
		t = toneBad
	}
	p.line(name, t, detail)
}

func (p *statusPrinter) blank() { fmt.Fprintln(p.out) }

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var titleCaser = cases.Title(language.English)

// displayStatus renders a snake_case status as a title ("lip_sync" -> "Lip Sync").
func displayStatus(status string) string {
	return titleCaser.String(strings.ReplaceAll(status, "_", " "))
}

func projectTone(status workflow.Status) tone {
	switch status {
	case workflow.StatusCompleted:
		return toneGood
	case workflow.StatusFailed:
		return toneBad
	case workflow.StatusPaused, workflow.StatusIdle:
		return toneWarn
	}
	return toneInfo
}

func stageTone(status workflow.StageStatus) tone {
	switch status {
	case workflow.StageCompleted:
		return toneGood
	case workflow.StageFailed:
		return toneBad
	case workflow.StageSkipped:
		return toneWarn
	}
	return toneInfo
}
