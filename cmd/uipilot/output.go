package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"uipilot/internal/engine"
	"uipilot/internal/store"

	"github.com/charmbracelet/lipgloss"
)

var (
	okColor    = lipgloss.Color("#8BC34A") // Lime Green
	failColor  = lipgloss.Color("#E5534B")
	warnColor  = lipgloss.Color("#D29922")
	mutedColor = lipgloss.Color("#6E7781")

	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(okColor).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(failColor).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(warnColor).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(12)
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStatusStyle(status engine.RunStatus) lipgloss.Style {
	switch status {
	case engine.RunCompleted:
		return okStyle
	case engine.RunTimedOut:
		return warnStyle
	default:
		return failStyle
	}
}

func stepStatusStyle(status engine.StepStatus) lipgloss.Style {
	switch status {
	case engine.StepSucceeded:
		return okStyle
	case engine.StepTimedOut:
		return warnStyle
	default:
		return failStyle
	}
}

// renderSummary renders one run for a terminal.
func renderSummary(res *engine.RunResult) string {
	var b strings.Builder

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render(res.Flow), "  ",
		runStatusStyle(res.Status).Render(res.Outcome()), "  ",
		mutedStyle.Render(res.Duration().Round(time.Millisecond).String()))
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("run " + res.RunID))
	b.WriteString("\n\n")

	for _, s := range res.Steps {
		line := fmt.Sprintf("%2d. %-24s %s  %s", s.Index, truncate(s.Name, 24),
			stepStatusStyle(s.Status).Render(string(s.Status)),
			mutedStyle.Render(fmt.Sprintf("%s, %s", plural(s.Attempts, "attempt"), s.Elapsed.Round(time.Millisecond))))
		if s.Matched != "" {
			line += mutedStyle.Render("  " + s.Matched)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if res.Artifact != "" || res.Error != "" || len(res.Diagnostics) > 0 {
		b.WriteString("\n")
	}
	if res.Artifact != "" {
		b.WriteString(labelStyle.Render("artifact") + okStyle.Render(res.Artifact) + "\n")
	}
	if res.Error != "" {
		b.WriteString(labelStyle.Render("error") + res.Error + "\n")
	}
	for _, d := range res.Diagnostics {
		path := d.ScreenshotPath
		if path == "" {
			path = d.TextPath
		}
		if path == "" {
			path = "(in memory) " + d.Label
		}
		b.WriteString(labelStyle.Render("diagnostic") + path + "\n")
	}
	return b.String()
}

// renderRuns renders history rows, newest first.
func renderRuns(runs []store.Run) string {
	if len(runs) == 0 {
		return mutedStyle.Render("no recorded runs") + "\n"
	}
	var b strings.Builder
	for _, r := range runs {
		status := string(r.Status)
		if r.Status == engine.RunFailedAtStep {
			status = fmt.Sprintf("%s(%d)", status, r.FailedStep)
		}
		line := fmt.Sprintf("%s  %-20s %s  %s", r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(r.Flow, 20), runStatusStyle(r.Status).Render(status),
			mutedStyle.Render((time.Duration(r.DurationMs) * time.Millisecond).String()))
		if r.Artifact != "" {
			line += "  " + r.Artifact
		} else if r.ErrorKind != "" {
			line += "  " + mutedStyle.Render(r.ErrorKind)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// renderStats renders per-flow success rates.
func renderStats(stats []store.FlowStats) string {
	if len(stats) == 0 {
		return mutedStyle.Render("no recorded runs") + "\n"
	}
	var b strings.Builder
	for _, s := range stats {
		rate := s.SuccessRate() * 100
		style := okStyle
		if rate < 90 {
			style = warnStyle
		}
		if rate < 50 {
			style = failStyle
		}
		fmt.Fprintf(&b, "%-24s %s  %s\n", truncate(s.Flow, 24),
			style.Render(fmt.Sprintf("%5.1f%%", rate)),
			mutedStyle.Render(fmt.Sprintf("%d runs, %d failed, %d timed out", s.Runs, s.Failed, s.TimedOut)))
	}
	return b.String()
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
