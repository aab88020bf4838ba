// Package output renders agswitch terminal output: account and history
// tables, restore failure lists, and a spinner for host transitions.
//
// Table renderers return strings and never write directly, so commands can
// route them to any writer. Color is only emitted on a TTY without NO_COLOR.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/agswitch/internal/host"
	"github.com/blackwell-systems/agswitch/internal/snapshots"
	"github.com/blackwell-systems/agswitch/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderAccountTable renders stored accounts, most recently switched first,
// marking the active one with an asterisk.
func RenderAccountTable(accounts []*store.Account, active string) string {
	if len(accounts) == 0 {
		return "No account snapshots found.\n"
	}

	sorted := make([]*store.Account, len(accounts))
	copy(sorted, accounts)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.LastSwitchedAt.Equal(b.LastSwitchedAt) {
			return a.LastSwitchedAt.After(b.LastSwitchedAt)
		}
		return a.Identifier < b.Identifier
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %-32s %-6s %-10s %-16s %s\n",
		"Account", "Files", "Size", "Created", "Last switched"))
	sb.WriteString(strings.Repeat("─", 84))
	sb.WriteString("\n")

	for _, acc := range sorted {
		marker := " "
		name := fmt.Sprintf("%-32s", truncate(acc.Identifier, 32))
		if acc.Identifier == active {
			marker = "*"
			name = colorize(colorGreen, name)
		}
		sb.WriteString(fmt.Sprintf("%s %s %-6d %-10s %-16s %s\n",
			marker,
			name,
			acc.FileCount,
			formatSize(acc.SizeBytes),
			formatRelativeTime(acc.CreatedAt),
			formatRelativeTime(acc.LastSwitchedAt)))
	}

	return sb.String()
}

// RenderFailures lists files that could not be restored.
func RenderFailures(failed []snapshots.Failure) string {
	if len(failed) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(colorize(colorYellow, fmt.Sprintf("%d file(s) could not be restored:", len(failed))))
	sb.WriteString("\n")
	for _, f := range failed {
		sb.WriteString(fmt.Sprintf("  %s: %s\n", f.Filename, f.Reason()))
	}
	return sb.String()
}

// RenderOperations renders the export, import and switch history, newest
// first as returned by the store.
func RenderOperations(ops []*store.Operation) string {
	if len(ops) == 0 {
		return "No operations recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-8s %-10s %-10s %-28s %-16s %s\n",
		"ID", "Operation", "Outcome", "Account", "When", "Detail"))
	sb.WriteString(strings.Repeat("─", 96))
	sb.WriteString("\n")

	for _, op := range ops {
		account := op.Identifier
		if account == "" {
			account = "—"
		}
		sb.WriteString(fmt.Sprintf("%-8s %-10s %s %-28s %-16s %s\n",
			truncate(op.ID, 8),
			op.Kind,
			formatOutcome(op.Outcome),
			truncate(account, 28),
			formatRelativeTime(op.StartedAt),
			truncate(op.Detail, 40)))
	}
	return sb.String()
}

// RenderProcesses lists running host processes.
func RenderProcesses(procs []host.ProcessInfo) string {
	if len(procs) == 0 {
		return "Antigravity is not running.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-8s %-20s %-16s %s\n", "PID", "Name", "Started", "Executable"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	for _, p := range procs {
		started := "—"
		if !p.Started.IsZero() {
			started = formatRelativeTime(p.Started)
		}
		exe := p.Executable
		if exe == "" {
			exe = "—"
		}
		sb.WriteString(fmt.Sprintf("%-8d %-20s %-16s %s\n",
			p.PID, truncate(p.Name, 20), started, exe))
	}
	sb.WriteString(fmt.Sprintf("\n%d process(es)\n", len(procs)))
	return sb.String()
}

// formatOutcome pads before coloring so columns stay aligned.
func formatOutcome(outcome string) string {
	padded := fmt.Sprintf("%-10s", outcome)
	switch outcome {
	case "ok":
		return colorize(colorGreen, padded)
	case "partial", "degraded":
		return colorize(colorYellow, padded)
	case "cancelled":
		return colorize(colorGray, padded)
	default:
		return colorize(colorRed, padded)
	}
}

// FormatSize renders a byte count in IEC units.
func FormatSize(bytes int64) string {
	return formatSize(bytes)
}

func formatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if time.Since(t) < time.Minute {
		return "just now"
	}
	return humanize.Time(t)
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
