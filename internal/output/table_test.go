package output

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/blackwell-systems/agswitch/internal/host"
	"github.com/blackwell-systems/agswitch/internal/snapshots"
	"github.com/blackwell-systems/agswitch/internal/store"
)

func TestMain(m *testing.M) {
	os.Setenv("NO_COLOR", "1")
	os.Exit(m.Run())
}

func TestRenderAccountTable(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		accounts []*store.Account
		active   string
		contains []string
	}{
		{
			name:     "empty",
			accounts: nil,
			contains: []string{"No account snapshots found"},
		},
		{
			name: "single never switched",
			accounts: []*store.Account{
				{Identifier: "alice@example.com", CreatedAt: now.Add(-5 * time.Minute), FileCount: 2, SizeBytes: 2048},
			},
			contains: []string{"alice@example.com", "2.0 KiB", "5 minutes ago", "never"},
		},
		{
			name: "active marked",
			accounts: []*store.Account{
				{Identifier: "alice@example.com", CreatedAt: now.Add(-48 * time.Hour), LastSwitchedAt: now.Add(-time.Hour), FileCount: 1},
				{Identifier: "bob@example.com", CreatedAt: now.Add(-24 * time.Hour), FileCount: 1},
			},
			active:   "bob@example.com",
			contains: []string{"* bob@example.com", "  alice@example.com", "1 hour ago"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RenderAccountTable(tt.accounts, tt.active)
			for _, expected := range tt.contains {
				if !strings.Contains(result, expected) {
					t.Errorf("RenderAccountTable() missing %q\nGot:\n%s", expected, result)
				}
			}
		})
	}
}

func TestRenderAccountTableOrder(t *testing.T) {
	now := time.Now()
	accounts := []*store.Account{
		{Identifier: "c@example.com"},
		{Identifier: "a@example.com", LastSwitchedAt: now.Add(-2 * time.Hour)},
		{Identifier: "b@example.com", LastSwitchedAt: now.Add(-time.Hour)},
	}

	result := RenderAccountTable(accounts, "")
	b := strings.Index(result, "b@example.com")
	a := strings.Index(result, "a@example.com")
	c := strings.Index(result, "c@example.com")
	if !(b < a && a < c) {
		t.Errorf("rows not ordered by last switch:\n%s", result)
	}
	if accounts[0].Identifier != "c@example.com" {
		t.Error("RenderAccountTable() reordered the caller's slice")
	}
}

func TestRenderFailures(t *testing.T) {
	if got := RenderFailures(nil); got != "" {
		t.Errorf("RenderFailures(nil) = %q, want empty", got)
	}

	got := RenderFailures([]snapshots.Failure{
		{Filename: "alice@example.com/state.vscdb", Err: errors.New("permission denied")},
	})
	for _, want := range []string{"1 file(s) could not be restored", "alice@example.com/state.vscdb", "permission denied"} {
		if !strings.Contains(got, want) {
			t.Errorf("RenderFailures() missing %q\nGot:\n%s", want, got)
		}
	}
}

func TestRenderOperations(t *testing.T) {
	if got := RenderOperations(nil); !strings.Contains(got, "No operations recorded") {
		t.Errorf("RenderOperations(nil) = %q", got)
	}

	start := time.Now().Add(-3 * time.Hour)
	got := RenderOperations([]*store.Operation{
		{ID: "0f8fad5b-d9cb-469f-a165-70867728950e", Kind: "switch", Identifier: "alice@example.com", Outcome: "ok", StartedAt: start, FinishedAt: start},
		{ID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", Kind: "export", Outcome: "cancelled", Detail: "no save location", StartedAt: start},
	})
	for _, want := range []string{"0f8fad5b", "switch", "alice@example.com", "3 hours ago", "cancelled", "no save location", "—"} {
		if !strings.Contains(got, want) {
			t.Errorf("RenderOperations() missing %q\nGot:\n%s", want, got)
		}
	}
}

func TestRenderProcesses(t *testing.T) {
	if got := RenderProcesses(nil); !strings.Contains(got, "not running") {
		t.Errorf("RenderProcesses(nil) = %q", got)
	}

	got := RenderProcesses([]host.ProcessInfo{
		{PID: 4242, Name: "Antigravity", Executable: "/opt/Antigravity/antigravity", Started: time.Now().Add(-2 * time.Hour)},
		{PID: 4243, Name: "Antigravity"},
	})
	for _, want := range []string{"4242", "4243", "/opt/Antigravity/antigravity", "2 hours ago", "—", "2 process(es)"} {
		if !strings.Contains(got, want) {
			t.Errorf("RenderProcesses() missing %q\nGot:\n%s", want, got)
		}
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{-1, "0 B"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestFormatRelativeTime(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, "never"},
		{"seconds", now.Add(-10 * time.Second), "just now"},
		{"minutes", now.Add(-5 * time.Minute), "5 minutes ago"},
		{"days", now.Add(-49 * time.Hour), "2 days ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatRelativeTime(tt.t); got != tt.want {
				t.Errorf("formatRelativeTime() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"equal to max", "hello", 5, "hello"},
		{"longer than max", "hello world", 8, "hello..."},
		{"very short max", "hello", 2, "he"},
		{"multibyte", "héllo wörld", 8, "héllo..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}
