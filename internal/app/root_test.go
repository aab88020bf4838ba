package app

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/blackwell-systems/agswitch/internal/logging"
	"github.com/blackwell-systems/agswitch/internal/snapshots"
	"github.com/blackwell-systems/agswitch/internal/store"
)

// testEnv points agswitch at temporary directories through the
// environment so no test touches the real data directory or host.
type testEnv struct {
	dataDir string
	hostDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		dataDir: filepath.Join(root, "data"),
		hostDir: filepath.Join(root, "host"),
	}
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("AGSWITCH_HOST_DATA_DIR", env.hostDir)
	t.Setenv("AGSWITCH_HOST_PROCESS_NAMES", "agswitch-test-no-such-process")
	t.Setenv("AGSWITCH_LOG_FILE", "off")
	t.Setenv("AGSWITCH_LOG_LEVEL", "error")
	return env
}

// seed stores one snapshot per identifier, and marks active if non-empty.
func (e *testEnv) seed(t *testing.T, active string, identifiers ...string) {
	t.Helper()
	st, err := store.Open(filepath.Join(e.dataDir, "agswitch.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	defer st.Close()

	repo := snapshots.New(st, filepath.Join(e.dataDir, "accounts"), logging.Discard())
	for _, id := range identifiers {
		entries := []snapshots.Entry{
			{Filename: "state.vscdb", Content: []byte("db of " + id), Timestamp: time.Now()},
			{Filename: "state.vscdb.backup", Content: []byte("backup of " + id), Timestamp: time.Now()},
		}
		if _, err := repo.Save(id, entries); err != nil {
			t.Fatalf("Save(%s) failed: %v", id, err)
		}
	}
	if active != "" {
		if err := repo.SetActive(active); err != nil {
			t.Fatalf("SetActive(%s) failed: %v", active, err)
		}
	}
}

// loginLive writes a host state database logged in as email.
func (e *testEnv) loginLive(t *testing.T, email string) {
	t.Helper()
	if err := os.MkdirAll(e.hostDir, 0o700); err != nil {
		t.Fatal(err)
	}
	db, err := sql.Open("sqlite", filepath.Join(e.hostDir, "state.vscdb"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE ItemTable (key TEXT UNIQUE ON CONFLICT REPLACE, value BLOB)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO ItemTable (key, value) VALUES (?, ?)`,
		"antigravityAuthStatus", `{"email":"`+email+`"}`); err != nil {
		t.Fatal(err)
	}
}

// run executes agswitch with args against the test environment.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(RootCmd)

	var stdout, stderr bytes.Buffer
	RootCmd.SetIn(strings.NewReader(stdin))
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(&stderr)
	RootCmd.SetArgs(append([]string{"--data-dir", e.dataDir}, args...))

	err := RootCmd.ExecuteContext(context.Background())
	if cerr := closeRuntime(RootCmd, nil); err == nil {
		err = cerr
	}
	return stdout.String(), stderr.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestRootCommand(t *testing.T) {
	if RootCmd.Use != "agswitch" {
		t.Errorf("expected Use to be 'agswitch', got '%s'", RootCmd.Use)
	}
	if RootCmd.Short == "" {
		t.Error("expected Short description to be set")
	}
	if RootCmd.Long == "" {
		t.Error("expected Long description to be set")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	expected := []string{"list", "current", "login-new", "switch", "backup", "delete", "clear",
		"export", "import", "status", "watch", "host", "history"}

	found := make(map[string]bool)
	for _, cmd := range RootCmd.Commands() {
		found[cmd.Name()] = true
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("expected command '%s' to be registered", name)
		}
	}
}

func TestRootCommandHasPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "data-dir", "log-level", "log-format"} {
		flag := RootCmd.PersistentFlags().Lookup(name)
		if flag == nil {
			t.Errorf("expected --%s flag to be registered", name)
			continue
		}
		if flag.Usage == "" {
			t.Errorf("expected --%s flag to have usage text", name)
		}
	}
}

func TestFlagOverridesConfig(t *testing.T) {
	env := newTestEnv(t)

	if _, _, err := env.run(t, "", "list"); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.dataDir, "agswitch.db")); err != nil {
		t.Errorf("--data-dir was not used: %v", err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run(t, "", "--log-level", "loud", "list")
	if err == nil || !strings.Contains(err.Error(), "loud") {
		t.Errorf("expected invalid log level error, got %v", err)
	}
}

func TestInvalidConfigValue(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("AGSWITCH_HOST_STOP_TIMEOUT", "0s")

	_, _, err := env.run(t, "", "list")
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("expected configuration error, got %v", err)
	}
}
