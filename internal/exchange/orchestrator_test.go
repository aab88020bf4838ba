package exchange

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/agswitch/internal/guard"
	"github.com/blackwell-systems/agswitch/internal/snapshots"
	"github.com/blackwell-systems/agswitch/internal/store"
)

type stubRepo struct {
	entries      []snapshots.Entry
	collectErr   error
	collectCalls int
	restored     []snapshots.Entry
	restoreCalls int
	failNames    map[string]bool
}

func (r *stubRepo) CollectAll() ([]snapshots.Entry, error) {
	r.collectCalls++
	return r.entries, r.collectErr
}

func (r *stubRepo) RestoreMany(entries []snapshots.Entry) snapshots.RestoreResult {
	r.restoreCalls++
	var result snapshots.RestoreResult
	for _, e := range entries {
		if r.failNames[e.Filename] {
			result.Failed = append(result.Failed, snapshots.Failure{Filename: e.Filename, Err: errors.New("permission denied")})
			continue
		}
		r.restored = append(r.restored, e)
		result.RestoredCount++
	}
	return result
}

// stubPrompt returns answers in order, then ErrCancelled.
type stubPrompt struct {
	answers []string
	calls   int
}

func (p *stubPrompt) ReadPassword(ctx context.Context, prompt string) (string, error) {
	p.calls++
	if len(p.answers) == 0 {
		return "", ErrCancelled
	}
	pw := p.answers[0]
	p.answers = p.answers[1:]
	return pw, nil
}

type stubDialog struct {
	savePath  string
	openPath  string
	saveCalls int
	openCalls int
	suggested string
}

func (d *stubDialog) SaveFile(ctx context.Context, suggestedName string) (string, error) {
	d.saveCalls++
	d.suggested = suggestedName
	return d.savePath, nil
}

func (d *stubDialog) OpenFile(ctx context.Context, extension string) (string, error) {
	d.openCalls++
	return d.openPath, nil
}

type memRecorder struct {
	ops []*store.Operation
}

func (m *memRecorder) InsertOperation(op *store.Operation) error {
	m.ops = append(m.ops, op)
	return nil
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

func sampleEntries() []snapshots.Entry {
	stamp := time.UnixMilli(1710000000000)
	return []snapshots.Entry{
		{Filename: "a@example.com/state.vscdb", Content: []byte("alpha"), Timestamp: stamp},
		{Filename: "a@example.com/state.vscdb.backup", Content: []byte("alpha-backup"), Timestamp: stamp},
		{Filename: "b@example.com/state.vscdb", Content: []byte("beta"), Timestamp: stamp},
	}
}

func newTestOrchestrator(repo Repository, prompt PasswordPrompt, dialog FileDialog, g *guard.Guard, opts ...Option) *Orchestrator {
	return NewOrchestrator(repo, newTestCodec(), prompt, dialog, g, testLogger(), opts...)
}

func TestExportImportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.agsx")

	src := &stubRepo{entries: sampleEntries()}
	rec := &memRecorder{}
	exporter := newTestOrchestrator(src,
		&stubPrompt{answers: []string{"correct horse", "correct horse"}},
		&stubDialog{savePath: path}, guard.New(), WithRecorder(rec))

	out, err := exporter.Export(context.Background())
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if out.SavedPath != path || out.BackupCount != 3 {
		t.Errorf("Export() = %+v, want 3 entries at %s", out, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("bundle not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("bundle mode = %v, want 0600", info.Mode().Perm())
	}

	dst := &stubRepo{}
	importer := newTestOrchestrator(dst,
		&stubPrompt{answers: []string{"correct horse"}},
		&stubDialog{openPath: path}, guard.New(), WithRecorder(rec))

	in, err := importer.Import(context.Background())
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if in.RestoredCount != 3 || len(in.Failed) != 0 {
		t.Errorf("Import() = %+v, want 3 restored", in)
	}
	for i, e := range dst.restored {
		want := sampleEntries()[i]
		if e.Filename != want.Filename || string(e.Content) != string(want.Content) || !e.Timestamp.Equal(want.Timestamp) {
			t.Errorf("restored[%d] = %+v, want %+v", i, e, want)
		}
	}

	if len(rec.ops) != 2 || rec.ops[0].Kind != "export" || rec.ops[1].Kind != "import" {
		t.Fatalf("recorded operations = %+v, want export then import", rec.ops)
	}
	if rec.ops[1].Outcome != "ok" || rec.ops[0].ID == "" {
		t.Errorf("import record = %+v", rec.ops[1])
	}
}

func TestExportEmptyRepository(t *testing.T) {
	prompt := &stubPrompt{answers: []string{"password", "password"}}
	dialog := &stubDialog{savePath: filepath.Join(t.TempDir(), "x.agsx")}
	o := newTestOrchestrator(&stubRepo{}, prompt, dialog, guard.New())

	_, err := o.Export(context.Background())
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("Export() error = %v, want ErrNoData", err)
	}
	if prompt.calls != 0 {
		t.Errorf("password prompted %d times, want 0", prompt.calls)
	}
	if dialog.saveCalls != 0 {
		t.Errorf("save dialog opened %d times, want 0", dialog.saveCalls)
	}
}

func TestExportCollectError(t *testing.T) {
	repo := &stubRepo{collectErr: snapshots.ErrIO}
	prompt := &stubPrompt{}
	o := newTestOrchestrator(repo, prompt, &stubDialog{}, guard.New())

	if _, err := o.Export(context.Background()); !errors.Is(err, snapshots.ErrIO) {
		t.Errorf("Export() error = %v, want ErrIO", err)
	}
	if prompt.calls != 0 {
		t.Error("password prompted after collect failure")
	}
}

func TestExportPasswordPolicy(t *testing.T) {
	tests := []struct {
		name    string
		answers []string
		want    error
	}{
		{"too short", []string{"abc"}, ErrInvalidPassword},
		{"too long", []string{strings.Repeat("x", 51)}, ErrInvalidPassword},
		{"mismatch", []string{"password1", "password2"}, ErrPasswordMismatch},
		{"cancelled", nil, ErrCancelled},
		{"cancelled at confirmation", []string{"password1"}, ErrCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialog := &stubDialog{savePath: filepath.Join(t.TempDir(), "x.agsx")}
			o := newTestOrchestrator(&stubRepo{entries: sampleEntries()}, &stubPrompt{answers: tt.answers}, dialog, guard.New())

			_, err := o.Export(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Export() error = %v, want %v", err, tt.want)
			}
			if dialog.saveCalls != 0 {
				t.Error("save dialog opened after password failure")
			}
		})
	}
}

func TestExportCancelledAtSave(t *testing.T) {
	dir := t.TempDir()
	rec := &memRecorder{}
	o := newTestOrchestrator(&stubRepo{entries: sampleEntries()},
		&stubPrompt{answers: []string{"password", "password"}},
		&stubDialog{savePath: ""}, guard.New(), WithRecorder(rec))

	if _, err := o.Export(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Export() error = %v, want ErrCancelled", err)
	}

	files, _ := os.ReadDir(dir)
	if len(files) != 0 {
		t.Errorf("files written after cancel: %d", len(files))
	}
	if len(rec.ops) != 1 || rec.ops[0].Outcome != "cancelled" {
		t.Errorf("recorded = %+v, want one cancelled export", rec.ops)
	}
}

func TestExportAddsExtension(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
		want string
	}{
		{"no extension", "backup", "backup.agsx"},
		{"other extension", "accounts.txt", "accounts.txt.agsx"},
		{"dotted name", "backup.2024.06", "backup.2024.06.agsx"},
		{"bundle extension", "keep.agsx", "keep.agsx"},
		{"bundle extension upper case", "KEEP.AGSX", "KEEP.AGSX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialog := &stubDialog{savePath: filepath.Join(dir, tt.path)}
			o := newTestOrchestrator(&stubRepo{entries: sampleEntries()},
				&stubPrompt{answers: []string{"password", "password"}}, dialog, guard.New())

			out, err := o.Export(context.Background())
			if err != nil {
				t.Fatalf("Export() failed: %v", err)
			}
			if out.SavedPath != filepath.Join(dir, tt.want) {
				t.Errorf("SavedPath = %s, want %s", out.SavedPath, tt.want)
			}
			if !strings.HasSuffix(dialog.suggested, ".agsx") || !strings.HasPrefix(dialog.suggested, "agswitch-backup-") {
				t.Errorf("suggested name = %s", dialog.suggested)
			}
		})
	}
}

func TestExportedBundleIsImportable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.txt")
	exporter := newTestOrchestrator(&stubRepo{entries: sampleEntries()},
		&stubPrompt{answers: []string{"password", "password"}}, &stubDialog{savePath: path}, guard.New())

	out, err := exporter.Export(context.Background())
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	repo := &stubRepo{}
	importer := newTestOrchestrator(repo, &stubPrompt{answers: []string{"password"}},
		&stubDialog{openPath: out.SavedPath}, guard.New())
	if _, err := importer.Import(context.Background()); err != nil {
		t.Fatalf("Import(%s) failed: %v", filepath.Base(out.SavedPath), err)
	}
	if len(repo.restored) != len(sampleEntries()) {
		t.Errorf("restored %d entries, want %d", len(repo.restored), len(sampleEntries()))
	}
}

func TestExportSingleFlight(t *testing.T) {
	g := guard.New()
	release, err := g.TryAcquire(guard.Export)
	if err != nil {
		t.Fatalf("TryAcquire() failed: %v", err)
	}
	defer release()

	repo := &stubRepo{entries: sampleEntries()}
	prompt := &stubPrompt{answers: []string{"password", "password"}}
	dialog := &stubDialog{savePath: filepath.Join(t.TempDir(), "x.agsx")}
	o := newTestOrchestrator(repo, prompt, dialog, g)

	if _, err := o.Export(context.Background()); !errors.Is(err, guard.ErrBusy) {
		t.Fatalf("Export() while exporting error = %v, want ErrBusy", err)
	}
	if _, err := o.Import(context.Background()); !errors.Is(err, guard.ErrBusy) {
		t.Fatalf("Import() while exporting error = %v, want ErrBusy", err)
	}
	if repo.collectCalls != 0 || prompt.calls != 0 || dialog.saveCalls != 0 || dialog.openCalls != 0 {
		t.Errorf("busy call touched collaborators: collect=%d prompt=%d save=%d open=%d",
			repo.collectCalls, prompt.calls, dialog.saveCalls, dialog.openCalls)
	}
	if !g.IsExporting() {
		t.Error("rejected call released the holder's flag")
	}
}

func writeBundle(t *testing.T, entries []snapshots.Entry, password string) string {
	t.Helper()

	text, err := ToBundle(entries, BundleVersion).Text()
	if err != nil {
		t.Fatalf("Text() failed: %v", err)
	}
	artifact, err := newTestCodec().Encrypt(text, password)
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "in.agsx")
	if err := os.WriteFile(path, []byte(artifact), 0600); err != nil {
		t.Fatalf("failed to write bundle: %v", err)
	}
	return path
}

func TestImportPartialFailure(t *testing.T) {
	path := writeBundle(t, sampleEntries(), "password")
	repo := &stubRepo{failNames: map[string]bool{"a@example.com/state.vscdb.backup": true}}
	rec := &memRecorder{}
	o := newTestOrchestrator(repo, &stubPrompt{answers: []string{"password"}}, &stubDialog{openPath: path}, guard.New(), WithRecorder(rec))

	out, err := o.Import(context.Background())
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if out.RestoredCount != 2 || len(out.Failed) != 1 {
		t.Fatalf("Import() = %+v, want 2 restored 1 failed", out)
	}
	if out.Failed[0].Filename != "a@example.com/state.vscdb.backup" {
		t.Errorf("failed filename = %s", out.Failed[0].Filename)
	}
	if got := out.Summary(); got != "restored 2 of 3 files; 1 failed" {
		t.Errorf("Summary() = %q", got)
	}
	if rec.ops[0].Outcome != "partial" {
		t.Errorf("recorded outcome = %s, want partial", rec.ops[0].Outcome)
	}
}

func TestImportRejectsBeforeRestore(t *testing.T) {
	good := writeBundle(t, sampleEntries(), "password")

	empty := filepath.Join(t.TempDir(), "empty.agsx")
	if err := os.WriteFile(empty, []byte("  \n"), 0600); err != nil {
		t.Fatal(err)
	}

	wrongExt := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(wrongExt, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}
	tampered := []byte(string(data))
	if tampered[40] == 'A' {
		tampered[40] = 'B'
	} else {
		tampered[40] = 'A'
	}
	tamperedPath := filepath.Join(t.TempDir(), "tampered.agsx")
	if err := os.WriteFile(tamperedPath, tampered, 0600); err != nil {
		t.Fatal(err)
	}

	notBundle, err := newTestCodec().Encrypt([]byte(`{"hello":"world"}`), "password")
	if err != nil {
		t.Fatal(err)
	}
	schemaPath := filepath.Join(t.TempDir(), "schema.agsx")
	if err := os.WriteFile(schemaPath, []byte(notBundle), 0600); err != nil {
		t.Fatal(err)
	}

	var schemaErr *SchemaError
	tests := []struct {
		name     string
		path     string
		answers  []string
		check    func(error) bool
		prompted bool
	}{
		{"cancelled", "", nil, func(err error) bool { return errors.Is(err, ErrCancelled) }, false},
		{"wrong extension", wrongExt, nil, func(err error) bool { return errors.Is(err, ErrInvalidSelection) && IsValidation(err) }, false},
		{"empty file", empty, nil, func(err error) bool { return errors.Is(err, ErrEmptyFile) }, false},
		{"missing file", filepath.Join(t.TempDir(), "gone.agsx"), nil, func(err error) bool { return errors.Is(err, os.ErrNotExist) }, false},
		{"short password", good, []string{"abc"}, func(err error) bool { return errors.Is(err, ErrInvalidPassword) }, true},
		{"wrong password", good, []string{"not the password"}, func(err error) bool { return errors.Is(err, ErrDecryption) }, true},
		{"tampered", tamperedPath, []string{"password"}, func(err error) bool { return errors.Is(err, ErrDecryption) }, true},
		{"not a bundle", schemaPath, []string{"password"}, func(err error) bool { return errors.As(err, &schemaErr) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{}
			prompt := &stubPrompt{answers: tt.answers}
			o := newTestOrchestrator(repo, prompt, &stubDialog{openPath: tt.path}, guard.New())

			_, err := o.Import(context.Background())
			if !tt.check(err) {
				t.Fatalf("Import() error = %v", err)
			}
			if repo.restoreCalls != 0 {
				t.Error("RestoreMany called for a rejected bundle")
			}
			if (prompt.calls > 0) != tt.prompted {
				t.Errorf("prompt calls = %d, want prompted=%v", prompt.calls, tt.prompted)
			}
		})
	}
}

func TestWithExtension(t *testing.T) {
	o := newTestOrchestrator(&stubRepo{}, &stubPrompt{}, &stubDialog{}, guard.New(), WithExtension("bak"))
	if o.Extension() != ".bak" {
		t.Errorf("Extension() = %s, want .bak", o.Extension())
	}
}
