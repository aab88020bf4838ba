package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/agswitch/internal/guard"
	"github.com/blackwell-systems/agswitch/internal/snapshots"
	"github.com/blackwell-systems/agswitch/internal/store"
)

// DefaultExtension is the file suffix of bundle artifacts.
const DefaultExtension = ".agsx"

// Repository is the snapshot storage the orchestrator reads and fills.
type Repository interface {
	CollectAll() ([]snapshots.Entry, error)
	RestoreMany(entries []snapshots.Entry) snapshots.RestoreResult
}

// PasswordPrompt supplies one password per call, or ErrCancelled.
type PasswordPrompt interface {
	ReadPassword(ctx context.Context, prompt string) (string, error)
}

// FileDialog picks bundle locations. An empty path means no selection.
type FileDialog interface {
	SaveFile(ctx context.Context, suggestedName string) (string, error)
	OpenFile(ctx context.Context, extension string) (string, error)
}

// Recorder receives one history row per finished run.
type Recorder interface {
	InsertOperation(op *store.Operation) error
}

// ExportOutcome describes a written bundle.
type ExportOutcome struct {
	SavedPath   string
	BackupCount int
}

// Summary returns a one-line description of the export.
func (o *ExportOutcome) Summary() string {
	return fmt.Sprintf("exported %d file(s) to %s", o.BackupCount, o.SavedPath)
}

// ImportOutcome describes a restored bundle. A non-empty Failed list is a
// partial success.
type ImportOutcome struct {
	RestoredCount int
	Failed        []snapshots.Failure
}

// Partial reports whether some entries could not be restored.
func (o *ImportOutcome) Partial() bool {
	return len(o.Failed) > 0
}

// Summary returns a one-line description of the import.
func (o *ImportOutcome) Summary() string {
	if len(o.Failed) == 0 {
		return fmt.Sprintf("restored %d file(s)", o.RestoredCount)
	}
	return fmt.Sprintf("restored %d of %d files; %d failed",
		o.RestoredCount, o.RestoredCount+len(o.Failed), len(o.Failed))
}

// Orchestrator runs the export and import flows.
type Orchestrator struct {
	repo      Repository
	codec     *Codec
	prompt    PasswordPrompt
	dialog    FileDialog
	guard     *guard.Guard
	recorder  Recorder
	extension string
	log       logrus.FieldLogger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExtension sets the bundle file suffix (default ".agsx").
func WithExtension(ext string) Option {
	return func(o *Orchestrator) {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if ext != "" {
			o.extension = ext
		}
	}
}

// WithRecorder records every finished run.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// NewOrchestrator wires the exchange flows. g is shared with the switch
// coordinator so exports, imports, and switches never overlap.
func NewOrchestrator(repo Repository, codec *Codec, prompt PasswordPrompt, dialog FileDialog,
	g *guard.Guard, log logrus.FieldLogger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:      repo,
		codec:     codec,
		prompt:    prompt,
		dialog:    dialog,
		guard:     g,
		extension: DefaultExtension,
		log:       log.WithField("component", "exchange"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Extension returns the bundle file suffix.
func (o *Orchestrator) Extension() string {
	return o.extension
}

// Export writes every stored snapshot file into one encrypted bundle.
func (o *Orchestrator) Export(ctx context.Context) (*ExportOutcome, error) {
	release, err := o.guard.TryAcquire(guard.Export)
	if err != nil {
		return nil, err
	}
	defer release()

	run := o.begin("export")

	outcome, err := o.export(ctx, run.log)
	if err == nil {
		run.finish(o, "ok", outcome.Summary(), nil)
	} else {
		run.finish(o, "", "", err)
	}
	return outcome, err
}

func (o *Orchestrator) export(ctx context.Context, log logrus.FieldLogger) (*ExportOutcome, error) {
	entries, err := o.repo.CollectAll()
	if err != nil {
		return nil, fmt.Errorf("failed to collect snapshots: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNoData
	}

	text, err := ToBundle(entries, BundleVersion).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize bundle: %w", err)
	}

	password, err := o.readNewPassword(ctx)
	if err != nil {
		return nil, err
	}

	artifact, err := o.codec.Encrypt(text, password)
	if err != nil {
		return nil, err
	}

	path, err := o.dialog.SaveFile(ctx, o.suggestedName())
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, ErrCancelled
	}
	if !strings.EqualFold(filepath.Ext(path), o.extension) {
		path += o.extension
	}

	if err := writeArtifact(path, []byte(artifact)); err != nil {
		return nil, fmt.Errorf("failed to write bundle: %w", err)
	}

	log.WithFields(logrus.Fields{
		"path":    path,
		"entries": len(entries),
	}).Info("exported bundle")

	return &ExportOutcome{SavedPath: path, BackupCount: len(entries)}, nil
}

// Import restores every file of a bundle into the repository.
func (o *Orchestrator) Import(ctx context.Context) (*ImportOutcome, error) {
	release, err := o.guard.TryAcquire(guard.Import)
	if err != nil {
		return nil, err
	}
	defer release()

	run := o.begin("import")

	outcome, err := o.importBundle(ctx, run.log)
	switch {
	case err != nil:
		run.finish(o, "", "", err)
	case outcome.Partial():
		run.finish(o, "partial", outcome.Summary(), nil)
	default:
		run.finish(o, "ok", outcome.Summary(), nil)
	}
	return outcome, err
}

func (o *Orchestrator) importBundle(ctx context.Context, log logrus.FieldLogger) (*ImportOutcome, error) {
	path, err := o.dialog.OpenFile(ctx, o.extension)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, ErrCancelled
	}
	if !strings.EqualFold(filepath.Ext(path), o.extension) {
		return nil, fmt.Errorf("%w: %s is not a %s bundle", ErrInvalidSelection, filepath.Base(path), o.extension)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	password, err := o.readPassword(ctx, "Bundle password: ")
	if err != nil {
		return nil, err
	}

	text, err := o.codec.Decrypt(string(data), password)
	if err != nil {
		return nil, err
	}

	bundle, err := FromText(text)
	if err != nil {
		return nil, err
	}

	result := o.repo.RestoreMany(bundle.Entries())

	for _, f := range result.Failed {
		log.WithField("file", f.Filename).WithError(f.Err).Warn("bundle entry not restored")
	}
	log.WithFields(logrus.Fields{
		"path":     path,
		"version":  bundle.Version,
		"restored": result.RestoredCount,
		"failed":   len(result.Failed),
	}).Info("imported bundle")

	return &ImportOutcome{RestoredCount: result.RestoredCount, Failed: result.Failed}, nil
}

func (o *Orchestrator) readPassword(ctx context.Context, prompt string) (string, error) {
	pw, err := o.prompt.ReadPassword(ctx, prompt)
	if err != nil {
		return "", err
	}
	if err := ValidatePassword(pw); err != nil {
		return "", err
	}
	return pw, nil
}

func (o *Orchestrator) readNewPassword(ctx context.Context) (string, error) {
	pw, err := o.readPassword(ctx, "New bundle password: ")
	if err != nil {
		return "", err
	}
	confirm, err := o.prompt.ReadPassword(ctx, "Confirm password: ")
	if err != nil {
		return "", err
	}
	if confirm != pw {
		return "", ErrPasswordMismatch
	}
	return pw, nil
}

func (o *Orchestrator) suggestedName() string {
	return "agswitch-backup-" + o.now().Format("20060102-150405") + o.extension
}

// writeArtifact writes data next to path and renames it into place.
func writeArtifact(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".agsx-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

type opRun struct {
	id      string
	kind    string
	started time.Time
	log     logrus.FieldLogger
}

func (o *Orchestrator) begin(kind string) *opRun {
	id := uuid.NewString()
	return &opRun{
		id:      id,
		kind:    kind,
		started: o.now(),
		log:     o.log.WithFields(logrus.Fields{"op": kind, "op_id": id}),
	}
}

// finish logs the result and appends it to the history. A cancelled run is
// logged at info level.
func (r *opRun) finish(o *Orchestrator, outcome, detail string, err error) {
	if err != nil {
		detail = err.Error()
		switch {
		case errors.Is(err, ErrCancelled):
			outcome = "cancelled"
			r.log.Info("cancelled by user")
		case IsValidation(err):
			outcome = "invalid"
			r.log.WithError(err).Warn("rejected input")
		default:
			outcome = "error"
			r.log.WithError(err).Error("failed")
		}
	}

	if o.recorder == nil {
		return
	}
	rec := &store.Operation{
		ID:         r.id,
		Kind:       r.kind,
		Outcome:    outcome,
		Detail:     detail,
		StartedAt:  r.started,
		FinishedAt: o.now(),
	}
	if err := o.recorder.InsertOperation(rec); err != nil {
		r.log.WithError(err).Warn("failed to record operation")
	}
}
