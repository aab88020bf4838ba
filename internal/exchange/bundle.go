package exchange

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"time"

	"golang.org/x/mod/semver"

	"github.com/blackwell-systems/agswitch/internal/snapshots"
)

// BundleVersion is written into every exported bundle. Bundles with a
// higher major version are rejected on import.
const BundleVersion = "1.1.0"

// Bundle is the plaintext exchange payload: every snapshot file, flattened.
type Bundle struct {
	Version     string        `json:"version"`
	BackupCount int           `json:"backupCount"`
	Backups     []BundleEntry `json:"backups"`
}

// BundleEntry is one snapshot file. Content is base64 in JSON and
// Timestamp is unix milliseconds.
type BundleEntry struct {
	Filename  string `json:"filename"`
	Content   []byte `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ToBundle flattens entries into a Bundle tagged with version.
func ToBundle(entries []snapshots.Entry, version string) *Bundle {
	b := &Bundle{
		Version:     version,
		BackupCount: len(entries),
		Backups:     make([]BundleEntry, 0, len(entries)),
	}
	for _, e := range entries {
		var ts int64
		if !e.Timestamp.IsZero() {
			ts = e.Timestamp.UnixMilli()
		}
		b.Backups = append(b.Backups, BundleEntry{
			Filename:  e.Filename,
			Content:   e.Content,
			Timestamp: ts,
		})
	}
	return b
}

// Text serializes the bundle.
func (b *Bundle) Text() ([]byte, error) {
	return json.Marshal(b)
}

// Entries converts the bundle back into repository entries.
func (b *Bundle) Entries() []snapshots.Entry {
	entries := make([]snapshots.Entry, 0, len(b.Backups))
	for _, be := range b.Backups {
		var ts time.Time
		if be.Timestamp > 0 {
			ts = time.UnixMilli(be.Timestamp)
		}
		entries = append(entries, snapshots.Entry{
			Filename:  be.Filename,
			Content:   be.Content,
			Timestamp: ts,
		})
	}
	return entries
}

// FromText parses and validates bundle text. Every structural problem is
// reported as a *SchemaError.
func FromText(text []byte) (*Bundle, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(text, &fields); err != nil || fields == nil {
		return nil, schemaErrorf("not a JSON object")
	}

	b := &Bundle{}

	rawVersion, ok := fields["version"]
	if !ok || isNull(rawVersion) {
		return nil, schemaErrorf("missing version")
	}
	if err := json.Unmarshal(rawVersion, &b.Version); err != nil {
		return nil, schemaErrorf("version is not a string")
	}
	if err := checkVersion(b.Version); err != nil {
		return nil, err
	}

	rawBackups, ok := fields["backups"]
	if !ok || isNull(rawBackups) {
		return nil, schemaErrorf("missing backups")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawBackups, &items); err != nil {
		return nil, schemaErrorf("backups is not an array")
	}

	rawCount, ok := fields["backupCount"]
	if !ok || isNull(rawCount) {
		return nil, schemaErrorf("missing backupCount")
	}
	if err := json.Unmarshal(rawCount, &b.BackupCount); err != nil {
		return nil, schemaErrorf("backupCount is not an integer")
	}
	if b.BackupCount != len(items) {
		return nil, schemaErrorf("backupCount %d does not match %d backups", b.BackupCount, len(items))
	}

	b.Backups = make([]BundleEntry, 0, len(items))
	for i, item := range items {
		entry, err := parseEntry(i, item)
		if err != nil {
			return nil, err
		}
		b.Backups = append(b.Backups, entry)
	}

	return b, nil
}

func checkVersion(version string) error {
	v := "v" + version
	if !semver.IsValid(v) {
		return schemaErrorf("version %q is not a semantic version", version)
	}
	if semver.Compare(semver.Major(v), semver.Major("v"+BundleVersion)) > 0 {
		return schemaErrorf("version %s is newer than supported %s", version, BundleVersion)
	}
	return nil
}

func parseEntry(i int, item json.RawMessage) (BundleEntry, error) {
	var entry BundleEntry

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return entry, schemaErrorf("backups[%d] is not an object", i)
	}

	rawName, ok := fields["filename"]
	if !ok || isNull(rawName) {
		return entry, schemaErrorf("backups[%d] has no filename", i)
	}
	if err := json.Unmarshal(rawName, &entry.Filename); err != nil || entry.Filename == "" {
		return entry, schemaErrorf("backups[%d] filename is not a non-empty string", i)
	}

	if rawContent, ok := fields["content"]; ok && !isNull(rawContent) {
		entry.Content = decodeContent(rawContent)
	}

	if rawTS, ok := fields["timestamp"]; ok && !isNull(rawTS) {
		var ts float64
		if err := json.Unmarshal(rawTS, &ts); err != nil || math.IsNaN(ts) || ts < 0 || ts > math.MaxInt64 {
			return entry, schemaErrorf("backups[%d] timestamp is not a valid number", i)
		}
		entry.Timestamp = int64(ts)
	}

	return entry, nil
}

// decodeContent accepts base64 strings, plain text strings written by older
// tools, and arbitrary JSON values, which are kept as their raw JSON bytes.
func decodeContent(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return append([]byte(nil), bytes.TrimSpace(raw)...)
	}
	if decoded, err := base64.StdEncoding.Strict().DecodeString(s); err == nil {
		return decoded
	}
	return []byte(s)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
