package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/beekhof/shift-sync/internal/atomicfile"
)

// SchemaVersion is the ledger file layout written by this build.
const SchemaVersion = 1

// ErrUnsupportedSchema is returned when the ledger file was written by a
// newer build than this one.
var ErrUnsupportedSchema = errors.New("unsupported ledger schema version")

// ErrReadOnly is returned by Save on a ledger opened with OpenReadOnly.
var ErrReadOnly = errors.New("ledger is read-only")

// Record links a shift to the calendar event created for it.
type Record struct {
	EventID      string    `json:"eventId"`
	LastModified time.Time `json:"lastModified"`
}

// fileLayout is the on-disk format. A missing schemaVersion key marks the
// legacy layout.
type fileLayout struct {
	SchemaVersion     *int              `json:"schemaVersion,omitempty"`
	LastSyncTimestamp string            `json:"lastSyncTimestamp,omitempty"`
	Records           map[string]Record `json:"records"`
}

// Ledger is the durable record of which shifts were synced to which
// calendar events. It is not safe for concurrent use.
type Ledger struct {
	path     string
	now      func() time.Time
	readOnly bool

	// lastSync is kept verbatim so that rewriting the file does not
	// reformat a timestamp written by another build.
	lastSync string
	records  map[string]Record
}

// New returns an empty ledger backed by path. Call Load to read it.
func New(path string) *Ledger {
	return &Ledger{
		path:    path,
		now:     time.Now,
		records: make(map[string]Record),
	}
}

// Open creates a ledger for path and loads it.
func Open(path string) (*Ledger, error) {
	l := New(path)
	if err := l.Load(); err != nil {
		return nil, err
	}
	return l, nil
}

// OpenReadOnly loads path without ever writing it back. A legacy file is
// migrated in memory only.
func OpenReadOnly(path string) (*Ledger, error) {
	l := New(path)
	l.readOnly = true
	if err := l.Load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the file backing the ledger.
func (l *Ledger) Path() string {
	return l.path
}

// Load reads the ledger file. A missing file yields an empty ledger. A
// legacy file is migrated and written back immediately without touching
// its last sync timestamp.
func (l *Ledger) Load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.lastSync = ""
			l.records = make(map[string]Record)
			return nil
		}
		return fmt.Errorf("failed to read ledger file: %w", err)
	}

	var f fileLayout
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse ledger file %s: %w", l.path, err)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("failed to parse ledger file %s: %w", l.path, err)
	}

	legacy := isLegacy(keys)
	if !legacy && f.SchemaVersion == nil {
		return fmt.Errorf("failed to parse ledger file %s: schemaVersion is null", l.path)
	}
	if !legacy && *f.SchemaVersion > SchemaVersion {
		return fmt.Errorf("%w: %s has version %d, this build supports up to %d",
			ErrUnsupportedSchema, l.path, *f.SchemaVersion, SchemaVersion)
	}

	l.lastSync = f.LastSyncTimestamp
	l.records = f.Records
	if l.records == nil {
		l.records = make(map[string]Record)
	}

	if legacy && l.readOnly {
		log.Printf("Legacy ledger %s will be migrated to schema version %d on the next real run", l.path, SchemaVersion)
	} else if legacy {
		log.Printf("Migrating legacy ledger %s to schema version %d (%d records)", l.path, SchemaVersion, len(l.records))
		if err := l.Save(true); err != nil {
			return fmt.Errorf("failed to persist migrated ledger: %w", err)
		}
	}

	return nil
}

// isLegacy is the single place that decides whether a file predates
// schema versioning: only a file without the schemaVersion key does. A
// key holding null is a damaged file, not a legacy one.
func isLegacy(keys map[string]json.RawMessage) bool {
	_, ok := keys["schemaVersion"]
	return !ok
}

// Record returns the record for a shift.
func (l *Ledger) Record(shiftID string) (Record, bool) {
	r, ok := l.records[shiftID]
	return r, ok
}

// SetRecord creates or overwrites the record for a shift.
func (l *Ledger) SetRecord(shiftID string, r Record) {
	l.records[shiftID] = r
}

// DeleteRecord forgets a shift.
func (l *Ledger) DeleteRecord(shiftID string) {
	delete(l.records, shiftID)
}

// KnownShiftIDs returns the set of shift IDs with a record.
func (l *Ledger) KnownShiftIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(l.records))
	for id := range l.records {
		ids[id] = struct{}{}
	}
	return ids
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.records)
}

// LastSync returns the time of the last successful save, if any.
func (l *Ledger) LastSync() (time.Time, bool) {
	if l.lastSync == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, l.lastSync)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Save writes the ledger atomically (temp file + rename). Unless
// preserveLastSync is set, the last sync timestamp is set to now.
func (l *Ledger) Save(preserveLastSync bool) error {
	if l.readOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, l.path)
	}

	lastSync := l.lastSync
	if !preserveLastSync {
		lastSync = l.now().UTC().Format(time.RFC3339Nano)
	}

	version := SchemaVersion
	data, err := json.MarshalIndent(fileLayout{
		SchemaVersion:     &version,
		LastSyncTimestamp: lastSync,
		Records:           l.records,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	if err := atomicfile.Write(l.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}

	l.lastSync = lastSync
	return nil
}
