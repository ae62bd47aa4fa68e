package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"

	"fortwave/netclient/internal/clock"
	"fortwave/netclient/internal/protocol"
)

// DefaultSnapshotInterval bounds how often a staged snapshot is persisted.
const DefaultSnapshotInterval = 5 * time.Second

var dirCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Artifact names inside a session directory.
const (
	manifestName  = "manifest.json"
	eventsName    = "events.jsonl.sz"
	snapshotsName = "snapshots.bin.zst"
)

// Manifest describes one captured session so tooling can locate and summarise
// its artifacts without decompressing them.
type Manifest struct {
	Version            int    `json:"version"`
	MatchID            string `json:"match_id"`
	PlayerID           string `json:"player_id"`
	CreatedAt          string `json:"created_at"`
	EventsPath         string `json:"events_path"`
	SnapshotsPath      string `json:"snapshots_path"`
	SnapshotIntervalMs int    `json:"snapshot_interval_ms"`
	Events             uint64 `json:"events"`
	Snapshots          uint64 `json:"snapshots"`
	SeqFirst           uint64 `json:"seq_first"`
	SeqLast            uint64 `json:"seq_last"`
}

// EventRecord is one line of the event log.
type EventRecord struct {
	Seq        uint64          `json:"seq,omitempty"`
	Type       string          `json:"type"`
	CapturedAt string          `json:"captured_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Writer captures one session's applied updates and periodic state snapshots.
// A nil writer is a valid no-op sink, so callers never guard journal calls.
type Writer struct {
	mu        sync.Mutex
	dir       string
	clock     clock.Clock
	interval  time.Duration
	manifest  Manifest
	eventFile *os.File
	events    *snappy.Writer
	snapFile  *os.File
	snaps     *zstd.Encoder
	pending   *protocol.MatchState
	lastWrite time.Time
	closed    bool
}

// Option customises writer construction.
type Option func(*Writer)

// WithClock overrides the capture timestamp source.
func WithClock(c clock.Clock) Option {
	return func(w *Writer) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithSnapshotInterval overrides the snapshot persistence cadence.
func WithSnapshotInterval(interval time.Duration) Option {
	return func(w *Writer) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// NewWriter provisions a session directory under root and opens the
// compressed sinks.
func NewWriter(root, matchID, playerID string, opts ...Option) (*Writer, error) {
	if root == "" {
		return nil, fmt.Errorf("journal: root must be provided")
	}
	w := &Writer{
		clock:    clock.System(),
		interval: DefaultSnapshotInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	cleaned := dirCleaner.ReplaceAllString(matchID, "")
	if cleaned == "" {
		cleaned = "match"
	}
	created := w.clock.Now().UTC()
	w.dir = filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}

	eventFile, err := os.Create(filepath.Join(w.dir, eventsName))
	if err != nil {
		return nil, fmt.Errorf("journal: open event log: %w", err)
	}
	snapFile, err := os.Create(filepath.Join(w.dir, snapshotsName))
	if err != nil {
		_ = eventFile.Close()
		return nil, fmt.Errorf("journal: open snapshot log: %w", err)
	}
	snaps, err := zstd.NewWriter(snapFile)
	if err != nil {
		_ = eventFile.Close()
		_ = snapFile.Close()
		return nil, fmt.Errorf("journal: open zstd stream: %w", err)
	}

	w.eventFile = eventFile
	w.events = snappy.NewBufferedWriter(eventFile)
	w.snapFile = snapFile
	w.snaps = snaps
	w.manifest = Manifest{
		Version:            1,
		MatchID:            matchID,
		PlayerID:           playerID,
		CreatedAt:          created.Format(time.RFC3339Nano),
		EventsPath:         eventsName,
		SnapshotsPath:      snapshotsName,
		SnapshotIntervalMs: int(w.interval / time.Millisecond),
	}
	if err := w.writeManifestLocked(); err != nil {
		_ = w.events.Close()
		_ = eventFile.Close()
		_ = snaps.Close()
		_ = snapFile.Close()
		return nil, err
	}
	return w, nil
}

// Directory exposes the directory backing the session capture.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// RecordEvent appends one applied message to the event log.
func (w *Writer) RecordEvent(msg protocol.ServerMessage) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	record := EventRecord{
		Type:       msg.Type,
		CapturedAt: w.clock.Now().UTC().Format(time.RFC3339Nano),
		Payload:    msg.Data,
	}
	if msg.HasSeq {
		record.Seq = msg.Seq
	}
	line, err := json.Marshal(record)
	if err != nil {
		return
	}
	//1.- One JSON document per line keeps the log streamable under snappy.
	if _, err := w.events.Write(append(line, '\n')); err != nil {
		return
	}
	_ = w.events.Flush()
	w.manifest.Events++
	if msg.HasSeq {
		if w.manifest.SeqFirst == 0 {
			w.manifest.SeqFirst = msg.Seq
		}
		if msg.Seq > w.manifest.SeqLast {
			w.manifest.SeqLast = msg.Seq
		}
	}
}

// StageSnapshot remembers the newest snapshot and persists it on the cadence.
// Intermediate snapshots between cadence points are superseded, not stored.
func (w *Writer) StageSnapshot(state protocol.MatchState) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = &state
	now := w.clock.Now().UTC()
	if w.lastWrite.IsZero() {
		w.lastWrite = now
		return
	}
	if now.Sub(w.lastWrite) >= w.interval {
		if w.persistSnapshotLocked(now) == nil {
			w.lastWrite = now
		}
	}
}

// Close flushes everything, rewrites the manifest with final counters, and
// releases the file handles. Errors are aggregated, not short-circuited.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var errs *multierror.Error
	//1.- Persist the final staged snapshot so the capture ends on truth.
	if err := w.persistSnapshotLocked(w.clock.Now().UTC()); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := w.events.Flush(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := w.events.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := w.eventFile.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := w.snaps.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := w.snapFile.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	//2.- Rewrite the manifest so tooling sees final counts and the seq range.
	if err := w.writeManifestLocked(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// persistSnapshotLocked writes the staged snapshot as a length-prefixed frame.
func (w *Writer) persistSnapshotLocked(capturedAt time.Time) error {
	if w.pending == nil {
		return nil
	}
	payload, err := json.Marshal(w.pending)
	if err != nil {
		return fmt.Errorf("journal: encode snapshot: %w", err)
	}
	header := make([]byte, 8+8+4)
	binary.LittleEndian.PutUint64(header[0:8], w.pending.Seq)
	binary.LittleEndian.PutUint64(header[8:16], uint64(capturedAt.UnixNano()))
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(payload)))
	if _, err := w.snaps.Write(header); err != nil {
		return fmt.Errorf("journal: write snapshot header: %w", err)
	}
	if _, err := w.snaps.Write(payload); err != nil {
		return fmt.Errorf("journal: write snapshot payload: %w", err)
	}
	w.pending = nil
	w.manifest.Snapshots++
	return nil
}

// writeManifestLocked serialises the manifest next to the artifacts.
func (w *Writer) writeManifestLocked() error {
	data, err := json.MarshalIndent(w.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("journal: write manifest: %w", err)
	}
	return nil
}
