package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fortwave/netclient/internal/clock"
	"fortwave/netclient/internal/protocol"
)

func TestWriterCapturesEventsAndSnapshots(t *testing.T) {
	tmp := t.TempDir()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	manual := clock.NewManual(base)

	writer, err := NewWriter(tmp, "match-77", "p-abc", WithClock(manual), WithSnapshotInterval(time.Second))
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}

	deposited, err := protocol.NewSequencedMessage(protocol.TypeCoinDeposited, 5, protocol.CoinDepositedPayload{
		PlayerID: "p-abc",
		PadID:    "pad-1",
		Amount:   3,
		Total:    3,
	})
	if err != nil {
		t.Fatalf("build deposit message: %v", err)
	}
	writer.RecordEvent(deposited)

	pause, err := protocol.NewSystemEvent(protocol.TypeGamePause, protocol.GamePausePayload{RequestedBy: "p-abc"})
	if err != nil {
		t.Fatalf("build pause message: %v", err)
	}
	writer.RecordEvent(pause)

	levelUp, err := protocol.NewSequencedMessage(protocol.TypeLevelUp, 9, protocol.LevelUpPayload{PlayerID: "p-abc", Level: 2})
	if err != nil {
		t.Fatalf("build level message: %v", err)
	}
	writer.RecordEvent(levelUp)

	//1.- The first stage only arms the cadence and stages inside the window
	// supersede each other; the stage after the window elapses is persisted.
	writer.StageSnapshot(protocol.MatchState{MatchID: "match-77", Seq: 5, Wave: 1})
	manual.Advance(400 * time.Millisecond)
	writer.StageSnapshot(protocol.MatchState{MatchID: "match-77", Seq: 7, Wave: 1})
	manual.Advance(700 * time.Millisecond)
	writer.StageSnapshot(protocol.MatchState{MatchID: "match-77", Seq: 9, Wave: 2})
	manual.Advance(300 * time.Millisecond)
	writer.StageSnapshot(protocol.MatchState{MatchID: "match-77", Seq: 11, Wave: 2})

	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	manifest, err := ReadManifest(writer.Directory())
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if manifest.MatchID != "match-77" || manifest.PlayerID != "p-abc" {
		t.Fatalf("unexpected manifest identity: %+v", manifest)
	}
	if manifest.Events != 3 {
		t.Fatalf("expected 3 events in manifest, got %d", manifest.Events)
	}
	if manifest.SeqFirst != 5 || manifest.SeqLast != 9 {
		t.Fatalf("unexpected manifest seq range: %d..%d", manifest.SeqFirst, manifest.SeqLast)
	}

	events, err := ReadEvents(writer.Directory())
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != protocol.TypeCoinDeposited || events[0].Seq != 5 {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != protocol.TypeGamePause || events[1].Seq != 0 {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	var payload protocol.CoinDepositedPayload
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	if payload.PadID != "pad-1" || payload.Amount != 3 {
		t.Fatalf("unexpected event payload: %+v", payload)
	}

	snapshots, err := ReadSnapshots(writer.Directory())
	if err != nil {
		t.Fatalf("read snapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snapshots))
	}
	//2.- Seqs 5 and 7 never left the window, 9 landed on the cadence, and the
	// still-pending 11 was flushed by Close.
	if snapshots[0].Seq != 9 || snapshots[1].Seq != 11 {
		t.Fatalf("unexpected snapshot seqs: %d, %d", snapshots[0].Seq, snapshots[1].Seq)
	}
	if snapshots[1].State.Wave != 2 {
		t.Fatalf("unexpected final snapshot state: %+v", snapshots[1].State)
	}
	if manifest.Snapshots != 2 {
		t.Fatalf("expected 2 snapshots in manifest, got %d", manifest.Snapshots)
	}
}

func TestWriterDirectoryNameIsCleaned(t *testing.T) {
	tmp := t.TempDir()
	manual := clock.NewManual(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	writer, err := NewWriter(tmp, "Cave Run #12!", "p-abc", WithClock(manual))
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	defer writer.Close()

	name := filepath.Base(writer.Directory())
	if !strings.HasPrefix(name, "CaveRun12-") {
		t.Fatalf("unexpected directory name: %q", name)
	}
	if strings.ContainsAny(name, " #!") {
		t.Fatalf("directory name retains unsafe characters: %q", name)
	}
}

func TestWriterRejectsEmptyRoot(t *testing.T) {
	if _, err := NewWriter("", "match", "p-abc"); err == nil {
		t.Fatalf("expected error for empty root")
	}
}

func TestNilWriterIsNoOp(t *testing.T) {
	var writer *Writer

	msg, err := protocol.NewSystemEvent(protocol.TypeGameResume, protocol.GameResumePayload{})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	writer.RecordEvent(msg)
	writer.StageSnapshot(protocol.MatchState{Seq: 1})
	if got := writer.Directory(); got != "" {
		t.Fatalf("expected empty directory, got %q", got)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("nil close should succeed: %v", err)
	}
}

func TestWriterIgnoresRecordsAfterClose(t *testing.T) {
	tmp := t.TempDir()
	manual := clock.NewManual(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	writer, err := NewWriter(tmp, "match-9", "p-abc", WithClock(manual))
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close should succeed: %v", err)
	}

	msg, err := protocol.NewSequencedMessage(protocol.TypeLevelUp, 3, protocol.LevelUpPayload{PlayerID: "p-abc", Level: 1})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	writer.RecordEvent(msg)
	writer.StageSnapshot(protocol.MatchState{Seq: 3})

	manifest, err := ReadManifest(writer.Directory())
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if manifest.Events != 0 || manifest.Snapshots != 0 {
		t.Fatalf("records accepted after close: %+v", manifest)
	}

	if _, err := os.Stat(filepath.Join(writer.Directory(), "events.jsonl.sz")); err != nil {
		t.Fatalf("event log missing: %v", err)
	}
}
