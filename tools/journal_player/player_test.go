package journalplayer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fortwave/netclient/internal/clock"
	"fortwave/netclient/internal/journal"
	"fortwave/netclient/internal/protocol"
)

func listSessionDirs(t *testing.T, root string) ([]string, error) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(root, entry.Name()))
		}
	}
	return dirs, nil
}

func writeCapture(t *testing.T, root string) {
	t.Helper()
	manual := clock.NewManual(time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC))
	writer, err := journal.NewWriter(root, "m-77", "p-one", journal.WithClock(manual))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	first, err := protocol.NewSequencedMessage(protocol.TypeCoinDeposited, 4, protocol.CoinDepositedPayload{PadID: "pad-1", Amount: 25})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	writer.RecordEvent(first)

	manual.Advance(250 * time.Millisecond)
	second, err := protocol.NewSequencedMessage(protocol.TypeLevelUp, 5, protocol.LevelUpPayload{PlayerID: "p-one", Level: 2})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	writer.RecordEvent(second)

	manual.Advance(100 * time.Millisecond)
	pause, err := protocol.NewSystemEvent(protocol.TypeGamePause, protocol.GamePausePayload{RequestedBy: "p-two"})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	writer.RecordEvent(pause)

	writer.StageSnapshot(protocol.MatchState{MatchID: "m-77", Seq: 5})
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
}

func TestPlayDeliversEventsInCapturedOrder(t *testing.T) {
	root := t.TempDir()
	writeCapture(t, root)

	entries, err := listSessionDirs(t, root)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one capture directory, got %v (%v)", entries, err)
	}

	bundle, err := Load(entries[0])
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	if bundle.Manifest.MatchID != "m-77" || bundle.Manifest.Events != 3 {
		t.Fatalf("unexpected manifest %+v", bundle.Manifest)
	}
	if len(bundle.Snapshots) != 1 || bundle.Snapshots[0].Seq != 5 {
		t.Fatalf("unexpected snapshots %+v", bundle.Snapshots)
	}

	var gaps []time.Duration
	var got []protocol.ServerMessage
	player := NewPlayer(bundle,
		WithSpeed(2),
		WithSleeper(func(d time.Duration) { gaps = append(gaps, d) }),
	)
	delivered, err := player.Play(func(msg protocol.ServerMessage) { got = append(got, msg) })
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if delivered != 3 || len(got) != 3 {
		t.Fatalf("expected 3 deliveries, got %d (%d collected)", delivered, len(got))
	}

	if got[0].Type != protocol.TypeCoinDeposited || !got[0].HasSeq || got[0].Seq != 4 {
		t.Fatalf("unexpected first message %+v", got[0])
	}
	if got[1].Type != protocol.TypeLevelUp || got[1].Seq != 5 {
		t.Fatalf("unexpected second message %+v", got[1])
	}
	if got[2].Type != protocol.TypeGamePause || got[2].HasSeq {
		t.Fatalf("system event must stay seq-less, got %+v", got[2])
	}

	//1.- Captured gaps were 250ms and 100ms; double speed halves both.
	if len(gaps) != 2 || gaps[0] != 125*time.Millisecond || gaps[1] != 50*time.Millisecond {
		t.Fatalf("unexpected pacing gaps %v", gaps)
	}

	payload, err := got[1].Payload()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	level, ok := payload.(protocol.LevelUpPayload)
	if !ok || level.Level != 2 {
		t.Fatalf("payload did not round-trip: %#v", payload)
	}
}

func TestPlayWithoutSpeedNeverSleeps(t *testing.T) {
	root := t.TempDir()
	writeCapture(t, root)
	entries, err := listSessionDirs(t, root)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one capture directory, got %v (%v)", entries, err)
	}
	bundle, err := Load(entries[0])
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}

	player := NewPlayer(bundle, WithSleeper(func(time.Duration) {
		t.Fatal("pacing must be disabled by default")
	}))
	if _, err := player.Play(func(protocol.ServerMessage) {}); err != nil {
		t.Fatalf("play: %v", err)
	}
}

func TestLoadRejectsMissingCapture(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for an empty path")
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected an error for a directory with no manifest")
	}
}
