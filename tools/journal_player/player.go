package journalplayer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fortwave/netclient/internal/journal"
	"fortwave/netclient/internal/protocol"
)

// Bundle holds everything captured for one session.
type Bundle struct {
	Dir       string                   `json:"dir"`
	Manifest  journal.Manifest         `json:"manifest"`
	Events    []journal.EventRecord    `json:"events"`
	Snapshots []journal.SnapshotRecord `json:"snapshots"`
}

// Load reads a session capture from a directory or a manifest.json path.
func Load(path string) (Bundle, error) {
	if path == "" {
		return Bundle{}, fmt.Errorf("path is required")
	}

	//1.- Resolve the session directory so the artifact readers share one root.
	dir := path
	info, err := os.Stat(path)
	if err != nil {
		return Bundle{}, err
	}
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}

	manifest, err := journal.ReadManifest(dir)
	if err != nil {
		return Bundle{}, err
	}
	if manifest.Version != 1 {
		return Bundle{}, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	//2.- Decode events first so callers can reconstruct the update timeline.
	events, err := journal.ReadEvents(dir)
	if err != nil {
		return Bundle{}, err
	}

	//3.- Snapshots come last because playback only needs them on demand.
	snapshots, err := journal.ReadSnapshots(dir)
	if err != nil {
		return Bundle{}, err
	}

	return Bundle{Dir: dir, Manifest: manifest, Events: events, Snapshots: snapshots}, nil
}

// Message rebuilds the wire envelope recorded in an event log line.
func Message(record journal.EventRecord) protocol.ServerMessage {
	return protocol.ServerMessage{
		Type:   record.Type,
		Seq:    record.Seq,
		HasSeq: record.Seq != 0,
		Data:   record.Payload,
	}
}

// Option customises player construction.
type Option func(*Player)

// WithSpeed scales playback pacing; 1 replays at the captured cadence, higher
// is faster, and 0 disables pacing entirely.
func WithSpeed(multiplier float64) Option {
	return func(p *Player) {
		if multiplier >= 0 {
			p.speed = multiplier
		}
	}
}

// WithSleeper overrides how pacing gaps are waited out.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(p *Player) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// Player feeds a captured session back through a message sink.
type Player struct {
	bundle Bundle
	speed  float64
	sleep  func(time.Duration)
}

// NewPlayer wraps a loaded bundle for playback.
func NewPlayer(bundle Bundle, opts ...Option) *Player {
	player := &Player{
		bundle: bundle,
		speed:  0,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(player)
		}
	}
	return player
}

// Play dispatches every captured event to sink in recorded order, pacing by
// the captured timestamps when a speed is configured. It returns the number
// of events delivered.
func (p *Player) Play(sink func(protocol.ServerMessage)) (uint64, error) {
	if p == nil || sink == nil {
		return 0, fmt.Errorf("a playback sink is required")
	}

	var delivered uint64
	var previous time.Time
	for i, record := range p.bundle.Events {
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return delivered, fmt.Errorf("event %d has a bad captured_at: %w", i, err)
		}
		//1.- Wait out the captured gap, scaled by the configured speed.
		if p.speed > 0 && !previous.IsZero() {
			if gap := captured.Sub(previous); gap > 0 {
				p.sleep(time.Duration(float64(gap) / p.speed))
			}
		}
		previous = captured

		sink(Message(record))
		delivered++
	}
	return delivered, nil
}
