package protocol

// Match lifecycle states reported by snapshots.
const (
	MatchStatusWaiting  = "waiting"
	MatchStatusPlaying  = "playing"
	MatchStatusPaused   = "paused"
	MatchStatusFinished = "finished"
)

// PlayerState is the per-player slice of an authoritative snapshot.
type PlayerState struct {
	PlayerID  string  `json:"playerId"`
	X         float64 `json:"x"`
	Z         float64 `json:"z"`
	Level     int     `json:"level"`
	WeaponID  string  `json:"weaponId,omitempty"`
	Connected bool    `json:"connected"`
}

// MatchState is the authoritative snapshot pushed on join, rejoin, and poll
// resync. Seq is the snapshot's own position in the update stream.
type MatchState struct {
	MatchID string        `json:"matchId"`
	Status  string        `json:"status"`
	Seq     uint64        `json:"seq"`
	Wave    int           `json:"wave"`
	Coins   int           `json:"coins"`
	Players []PlayerState `json:"players,omitempty"`
	Build   string        `json:"build,omitempty"`
}

// ActionAck is the response to a submitted action.
type ActionAck struct {
	OK    bool   `json:"ok"`
	Seq   uint64 `json:"seq"`
	Error string `json:"error,omitempty"`
}

// JoinResult is handed back when creating or entering a match.
type JoinResult struct {
	MatchID  string     `json:"matchId"`
	PlayerID string     `json:"playerId,omitempty"`
	State    MatchState `json:"state"`
}

// SyncResult pairs a fresh snapshot with the ordered backlog accumulated since
// the caller's last applied update. Rejoin and poll share the shape.
type SyncResult struct {
	State  MatchState      `json:"state"`
	Missed []ServerMessage `json:"missed,omitempty"`
}
