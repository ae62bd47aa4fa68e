package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Server-to-client message kinds.
const (
	TypeMatchState         = "MATCH_STATE"
	TypePlayerInput        = "PLAYER_INPUT"
	TypeCoinDeposited      = "COIN_DEPOSITED"
	TypeDecisionOwner      = "DECISION_OWNER"
	TypeTowerDecided       = "TOWER_DECIDED"
	TypeCoinPicked         = "COIN_PICKED"
	TypeWeaponAssigned     = "WEAPON_ASSIGNED"
	TypeLevelUp            = "LEVEL_UP"
	TypePlayerDisconnected = "PLAYER_DISCONNECTED"
	TypePlayerReconnected  = "PLAYER_RECONNECTED"
	TypeGamePause          = "GAME_PAUSE"
	TypeGameResume         = "GAME_RESUME"
	TypeMatchOver          = "MATCH_OVER"
	TypeBuildStateSnapshot = "BUILD_STATE_SNAPSHOT"
)

var (
	// ErrUnknownType reports a discriminator outside the supported unions.
	ErrUnknownType = errors.New("protocol: unknown message type")
	// ErrMalformedMessage reports a frame that could not be parsed.
	ErrMalformedMessage = errors.New("protocol: malformed message")
)

// ServerMessage is the envelope for one server-to-client update. Sequenced
// gameplay messages carry Seq; connection-lifecycle events do not and bypass
// ordering entirely.
type ServerMessage struct {
	Type   string
	Seq    uint64
	HasSeq bool
	Data   json.RawMessage
}

// serverMessageWire is the JSON layout, with Seq as a pointer so absence
// survives the round trip.
type serverMessageWire struct {
	Type string          `json:"type"`
	Seq  *uint64         `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the envelope, omitting seq for system events.
func (m ServerMessage) MarshalJSON() ([]byte, error) {
	wire := serverMessageWire{Type: m.Type, Data: m.Data}
	if m.HasSeq {
		seq := m.Seq
		wire.Seq = &seq
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the envelope, tracking whether seq was present.
func (m *ServerMessage) UnmarshalJSON(data []byte) error {
	var wire serverMessageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Type = wire.Type
	m.Data = wire.Data
	m.HasSeq = wire.Seq != nil
	if wire.Seq != nil {
		m.Seq = *wire.Seq
	} else {
		m.Seq = 0
	}
	return nil
}

// SystemEvent reports whether the message bypasses sequence ordering.
func (m ServerMessage) SystemEvent() bool { return !m.HasSeq }

// DecodeServerMessage parses one wire frame into its envelope.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	//1.- Sniff the discriminator before unmarshalling so junk frames fail fast.
	kind := gjson.GetBytes(data, "type")
	if !kind.Exists() || kind.String() == "" {
		return ServerMessage{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if !knownServerType(kind.String()) {
		return ServerMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, kind.String())
	}
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

// knownServerType reports whether the discriminator names a union member.
func knownServerType(kind string) bool {
	switch kind {
	case TypeMatchState, TypePlayerInput, TypeCoinDeposited, TypeDecisionOwner,
		TypeTowerDecided, TypeCoinPicked, TypeWeaponAssigned, TypeLevelUp,
		TypePlayerDisconnected, TypePlayerReconnected, TypeGamePause,
		TypeGameResume, TypeMatchOver, TypeBuildStateSnapshot:
		return true
	default:
		return false
	}
}

// NewSystemEvent builds an ordering-exempt message from a typed payload.
func NewSystemEvent(msgType string, payload any) (ServerMessage, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return ServerMessage{}, err
	}
	return ServerMessage{Type: msgType, Data: data}, nil
}

// NewSequencedMessage builds an ordered message, used by resync synthesis and
// by test fixtures.
func NewSequencedMessage(msgType string, seq uint64, payload any) (ServerMessage, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return ServerMessage{}, err
	}
	return ServerMessage{Type: msgType, Seq: seq, HasSeq: true, Data: data}, nil
}

// encodePayload marshals a payload, tolerating nil for bodiless messages.
func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode payload: %w", err)
	}
	return data, nil
}

// PlayerInputPayload relays the partner's movement vector.
type PlayerInputPayload struct {
	PlayerID string  `json:"playerId"`
	DX       float64 `json:"dx"`
	DZ       float64 `json:"dz"`
	T        int64   `json:"t"`
}

// CoinDepositedPayload confirms a deposit applied to a build pad.
type CoinDepositedPayload struct {
	PlayerID string `json:"playerId"`
	PadID    string `json:"padId"`
	Amount   int    `json:"amount"`
	Total    int    `json:"total"`
}

// DecisionOwnerPayload names the player who owns a tower choice.
type DecisionOwnerPayload struct {
	PadID   string `json:"padId"`
	OwnerID string `json:"ownerId"`
}

// TowerDecidedPayload commits the building choice for a pad.
type TowerDecidedPayload struct {
	PadID          string `json:"padId"`
	BuildingTypeID string `json:"buildingTypeId"`
}

// CoinPickedPayload reports a coin collected from the field.
type CoinPickedPayload struct {
	PlayerID string  `json:"playerId"`
	X        float64 `json:"x"`
	Z        float64 `json:"z"`
	Amount   int     `json:"amount"`
}

// WeaponAssignedPayload confirms a weapon swap.
type WeaponAssignedPayload struct {
	PlayerID string `json:"playerId"`
	WeaponID string `json:"weaponId"`
}

// LevelUpPayload reports a player's new level.
type LevelUpPayload struct {
	PlayerID string `json:"playerId"`
	Level    int    `json:"level"`
}

// PlayerDisconnectedPayload announces the partner dropped.
type PlayerDisconnectedPayload struct {
	PlayerID string `json:"playerId"`
	Reason   string `json:"reason,omitempty"`
}

// PlayerReconnectedPayload announces the partner returned.
type PlayerReconnectedPayload struct {
	PlayerID string `json:"playerId"`
}

// GamePausePayload freezes the simulation.
type GamePausePayload struct {
	RequestedBy string `json:"requestedBy,omitempty"`
}

// GameResumePayload resumes the simulation.
type GameResumePayload struct {
	RequestedBy string `json:"requestedBy,omitempty"`
}

// MatchOverPayload reports the terminal outcome.
type MatchOverPayload struct {
	Victory bool `json:"victory"`
}

// BuildStateSnapshotPayload relays a compressed build-grid blob.
type BuildStateSnapshotPayload struct {
	PlayerID string `json:"playerId,omitempty"`
	Blob     string `json:"blob"`
}

// Payload decodes the message body into its typed representation. Every union
// member is matched explicitly so new kinds cannot slip through silently.
func (m ServerMessage) Payload() (any, error) {
	switch m.Type {
	case TypeMatchState:
		var payload MatchState
		return payload, decodePayload(m.Data, &payload)
	case TypePlayerInput:
		var payload PlayerInputPayload
		return payload, decodePayload(m.Data, &payload)
	case TypeCoinDeposited:
		var payload CoinDepositedPayload
		return payload, decodePayload(m.Data, &payload)
	case TypeDecisionOwner:
		var payload DecisionOwnerPayload
		return payload, decodePayload(m.Data, &payload)
	case TypeTowerDecided:
		var payload TowerDecidedPayload
		return payload, decodePayload(m.Data, &payload)
	case TypeCoinPicked:
		var payload CoinPickedPayload
		return payload, decodePayload(m.Data, &payload)
	case TypeWeaponAssigned:
		var payload WeaponAssignedPayload
		return payload, decodePayload(m.Data, &payload)
	case TypeLevelUp:
		var payload LevelUpPayload
		return payload, decodePayload(m.Data, &payload)
	case TypePlayerDisconnected:
		var payload PlayerDisconnectedPayload
		return payload, decodePayload(m.Data, &payload)
	case TypePlayerReconnected:
		var payload PlayerReconnectedPayload
		return payload, decodePayload(m.Data, &payload)
	case TypeGamePause:
		var payload GamePausePayload
		return payload, decodePayload(m.Data, &payload)
	case TypeGameResume:
		var payload GameResumePayload
		return payload, decodePayload(m.Data, &payload)
	case TypeMatchOver:
		var payload MatchOverPayload
		return payload, decodePayload(m.Data, &payload)
	case TypeBuildStateSnapshot:
		var payload BuildStateSnapshotPayload
		return payload, decodePayload(m.Data, &payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

// decodePayload unmarshals a body, treating absence as the zero value.
func decodePayload(data json.RawMessage, into any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}
