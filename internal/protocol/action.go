package protocol

import (
	"encoding/json"
	"time"
)

// Client-to-server action kinds.
const (
	ActionInput          = "INPUT"
	ActionCoinDeposit    = "COIN_DEPOSIT"
	ActionTowerDecision  = "TOWER_DECISION"
	ActionCoinPickup     = "COIN_PICKUP"
	ActionWeaponPick     = "WEAPON_PICK"
	ActionHeartbeat      = "HEARTBEAT"
	ActionDisconnect     = "DISCONNECT"
	ActionPauseRequest   = "PAUSE_REQUEST"
	ActionResumeRequest  = "RESUME_REQUEST"
	ActionMatchOver      = "MATCH_OVER"
	ActionBuildStateSync = "BUILD_STATE_SYNC"
)

// ClientAction is one request submitted to the action endpoint. PlayerID and
// ClientSeq are stamped by the dispatcher just before the wire.
type ClientAction struct {
	Type      string          `json:"type"`
	PlayerID  string          `json:"playerId,omitempty"`
	ClientSeq uint64          `json:"clientSeq,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// InputPayload is a movement vector sample.
type InputPayload struct {
	DX float64 `json:"dx"`
	DZ float64 `json:"dz"`
	T  int64   `json:"t"`
}

// CoinDepositPayload spends carried coins on a build pad.
type CoinDepositPayload struct {
	PadID  string `json:"padId"`
	Amount int    `json:"amount"`
}

// TowerDecisionPayload selects the building for an owned pad.
type TowerDecisionPayload struct {
	PadID          string `json:"padId"`
	BuildingTypeID string `json:"buildingTypeId"`
}

// CoinPickupPayload claims a coin lying at the given field position.
type CoinPickupPayload struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// WeaponPickPayload swaps the held weapon.
type WeaponPickPayload struct {
	WeaponID string `json:"weaponId"`
}

// HeartbeatPayload carries the client's send instant.
type HeartbeatPayload struct {
	T int64 `json:"t"`
}

// MatchOverActionPayload reports the locally observed outcome.
type MatchOverActionPayload struct {
	Victory bool `json:"victory"`
}

// BuildStateSyncPayload uploads a compressed build-grid blob.
type BuildStateSyncPayload struct {
	Blob string `json:"blob"`
}

// NewInputAction encodes a movement vector sampled at the given instant.
func NewInputAction(dx, dz float64, at time.Time) (ClientAction, error) {
	return newAction(ActionInput, InputPayload{DX: dx, DZ: dz, T: at.UnixMilli()})
}

// NewCoinDepositAction encodes a deposit on a build pad.
func NewCoinDepositAction(padID string, amount int) (ClientAction, error) {
	return newAction(ActionCoinDeposit, CoinDepositPayload{PadID: padID, Amount: amount})
}

// NewTowerDecisionAction encodes a building choice for a pad.
func NewTowerDecisionAction(padID, buildingTypeID string) (ClientAction, error) {
	return newAction(ActionTowerDecision, TowerDecisionPayload{PadID: padID, BuildingTypeID: buildingTypeID})
}

// NewCoinPickupAction encodes a coin claim at a field position.
func NewCoinPickupAction(x, z float64) (ClientAction, error) {
	return newAction(ActionCoinPickup, CoinPickupPayload{X: x, Z: z})
}

// NewWeaponPickAction encodes a weapon swap.
func NewWeaponPickAction(weaponID string) (ClientAction, error) {
	return newAction(ActionWeaponPick, WeaponPickPayload{WeaponID: weaponID})
}

// NewHeartbeatAction encodes a liveness beacon sent at the given instant.
func NewHeartbeatAction(at time.Time) (ClientAction, error) {
	return newAction(ActionHeartbeat, HeartbeatPayload{T: at.UnixMilli()})
}

// NewDisconnectAction encodes the courtesy notice sent during teardown.
func NewDisconnectAction() ClientAction {
	return ClientAction{Type: ActionDisconnect}
}

// NewPauseRequestAction encodes a pause request.
func NewPauseRequestAction() ClientAction {
	return ClientAction{Type: ActionPauseRequest}
}

// NewResumeRequestAction encodes a resume request.
func NewResumeRequestAction() ClientAction {
	return ClientAction{Type: ActionResumeRequest}
}

// NewMatchOverAction encodes the locally observed match outcome.
func NewMatchOverAction(victory bool) (ClientAction, error) {
	return newAction(ActionMatchOver, MatchOverActionPayload{Victory: victory})
}

// NewBuildStateSyncAction encodes an already-compressed build-grid blob.
func NewBuildStateSyncAction(blob string) (ClientAction, error) {
	return newAction(ActionBuildStateSync, BuildStateSyncPayload{Blob: blob})
}

// newAction assembles an action envelope around a typed payload.
func newAction(kind string, payload any) (ClientAction, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return ClientAction{}, err
	}
	return ClientAction{Type: kind, Data: data}, nil
}
