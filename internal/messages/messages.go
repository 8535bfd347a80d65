// Package messages defines the downstream JSON protocol spoken by voxel
// clients. Every frame is a {"type", "data"} envelope. Some fields carry
// nested documents as JSON text; those use Blob so the Go side stays typed.
package messages

import (
	"encoding/json"
	"fmt"
)

// Outbound message names.
const (
	TypeLoginRequest     = "LoginRequest"
	TypeLoginSuccess     = "LoginSuccess"
	TypePlayerHealth     = "PlayerHealth"
	TypePlayerEntity     = "PlayerEntity"
	TypeChatMessage      = "ChatMessage"
	TypeEntityCreate     = "EntityCreate"
	TypeEntityMove       = "EntityMove"
	TypeEntityRemove     = "EntityRemove"
	TypeWorldBlockUpdate = "WorldBlockUpdate"
	TypeWorldChunkLoad   = "WorldChunkLoad"
	TypePlayerTeleport   = "PlayerTeleport"
	TypePlayerKick       = "PlayerKick"
)

// Inbound message names.
const (
	TypeLoginResponse        = "LoginResponse"
	TypeActionMessage        = "ActionMessage"
	TypeActionMove           = "ActionMove"
	TypeActionLook           = "ActionLook"
	TypeActionMoveLook       = "ActionMoveLook"
	TypeActionClick          = "ActionClick"
	TypeActionClickEntity    = "ActionClickEntity"
	TypeActionBlockBreak     = "ActionBlockBreak"
	TypeActionBlockPlace     = "ActionBlockPlace"
	TypeActionInventoryClick = "ActionInventoryClick"
)

// Envelope is the wire frame for both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Inbound is a decoded frame from a client whose data is not yet bound to
// a concrete type.
type Inbound struct {
	Type string
	Data json.RawMessage
}

// Encode wraps data in an envelope.
func Encode(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Data: raw})
}

// DecodeEnvelope parses a frame without binding its data.
func DecodeEnvelope(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Inbound{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == "" {
		return Inbound{}, fmt.Errorf("failed to decode envelope: missing type")
	}
	return Inbound{Type: env.Type, Data: env.Data}, nil
}

// Bind decodes the data of an inbound message into T.
func Bind[T any](in Inbound) (T, error) {
	var v T
	if len(in.Data) == 0 || string(in.Data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(in.Data, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s: %w", in.Type, err)
	}
	return v, nil
}

// Blob holds a value that travels as a JSON string containing its JSON
// encoding.
type Blob[T any] struct {
	Value T
}

// NewBlob wraps v.
func NewBlob[T any](v T) Blob[T] {
	return Blob[T]{Value: v}
}

// MarshalJSON encodes Value and quotes the result.
func (b Blob[T]) MarshalJSON() ([]byte, error) {
	inner, err := json.Marshal(b.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(inner))
}

// UnmarshalJSON reverses MarshalJSON.
func (b *Blob[T]) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return json.Unmarshal([]byte(s), &b.Value)
}
