package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// PacketBuilder constructs serverbound packet bodies.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteBool writes 0x01 for true and 0x00 for false.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteByte(1)
	}
	return b.WriteByte(0)
}

// WriteUint16 writes an unsigned short.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteInt16 writes a short.
func (b *PacketBuilder) WriteInt16(v int16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteInt32 writes an int.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteInt64 writes a long.
func (b *PacketBuilder) WriteInt64(v int64) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteFloat32 writes an IEEE 754 single.
func (b *PacketBuilder) WriteFloat32(v float32) *PacketBuilder {
	return b.WriteInt32(int32(math.Float32bits(v)))
}

// WriteFloat64 writes an IEEE 754 double.
func (b *PacketBuilder) WriteFloat64(v float64) *PacketBuilder {
	return b.WriteInt64(int64(math.Float64bits(v)))
}

// WriteVarInt writes a LEB128-style variable length int.
func (b *PacketBuilder) WriteVarInt(v int32) *PacketBuilder {
	b.buf.Write(AppendVarInt(nil, v))
	return b
}

// WriteString writes a varint length-prefixed UTF-8 string.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.WriteVarInt(int32(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteUUID writes a UUID as two longs.
func (b *PacketBuilder) WriteUUID(id uuid.UUID) *PacketBuilder {
	b.buf.Write(id[:])
	return b
}

// WritePosition packs block coordinates as x:26 z:26 y:12.
func (b *PacketBuilder) WritePosition(x, y, z int32) *PacketBuilder {
	v := (int64(x)&0x3FFFFFF)<<38 | (int64(z)&0x3FFFFFF)<<12 | int64(y)&0xFFF
	return b.WriteInt64(v)
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// AppendVarInt appends the varint encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	ux := uint32(v)
	for ux >= 0x80 {
		dst = append(dst, byte(ux)|0x80)
		ux >>= 7
	}
	return append(dst, byte(ux))
}

// ---- Serverbound packets ----

// Serverbound is a packet the proxy sends upstream.
type Serverbound interface {
	ID() int32
	Name() string
	Encode(b *PacketBuilder)
}

// Marshal returns the packet id followed by the encoded body.
func Marshal(p Serverbound) []byte {
	b := NewPacketBuilder()
	b.WriteVarInt(p.ID())
	p.Encode(b)
	return b.Build()
}

// Handshake selects the protocol version and next state.
type Handshake struct {
	ProtocolVersion int32
	Host            string
	Port            uint16
	NextState       int32
}

// LoginStart begins an offline-mode login.
type LoginStart struct {
	Username string
}

// LoginPluginResponse answers a LoginPluginRequest.
type LoginPluginResponse struct {
	MessageID int32
	Success   bool
}

// TeleportConfirm acknowledges a PlayerPositionLook.
type TeleportConfirm struct {
	TeleportID int32
}

// ChatSend sends a chat line or command. Messages are capped at 256 runes.
type ChatSend struct {
	Message string
}

// Interaction kinds for UseEntity.
const (
	InteractUse    int32 = 0
	InteractAttack int32 = 1
	InteractAt     int32 = 2
)

// UseEntity interacts with or attacks an entity.
type UseEntity struct {
	Target   int32
	Mouse    int32
	X, Y, Z  float32
	Hand     int32
	Sneaking bool
}

// KeepAliveReply echoes a KeepAlive id.
type KeepAliveReply struct {
	KeepAliveID int64
}

// Position moves the player.
type Position struct {
	X, Y, Z  float64
	OnGround bool
}

// PositionLook moves and rotates the player.
type PositionLook struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool
}

// Look rotates the player.
type Look struct {
	Yaw, Pitch float32
	OnGround   bool
}

// ArmAnimation swings an arm.
type ArmAnimation struct {
	Hand int32
}

// MaxChatLength is the serverbound chat limit in characters.
const MaxChatLength = 256

func (Handshake) ID() int32           { return PktHandshake }
func (LoginStart) ID() int32          { return PktLoginStart }
func (LoginPluginResponse) ID() int32 { return PktLoginPluginResponse }
func (TeleportConfirm) ID() int32     { return PktTeleportConfirm }
func (ChatSend) ID() int32            { return PktChatSend }
func (UseEntity) ID() int32           { return PktInteractEntity }
func (KeepAliveReply) ID() int32      { return PktKeepAliveReply }
func (Position) ID() int32            { return PktPosition }
func (PositionLook) ID() int32        { return PktPositionRotation }
func (Look) ID() int32                { return PktRotation }
func (ArmAnimation) ID() int32        { return PktAnimation }

func (Handshake) Name() string           { return "set_protocol" }
func (LoginStart) Name() string          { return "login_start" }
func (LoginPluginResponse) Name() string { return "login_plugin_response" }
func (TeleportConfirm) Name() string     { return "teleport_confirm" }
func (ChatSend) Name() string            { return "chat" }
func (UseEntity) Name() string           { return "use_entity" }
func (KeepAliveReply) Name() string      { return "keep_alive" }
func (Position) Name() string            { return "position" }
func (PositionLook) Name() string        { return "position_look" }
func (Look) Name() string                { return "look" }
func (ArmAnimation) Name() string        { return "arm_animation" }

func (p Handshake) Encode(b *PacketBuilder) {
	b.WriteVarInt(p.ProtocolVersion).
		WriteString(p.Host).
		WriteUint16(p.Port).
		WriteVarInt(p.NextState)
}

func (p LoginStart) Encode(b *PacketBuilder) {
	b.WriteString(p.Username)
}

// Encode omits the data field, which only follows a successful response.
func (p LoginPluginResponse) Encode(b *PacketBuilder) {
	b.WriteVarInt(p.MessageID).WriteBool(p.Success)
}

func (p TeleportConfirm) Encode(b *PacketBuilder) {
	b.WriteVarInt(p.TeleportID)
}

func (p ChatSend) Encode(b *PacketBuilder) {
	msg := p.Message
	if r := []rune(msg); len(r) > MaxChatLength {
		msg = string(r[:MaxChatLength])
	}
	b.WriteString(msg)
}

func (p UseEntity) Encode(b *PacketBuilder) {
	b.WriteVarInt(p.Target).WriteVarInt(p.Mouse)
	if p.Mouse == InteractAt {
		b.WriteFloat32(p.X).WriteFloat32(p.Y).WriteFloat32(p.Z)
	}
	if p.Mouse != InteractAttack {
		b.WriteVarInt(p.Hand)
	}
	b.WriteBool(p.Sneaking)
}

func (p KeepAliveReply) Encode(b *PacketBuilder) {
	b.WriteInt64(p.KeepAliveID)
}

func (p Position) Encode(b *PacketBuilder) {
	b.WriteFloat64(p.X).WriteFloat64(p.Y).WriteFloat64(p.Z).WriteBool(p.OnGround)
}

func (p PositionLook) Encode(b *PacketBuilder) {
	b.WriteFloat64(p.X).WriteFloat64(p.Y).WriteFloat64(p.Z).
		WriteFloat32(p.Yaw).WriteFloat32(p.Pitch).
		WriteBool(p.OnGround)
}

func (p Look) Encode(b *PacketBuilder) {
	b.WriteFloat32(p.Yaw).WriteFloat32(p.Pitch).WriteBool(p.OnGround)
}

func (p ArmAnimation) Encode(b *PacketBuilder) {
	b.WriteVarInt(p.Hand)
}
