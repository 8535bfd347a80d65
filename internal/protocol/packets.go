// Package protocol implements the Minecraft Java Edition 1.16.3 wire format
// spoken by the upstream server: packet framing and compression, packet
// codecs, chunk sections and chat components. Multi-byte values are
// big-endian, lengths and ids are varints.
package protocol

import "github.com/google/uuid"

// ProtocolVersion is the protocol number sent in the handshake.
const ProtocolVersion int32 = 753

// MaxPacketSize is the largest frame the upstream may send (3-byte varint).
const MaxPacketSize = 2097151

// State selects which packet id space a frame belongs to.
type State int

const (
	StateHandshaking State = iota
	StateLogin
	StatePlay
)

// Login state, clientbound.
const (
	PktLoginDisconnect     int32 = 0x00
	PktEncryptionRequest   int32 = 0x01
	PktLoginSuccess        int32 = 0x02
	PktSetCompression      int32 = 0x03
	PktLoginPluginRequest  int32 = 0x04
	PktLoginPluginResponse int32 = 0x02 // serverbound
	PktLoginStart          int32 = 0x00 // serverbound
	PktHandshake           int32 = 0x00 // serverbound, handshaking state
)

// Play state, clientbound.
const (
	PktSpawnLiving        int32 = 0x02
	PktSpawnPlayer        int32 = 0x04
	PktBlockChange        int32 = 0x0B
	PktChatMessage        int32 = 0x0E
	PktKickDisconnect     int32 = 0x19
	PktKeepAlive          int32 = 0x1F
	PktChunkData          int32 = 0x20
	PktJoinGame           int32 = 0x24
	PktEntityPosition     int32 = 0x27
	PktEntityPosRot       int32 = 0x28
	PktPlayerInfo         int32 = 0x32
	PktPlayerPositionLook int32 = 0x34
	PktDestroyEntities    int32 = 0x36
	PktEntityTeleport     int32 = 0x56
)

// Play state, serverbound.
const (
	PktTeleportConfirm  int32 = 0x00
	PktChatSend         int32 = 0x03
	PktInteractEntity   int32 = 0x0E
	PktKeepAliveReply   int32 = 0x10
	PktPosition         int32 = 0x12
	PktPositionRotation int32 = 0x13
	PktRotation         int32 = 0x14
	PktAnimation        int32 = 0x2C
)

// Packet is a decoded clientbound packet. Name returns the conventional
// packet name used by the session dispatch table.
type Packet interface {
	Name() string
}

// Player info actions.
const (
	PlayerInfoAdd               int32 = 0
	PlayerInfoUpdateGamemode    int32 = 1
	PlayerInfoUpdateLatency     int32 = 2
	PlayerInfoUpdateDisplayName int32 = 3
	PlayerInfoRemove            int32 = 4
)

// LoginDisconnect is sent by the server to refuse a login.
type LoginDisconnect struct {
	Reason string
}

// EncryptionRequest starts online-mode authentication.
type EncryptionRequest struct {
	ServerID string
}

// LoginSuccess ends the login phase.
type LoginSuccess struct {
	UUID     uuid.UUID
	Username string
}

// SetCompression enables compressed framing for all later packets.
type SetCompression struct {
	Threshold int32
}

// LoginPluginRequest is a custom login query from a server plugin.
type LoginPluginRequest struct {
	MessageID int32
	Channel   string
	Data      []byte
}

// SpawnLiving announces a non-player living entity.
type SpawnLiving struct {
	EntityID  int32
	UUID      uuid.UUID
	Type      int32
	X, Y, Z   float64
	Yaw       int8
	Pitch     int8
	HeadPitch int8
}

// SpawnPlayer announces another player entity.
type SpawnPlayer struct {
	EntityID   int32
	PlayerUUID uuid.UUID
	X, Y, Z    float64
	Yaw        int8
	Pitch      int8
}

// BlockChange sets a single block to a new state.
type BlockChange struct {
	X, Y, Z int32
	StateID int32
}

// ChatMessage carries a JSON chat component.
type ChatMessage struct {
	JSON     string
	Position int8
	Sender   uuid.UUID
}

// KickDisconnect ends a play session.
type KickDisconnect struct {
	Reason string
}

// KeepAlive must be echoed back with the same id.
type KeepAlive struct {
	ID int64
}

// MapChunk carries a chunk column. Data holds the raw section bytes.
type MapChunk struct {
	X, Z      int32
	FullChunk bool
	BitMask   int32
	Data      []byte
}

// EntityRelMove moves an entity by fixed-point deltas (1/4096 block).
type EntityRelMove struct {
	EntityID   int32
	DX, DY, DZ int16
	OnGround   bool
}

// EntityMoveLook is EntityRelMove plus a new orientation.
type EntityMoveLook struct {
	EntityID   int32
	DX, DY, DZ int16
	Yaw        int8
	Pitch      int8
	OnGround   bool
}

// PlayerInfoEntry is one row of a player info update.
type PlayerInfoEntry struct {
	UUID        uuid.UUID
	Name        string
	DisplayName string
	Gamemode    int32
	Ping        int32
}

// PlayerInfo updates the tab list.
type PlayerInfo struct {
	Action  int32
	Players []PlayerInfoEntry
}

// PlayerPositionLook teleports the client's own player.
type PlayerPositionLook struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	Flags      byte
	TeleportID int32
}

// EntityDestroy removes entities.
type EntityDestroy struct {
	EntityIDs []int32
}

// EntityTeleport places an entity at an absolute position.
type EntityTeleport struct {
	EntityID int32
	X, Y, Z  float64
	Yaw      int8
	Pitch    int8
	OnGround bool
}

func (LoginDisconnect) Name() string    { return "disconnect" }
func (EncryptionRequest) Name() string  { return "encryption_begin" }
func (LoginSuccess) Name() string       { return "success" }
func (SetCompression) Name() string     { return "compress" }
func (LoginPluginRequest) Name() string { return "login_plugin_request" }
func (SpawnLiving) Name() string        { return "spawn_entity_living" }
func (SpawnPlayer) Name() string        { return "named_entity_spawn" }
func (BlockChange) Name() string        { return "block_change" }
func (ChatMessage) Name() string        { return "chat" }
func (KickDisconnect) Name() string     { return "kick_disconnect" }
func (KeepAlive) Name() string          { return "keep_alive" }
func (MapChunk) Name() string           { return "map_chunk" }
func (EntityRelMove) Name() string      { return "rel_entity_move" }
func (EntityMoveLook) Name() string     { return "entity_move_look" }
func (PlayerInfo) Name() string         { return "player_info" }
func (PlayerPositionLook) Name() string { return "position" }
func (EntityDestroy) Name() string      { return "entity_destroy" }
func (EntityTeleport) Name() string     { return "entity_teleport" }
