package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errVarIntTooBig = errors.New("varint is too big")

// Parser decodes clientbound packets. Packets the proxy has no use for are
// returned as nil without error.
type Parser struct {
	logger zerolog.Logger
}

// NewParser creates a parser for clientbound packets.
func NewParser() *Parser {
	return &Parser{
		logger: log.With().Str("component", "mc_parser").Logger(),
	}
}

// ParseLogin decodes a login-state packet (id followed by body).
func (p *Parser) ParseLogin(data []byte) (Packet, error) {
	r := bytes.NewReader(data)
	id, err := ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read packet id: %w", err)
	}

	switch id {
	case PktLoginDisconnect:
		reason, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse login disconnect: %w", err)
		}
		return LoginDisconnect{Reason: reason}, nil
	case PktEncryptionRequest:
		serverID, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse encryption request: %w", err)
		}
		return EncryptionRequest{ServerID: serverID}, nil
	case PktLoginSuccess:
		return p.parseLoginSuccess(r)
	case PktSetCompression:
		threshold, err := ReadVarInt(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse set compression: %w", err)
		}
		return SetCompression{Threshold: threshold}, nil
	case PktLoginPluginRequest:
		return p.parseLoginPluginRequest(r)
	default:
		p.logger.Warn().Int32("id", id).Msg("unknown login packet")
		return nil, fmt.Errorf("unknown login packet: 0x%02X", id)
	}
}

// ParsePlay decodes a play-state packet (id followed by body).
func (p *Parser) ParsePlay(data []byte) (Packet, error) {
	r := bytes.NewReader(data)
	id, err := ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read packet id: %w", err)
	}

	switch id {
	case PktSpawnLiving:
		return p.parseSpawnLiving(r)
	case PktSpawnPlayer:
		return p.parseSpawnPlayer(r)
	case PktBlockChange:
		return p.parseBlockChange(r)
	case PktChatMessage:
		return p.parseChatMessage(r)
	case PktKickDisconnect:
		reason, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse kick disconnect: %w", err)
		}
		return KickDisconnect{Reason: reason}, nil
	case PktKeepAlive:
		var ka KeepAlive
		if err := binary.Read(r, binary.BigEndian, &ka.ID); err != nil {
			return nil, fmt.Errorf("failed to parse keep alive: %w", err)
		}
		return ka, nil
	case PktChunkData:
		return p.parseChunkData(r)
	case PktEntityPosition:
		return p.parseEntityRelMove(r)
	case PktEntityPosRot:
		return p.parseEntityMoveLook(r)
	case PktPlayerInfo:
		return p.parsePlayerInfo(r)
	case PktPlayerPositionLook:
		return p.parsePlayerPositionLook(r)
	case PktDestroyEntities:
		return p.parseEntityDestroy(r)
	case PktEntityTeleport:
		return p.parseEntityTeleport(r)
	default:
		p.logger.Trace().
			Int32("id", id).
			Int("payload_len", r.Len()).
			Msg("unhandled play packet")
		return nil, nil
	}
}

func (p *Parser) parseLoginSuccess(r *bytes.Reader) (Packet, error) {
	var pkt LoginSuccess
	var err error
	if pkt.UUID, err = readUUID(r); err != nil {
		return nil, fmt.Errorf("failed to parse login success uuid: %w", err)
	}
	if pkt.Username, err = readString(r); err != nil {
		return nil, fmt.Errorf("failed to parse login success username: %w", err)
	}
	return pkt, nil
}

func (p *Parser) parseLoginPluginRequest(r *bytes.Reader) (Packet, error) {
	var pkt LoginPluginRequest
	var err error
	if pkt.MessageID, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("failed to parse plugin request id: %w", err)
	}
	if pkt.Channel, err = readString(r); err != nil {
		return nil, fmt.Errorf("failed to parse plugin request channel: %w", err)
	}
	pkt.Data, _ = io.ReadAll(r)
	return pkt, nil
}

// parseSpawnLiving handles 0x02.
// Format: [id:varint][uuid:16][type:varint][x,y,z:double][yaw,pitch,head:angle][vx,vy,vz:short]
func (p *Parser) parseSpawnLiving(r *bytes.Reader) (Packet, error) {
	var pkt SpawnLiving
	var err error
	if pkt.EntityID, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("failed to parse spawn living id: %w", err)
	}
	if pkt.UUID, err = readUUID(r); err != nil {
		return nil, fmt.Errorf("failed to parse spawn living uuid: %w", err)
	}
	if pkt.Type, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("failed to parse spawn living type: %w", err)
	}
	if err := readFields(r, &pkt.X, &pkt.Y, &pkt.Z, &pkt.Yaw, &pkt.Pitch, &pkt.HeadPitch); err != nil {
		return nil, fmt.Errorf("failed to parse spawn living position: %w", err)
	}
	return pkt, nil
}

// parseSpawnPlayer handles 0x04.
// Format: [id:varint][uuid:16][x,y,z:double][yaw,pitch:angle]
func (p *Parser) parseSpawnPlayer(r *bytes.Reader) (Packet, error) {
	var pkt SpawnPlayer
	var err error
	if pkt.EntityID, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("failed to parse spawn player id: %w", err)
	}
	if pkt.PlayerUUID, err = readUUID(r); err != nil {
		return nil, fmt.Errorf("failed to parse spawn player uuid: %w", err)
	}
	if err := readFields(r, &pkt.X, &pkt.Y, &pkt.Z, &pkt.Yaw, &pkt.Pitch); err != nil {
		return nil, fmt.Errorf("failed to parse spawn player position: %w", err)
	}
	return pkt, nil
}

// parseBlockChange handles 0x0B.
// Format: [location:position][state:varint]
func (p *Parser) parseBlockChange(r *bytes.Reader) (Packet, error) {
	var packed int64
	if err := binary.Read(r, binary.BigEndian, &packed); err != nil {
		return nil, fmt.Errorf("failed to parse block change location: %w", err)
	}
	state, err := ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse block change state: %w", err)
	}
	x, y, z := DecodePosition(packed)
	return BlockChange{X: x, Y: y, Z: z, StateID: state}, nil
}

// parseChatMessage handles 0x0E.
// Format: [json:string][position:byte][sender:uuid]
func (p *Parser) parseChatMessage(r *bytes.Reader) (Packet, error) {
	var pkt ChatMessage
	var err error
	if pkt.JSON, err = readString(r); err != nil {
		return nil, fmt.Errorf("failed to parse chat json: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &pkt.Position); err != nil {
		return nil, fmt.Errorf("failed to parse chat position: %w", err)
	}
	if pkt.Sender, err = readUUID(r); err != nil {
		return nil, fmt.Errorf("failed to parse chat sender: %w", err)
	}
	return pkt, nil
}

// parseChunkData handles 0x20. Block entities after the section data are
// not decoded.
// Format: [x,z:int][full:bool][mask:varint][heightmaps:nbt]
//
//	[biomes:varint count + varints, full only][size:varint][data]
func (p *Parser) parseChunkData(r *bytes.Reader) (Packet, error) {
	var pkt MapChunk
	if err := readFields(r, &pkt.X, &pkt.Z, &pkt.FullChunk); err != nil {
		return nil, fmt.Errorf("failed to parse chunk coordinates: %w", err)
	}

	var err error
	if pkt.BitMask, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("failed to parse chunk bit mask: %w", err)
	}

	if err := skipNBT(r); err != nil {
		return nil, fmt.Errorf("failed to skip chunk heightmaps: %w", err)
	}

	if pkt.FullChunk {
		count, err := ReadVarInt(r)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("failed to parse chunk biome count: %w", errOr(err, "negative count"))
		}
		for i := int32(0); i < count; i++ {
			if _, err := ReadVarInt(r); err != nil {
				return nil, fmt.Errorf("failed to parse chunk biomes: %w", err)
			}
		}
	}

	size, err := ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunk data size: %w", err)
	}
	if pkt.Data, err = readN(r, size); err != nil {
		return nil, fmt.Errorf("failed to read chunk data: %w", err)
	}

	return pkt, nil
}

// parseEntityRelMove handles 0x27.
func (p *Parser) parseEntityRelMove(r *bytes.Reader) (Packet, error) {
	var pkt EntityRelMove
	var err error
	if pkt.EntityID, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("failed to parse entity move id: %w", err)
	}
	if err := readFields(r, &pkt.DX, &pkt.DY, &pkt.DZ, &pkt.OnGround); err != nil {
		return nil, fmt.Errorf("failed to parse entity move delta: %w", err)
	}
	return pkt, nil
}

// parseEntityMoveLook handles 0x28.
func (p *Parser) parseEntityMoveLook(r *bytes.Reader) (Packet, error) {
	var pkt EntityMoveLook
	var err error
	if pkt.EntityID, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("failed to parse entity move look id: %w", err)
	}
	if err := readFields(r, &pkt.DX, &pkt.DY, &pkt.DZ, &pkt.Yaw, &pkt.Pitch, &pkt.OnGround); err != nil {
		return nil, fmt.Errorf("failed to parse entity move look delta: %w", err)
	}
	return pkt, nil
}

// parsePlayerInfo handles 0x32. Only the add action carries names; the
// other actions are decoded far enough to stay aligned.
func (p *Parser) parsePlayerInfo(r *bytes.Reader) (Packet, error) {
	var pkt PlayerInfo
	var err error
	if pkt.Action, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("failed to parse player info action: %w", err)
	}
	count, err := ReadVarInt(r)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("failed to parse player info count: %w", errOr(err, "negative count"))
	}

	for i := int32(0); i < count; i++ {
		var entry PlayerInfoEntry
		if entry.UUID, err = readUUID(r); err != nil {
			return nil, fmt.Errorf("failed to parse player info uuid: %w", err)
		}

		switch pkt.Action {
		case PlayerInfoAdd:
			if err := p.parsePlayerInfoAdd(r, &entry); err != nil {
				return nil, err
			}
		case PlayerInfoUpdateGamemode:
			if entry.Gamemode, err = ReadVarInt(r); err != nil {
				return nil, fmt.Errorf("failed to parse player info gamemode: %w", err)
			}
		case PlayerInfoUpdateLatency:
			if entry.Ping, err = ReadVarInt(r); err != nil {
				return nil, fmt.Errorf("failed to parse player info ping: %w", err)
			}
		case PlayerInfoUpdateDisplayName:
			if entry.DisplayName, err = readOptionalString(r); err != nil {
				return nil, fmt.Errorf("failed to parse player info display name: %w", err)
			}
		case PlayerInfoRemove:
		default:
			return nil, fmt.Errorf("unknown player info action: %d", pkt.Action)
		}

		pkt.Players = append(pkt.Players, entry)
	}

	return pkt, nil
}

func (p *Parser) parsePlayerInfoAdd(r *bytes.Reader, entry *PlayerInfoEntry) error {
	var err error
	if entry.Name, err = readString(r); err != nil {
		return fmt.Errorf("failed to parse player info name: %w", err)
	}

	props, err := ReadVarInt(r)
	if err != nil || props < 0 {
		return fmt.Errorf("failed to parse player info properties: %w", errOr(err, "negative count"))
	}
	for j := int32(0); j < props; j++ {
		if _, err := readString(r); err != nil {
			return fmt.Errorf("failed to parse property name: %w", err)
		}
		if _, err := readString(r); err != nil {
			return fmt.Errorf("failed to parse property value: %w", err)
		}
		if _, err := readOptionalString(r); err != nil {
			return fmt.Errorf("failed to parse property signature: %w", err)
		}
	}

	if entry.Gamemode, err = ReadVarInt(r); err != nil {
		return fmt.Errorf("failed to parse player info gamemode: %w", err)
	}
	if entry.Ping, err = ReadVarInt(r); err != nil {
		return fmt.Errorf("failed to parse player info ping: %w", err)
	}
	if entry.DisplayName, err = readOptionalString(r); err != nil {
		return fmt.Errorf("failed to parse player info display name: %w", err)
	}
	return nil
}

// parsePlayerPositionLook handles 0x34.
func (p *Parser) parsePlayerPositionLook(r *bytes.Reader) (Packet, error) {
	var pkt PlayerPositionLook
	if err := readFields(r, &pkt.X, &pkt.Y, &pkt.Z, &pkt.Yaw, &pkt.Pitch, &pkt.Flags); err != nil {
		return nil, fmt.Errorf("failed to parse player position: %w", err)
	}
	var err error
	if pkt.TeleportID, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("failed to parse teleport id: %w", err)
	}
	return pkt, nil
}

// parseEntityDestroy handles 0x36.
func (p *Parser) parseEntityDestroy(r *bytes.Reader) (Packet, error) {
	count, err := ReadVarInt(r)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("failed to parse destroy count: %w", errOr(err, "negative count"))
	}
	if int(count) > r.Len() {
		return nil, fmt.Errorf("failed to parse destroy count: %d exceeds payload", count)
	}

	ids := make([]int32, 0, count)
	for i := int32(0); i < count; i++ {
		id, err := ReadVarInt(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse destroyed entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return EntityDestroy{EntityIDs: ids}, nil
}

// parseEntityTeleport handles 0x56.
func (p *Parser) parseEntityTeleport(r *bytes.Reader) (Packet, error) {
	var pkt EntityTeleport
	var err error
	if pkt.EntityID, err = ReadVarInt(r); err != nil {
		return nil, fmt.Errorf("failed to parse teleport entity id: %w", err)
	}
	if err := readFields(r, &pkt.X, &pkt.Y, &pkt.Z, &pkt.Yaw, &pkt.Pitch, &pkt.OnGround); err != nil {
		return nil, fmt.Errorf("failed to parse teleport position: %w", err)
	}
	return pkt, nil
}

// ---- Primitive readers ----

// ReadVarInt reads a varint of at most 5 bytes.
func ReadVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, errVarIntTooBig
}

// DecodePosition unpacks a block position long into x, y, z.
func DecodePosition(v int64) (x, y, z int32) {
	x = int32(v >> 38)
	y = int32(v << 52 >> 52)
	z = int32(v << 26 >> 38)
	return x, y, z
}

// readFields reads fixed-size big-endian values in order.
func readFields(r *bytes.Reader, fields ...interface{}) error {
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

// readString reads a varint length-prefixed string.
func readString(r *bytes.Reader) (string, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return "", err
	}
	buf, err := readN(r, n)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// readOptionalString reads a bool-prefixed string.
func readOptionalString(r *bytes.Reader) (string, error) {
	present, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if present == 0 {
		return "", nil
	}
	return readString(r)
}

func readUUID(r *bytes.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func readN(r *bytes.Reader, n int32) ([]byte, error) {
	if n < 0 || int(n) > r.Len() {
		return nil, fmt.Errorf("length %d out of range (remaining %d)", n, r.Len())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}
