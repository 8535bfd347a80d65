package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/messages"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/protocol"
)

// onMessage binds a downstream message to T before calling fn.
func onMessage[T any](fn func(ctx context.Context, msg T) error) downstreamHandler {
	return func(ctx context.Context, in messages.Inbound) error {
		msg, err := messages.Bind[T](in)
		if err != nil {
			return err
		}
		return fn(ctx, msg)
	}
}

// onPacket narrows an upstream packet to T before calling fn.
func onPacket[T protocol.Packet](fn func(pkt T) error) upstreamHandler {
	return func(p protocol.Packet) error {
		pkt, ok := p.(T)
		if !ok {
			return fmt.Errorf("unexpected packet type %T for %s", p, p.Name())
		}
		return fn(pkt)
	}
}

func (s *Session) buildDispatch() {
	s.downstreamHandlers = map[string]downstreamHandler{
		messages.TypeLoginResponse:        onMessage(s.onLoginResponse),
		messages.TypeActionMessage:        onMessage(s.onActionMessage),
		messages.TypeActionMove:           onMessage(s.onActionMove),
		messages.TypeActionLook:           onMessage(s.onActionLook),
		messages.TypeActionMoveLook:       onMessage(s.onActionMoveLook),
		messages.TypeActionClick:          onMessage(s.onActionClick),
		messages.TypeActionClickEntity:    onMessage(s.onActionClickEntity),
		messages.TypeActionBlockBreak:     s.ignoreAction,
		messages.TypeActionBlockPlace:     s.ignoreAction,
		messages.TypeActionInventoryClick: s.ignoreAction,
	}

	s.upstreamHandlers = map[string]upstreamHandler{
		protocol.LoginPluginRequest{}.Name(): onPacket(s.onLoginPluginRequest),
		protocol.LoginSuccess{}.Name():       onPacket(s.onUpstreamLogin),
		protocol.LoginDisconnect{}.Name():    onPacket(s.onLoginDisconnect),
		protocol.KickDisconnect{}.Name():     onPacket(s.onKickDisconnect),
		protocol.ChatMessage{}.Name():        onPacket(s.onChat),
		protocol.PlayerPositionLook{}.Name(): onPacket(s.onPosition),
		protocol.PlayerInfo{}.Name():         onPacket(s.onPlayerInfo),
		protocol.BlockChange{}.Name():        onPacket(s.onBlockChange),
		protocol.SpawnPlayer{}.Name():        onPacket(s.onSpawnPlayer),
		protocol.SpawnLiving{}.Name():        onPacket(s.onSpawnLiving),
		protocol.EntityRelMove{}.Name():      onPacket(s.onEntityRelMove),
		protocol.EntityMoveLook{}.Name():     onPacket(s.onEntityMoveLook),
		protocol.EntityTeleport{}.Name():     onPacket(s.onEntityTeleport),
		protocol.EntityDestroy{}.Name():      onPacket(s.onEntityDestroy),
		protocol.MapChunk{}.Name():           onPacket(s.onMapChunk),
	}
}

// ---- Downstream handlers ----

func (s *Session) onActionMessage(_ context.Context, msg messages.ActionMessage) error {
	return s.write(protocol.ChatSend{Message: msg.Message})
}

func (s *Session) onActionMove(_ context.Context, msg messages.ActionMove) error {
	return s.write(protocol.Position{X: msg.X, Y: msg.Y, Z: msg.Z, OnGround: true})
}

func (s *Session) onActionLook(_ context.Context, msg messages.ActionLook) error {
	return s.write(protocol.Look{
		Yaw:      float32(msg.Rotation),
		Pitch:    float32(msg.Pitch),
		OnGround: true,
	})
}

func (s *Session) onActionMoveLook(_ context.Context, msg messages.ActionMoveLook) error {
	return s.write(protocol.PositionLook{
		X:        msg.X,
		Y:        msg.Y,
		Z:        msg.Z,
		Yaw:      float32(msg.Rotation),
		Pitch:    float32(msg.Pitch),
		OnGround: true,
	})
}

func (s *Session) onActionClick(_ context.Context, _ messages.ActionClick) error {
	return s.write(protocol.ArmAnimation{Hand: 0})
}

// onActionClickEntity swings the arm and, when the entity id parses,
// attacks on a left click or interacts otherwise.
func (s *Session) onActionClickEntity(_ context.Context, msg messages.ActionClickEntity) error {
	if err := s.write(protocol.ArmAnimation{Hand: 0}); err != nil {
		return err
	}

	target, err := strconv.ParseInt(msg.UUID, 10, 32)
	if err != nil {
		return fmt.Errorf("failed to parse entity id %q: %w", msg.UUID, err)
	}

	mouse := protocol.InteractUse
	if msg.Type == "left" {
		mouse = protocol.InteractAttack
	}
	return s.write(protocol.UseEntity{
		Target:   int32(target),
		Mouse:    mouse,
		Hand:     0,
		Sneaking: false,
	})
}

func (s *Session) ignoreAction(_ context.Context, msg messages.Inbound) error {
	s.logger.Trace().Str("type", msg.Type).Msg("action not forwarded")
	return nil
}

// ---- Upstream handlers ----

func (s *Session) onLoginPluginRequest(pkt protocol.LoginPluginRequest) error {
	return s.write(protocol.LoginPluginResponse{MessageID: pkt.MessageID, Success: false})
}

func (s *Session) onUpstreamLogin(pkt protocol.LoginSuccess) error {
	s.logger.Debug().
		Str("uuid", pkt.UUID.String()).
		Str("username", pkt.Username).
		Msg("upstream accepted login")
	return nil
}

func (s *Session) onLoginDisconnect(pkt protocol.LoginDisconnect) error {
	s.kick(events.CloseUpstreamEnded, protocol.ReasonText(pkt.Reason))
	return nil
}

func (s *Session) onKickDisconnect(pkt protocol.KickDisconnect) error {
	s.kick(events.CloseUpstreamEnded, protocol.ReasonText(pkt.Reason))
	return nil
}

func (s *Session) onChat(pkt protocol.ChatMessage) error {
	msg, ok := translateChat(pkt.JSON)
	if !ok {
		return nil
	}
	s.send(messages.TypeChatMessage, msg)
	return nil
}

func (s *Session) onPosition(pkt protocol.PlayerPositionLook) error {
	if err := s.write(protocol.TeleportConfirm{TeleportID: pkt.TeleportID}); err != nil {
		return err
	}
	s.send(messages.TypePlayerTeleport, messages.PlayerTeleport{X: pkt.X, Y: pkt.Y, Z: pkt.Z})
	return nil
}

func (s *Session) onPlayerInfo(pkt protocol.PlayerInfo) error {
	s.tracker.UpdatePlayers(pkt)
	return nil
}

func (s *Session) onBlockChange(pkt protocol.BlockChange) error {
	s.send(messages.TypeWorldBlockUpdate, messages.WorldBlockUpdate{
		X:  pkt.X,
		Y:  pkt.Y,
		Z:  pkt.Z,
		ID: s.deps.Registry.StateRawID(pkt.StateID),
	})
	return nil
}

func (s *Session) onSpawnPlayer(pkt protocol.SpawnPlayer) error {
	create := s.tracker.SpawnNamed(pkt.EntityID, [3]float64{pkt.X, pkt.Y, pkt.Z}, pkt.PlayerUUID)
	s.entitySpawned()
	s.send(messages.TypeEntityCreate, create)
	return nil
}

func (s *Session) onSpawnLiving(pkt protocol.SpawnLiving) error {
	create, visible := s.tracker.SpawnLiving(pkt.EntityID, pkt.Type, [3]float64{pkt.X, pkt.Y, pkt.Z})
	s.entitySpawned()
	if visible {
		s.send(messages.TypeEntityCreate, create)
	}
	return nil
}

func (s *Session) onEntityRelMove(pkt protocol.EntityRelMove) error {
	if move, ok := s.tracker.ApplyRelativeMove(pkt.EntityID, pkt.DX, pkt.DY, pkt.DZ); ok {
		s.send(messages.TypeEntityMove, move)
	}
	return nil
}

func (s *Session) onEntityMoveLook(pkt protocol.EntityMoveLook) error {
	if move, ok := s.tracker.ApplyRelativeMove(pkt.EntityID, pkt.DX, pkt.DY, pkt.DZ); ok {
		s.send(messages.TypeEntityMove, move)
	}
	return nil
}

func (s *Session) onEntityTeleport(pkt protocol.EntityTeleport) error {
	if move, ok := s.tracker.ApplyTeleport(pkt.EntityID, [3]float64{pkt.X, pkt.Y, pkt.Z}); ok {
		s.send(messages.TypeEntityMove, move)
	}
	return nil
}

func (s *Session) onEntityDestroy(pkt protocol.EntityDestroy) error {
	for _, remove := range s.tracker.Destroy(pkt.EntityIDs) {
		s.send(messages.TypeEntityRemove, remove)
	}
	s.entities.Store(int64(s.tracker.Len()))
	return nil
}

func (s *Session) onMapChunk(pkt protocol.MapChunk) error {
	load, err := s.assembler.Apply(pkt)
	if err != nil {
		return err
	}
	if load == nil {
		return nil
	}
	s.send(messages.TypeWorldChunkLoad, *load)
	s.chunksSent.Add(1)
	s.deps.Recorder.ChunkFlushed(len(load.Data))
	return nil
}

func (s *Session) entitySpawned() {
	s.entitiesSeen++
	s.entities.Store(int64(s.tracker.Len()))
}
