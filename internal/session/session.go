// Package session translates between one voxel client and one upstream
// block-game connection.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/messages"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/protocol"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/registry"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/upstream"
)

const (
	// DownstreamProtocol is the voxel client protocol revision spoken.
	DownstreamProtocol = 2
	// Software is the server software tag announced in LoginRequest.
	Software = "VoxelCraft"
)

// Kick reasons shown to clients.
const (
	ReasonTimeout              = "Timeout!"
	ReasonFull                 = "Server is full!"
	ReasonInvalidNickname      = "Invalid nickname!"
	ReasonShutdown             = "Server is shutting down"
	ReasonUpstreamClosed       = "Disconnected from server"
	reasonUpstreamFailedPrefix = "Upstream connection failed: "
)

// Downstream is the client side of a session.
type Downstream interface {
	Send(msgType string, data any) error
	Inbound() <-chan messages.Inbound
	Close() error
}

// Upstream is the server side of a session.
type Upstream interface {
	Write(p protocol.Serverbound) error
	Packets() <-chan protocol.Packet
	Err() error
	Close() error
}

// Dialer opens an upstream connection.
type Dialer func(ctx context.Context, opts upstream.Options) (Upstream, error)

// DialUpstream dials the block-game server over TCP.
func DialUpstream(ctx context.Context, opts upstream.Options) (Upstream, error) {
	c, err := upstream.Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Slots accounts logged-in sessions against the player limit.
type Slots interface {
	LoggedIn() int
	Acquire() bool
	Release()
}

// Recorder receives traffic observations. Implementations must be safe
// for concurrent use.
type Recorder interface {
	MessageReceived(msgType string)
	PacketReceived(name string)
	ChunkFlushed(size int)
}

type nopRecorder struct{}

func (nopRecorder) MessageReceived(string) {}
func (nopRecorder) PacketReceived(string)  {}
func (nopRecorder) ChunkFlushed(int)       {}

// Deps holds the shared, read-only collaborators of every session.
type Deps struct {
	Config   *config.Config
	Registry *registry.Registry
	Movement messages.Movement
	Dial     Dialer
	Slots    Slots
	Bus      *events.EventBus
	Recorder Recorder

	// After creates the login timer. Defaults to time.After.
	After func(time.Duration) <-chan time.Time
}

// Info is a point-in-time view of a session, safe to read from any
// goroutine.
type Info struct {
	ID               string              `json:"id"`
	RemoteAddr       string              `json:"remote_addr"`
	Phase            events.SessionPhase `json:"phase"`
	DownstreamName   string              `json:"downstream_name"`
	UpstreamUsername string              `json:"upstream_username"`
	OpenedAt         time.Time           `json:"opened_at"`
	LoggedInAt       time.Time           `json:"logged_in_at"`
	PacketsUp        uint64              `json:"packets_up"`
	PacketsDown      uint64              `json:"packets_down"`
	ChunksSent       uint64              `json:"chunks_sent"`
	Entities         int                 `json:"entities"`
}

type downstreamHandler func(ctx context.Context, msg messages.Inbound) error
type upstreamHandler func(pkt protocol.Packet) error

// Session runs one client. Every handler executes on the goroutine that
// calls Run, so the fields below the lifecycle block need no locking.
type Session struct {
	id     string
	remote string
	deps   Deps
	down   Downstream
	logger zerolog.Logger

	kickCh chan string
	done   chan struct{}

	// Owned by the Run goroutine.
	up           Upstream
	upPackets    <-chan protocol.Packet
	loginTimer   <-chan time.Time
	loginPending bool
	acquired     bool
	closed       bool
	tracker      *Tracker
	assembler    *Assembler
	entitiesSeen int

	downstreamHandlers map[string]downstreamHandler
	upstreamHandlers   map[string]upstreamHandler

	mu   sync.RWMutex
	info Info

	packetsUp   atomic.Uint64
	packetsDown atomic.Uint64
	chunksSent  atomic.Uint64
	entities    atomic.Int64
}

// New creates a session for an accepted client.
func New(id, remoteAddr string, down Downstream, deps Deps) *Session {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.After == nil {
		deps.After = time.After
	}
	if deps.Dial == nil {
		deps.Dial = DialUpstream
	}

	logger := log.With().
		Str("component", "session").
		Str("session", id).
		Str("remote", remoteAddr).
		Logger()

	s := &Session{
		id:        id,
		remote:    remoteAddr,
		deps:      deps,
		down:      down,
		logger:    logger,
		kickCh:    make(chan string, 1),
		done:      make(chan struct{}),
		tracker:   NewTracker(),
		assembler: NewAssembler(deps.Registry, deps.Config.ChunkCompression(), logger),
		info: Info{
			ID:         id,
			RemoteAddr: remoteAddr,
			Phase:      events.PhaseAwaitingLogin,
			OpenedAt:   time.Now(),
		},
	}
	s.buildDispatch()
	return s
}

// Run drives the session until either side closes or ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	s.emit(events.EventSessionOpened, events.SessionOpenedPayload{
		SessionID:  s.id,
		RemoteAddr: s.remote,
		OpenedAt:   s.info.OpenedAt,
	})

	name, motd, maxPlayers := s.deps.Config.Listing()
	s.send(messages.TypeLoginRequest, messages.LoginRequest{
		Name:          name,
		Motd:          motd,
		Protocol:      DownstreamProtocol,
		MaxPlayers:    maxPlayers,
		NumberPlayers: s.deps.Slots.LoggedIn(),
		Software:      Software,
	})

	s.loginPending = true
	s.loginTimer = s.deps.After(s.deps.Config.LoginTimeout())

	inbound := s.down.Inbound()

	for !s.closed {
		select {
		case <-ctx.Done():
			s.kick(events.CloseShutdown, ReasonShutdown)

		case msg, ok := <-inbound:
			if !ok {
				s.close(events.CloseClientLeft, "")
				continue
			}
			s.handleDownstream(ctx, msg)

		case pkt, ok := <-s.upPackets:
			if !ok {
				s.upstreamEnded()
				continue
			}
			s.handleUpstream(pkt)

		case <-s.loginTimer:
			s.loginTimer = nil
			if s.loginPending {
				s.kick(events.CloseLoginTimeout, ReasonTimeout)
			}

		case reason := <-s.kickCh:
			s.kick(events.CloseKicked, reason)
		}
	}
}

// Kick asks the session to disconnect its client. It returns false when
// the session has already ended or a kick is pending.
func (s *Session) Kick(reason string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.kickCh <- reason:
		return true
	default:
		return false
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Done is closed after teardown.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	info := s.info
	s.mu.RUnlock()

	info.PacketsUp = s.packetsUp.Load()
	info.PacketsDown = s.packetsDown.Load()
	info.ChunksSent = s.chunksSent.Load()
	info.Entities = int(s.entities.Load())
	return info
}

func (s *Session) setPhase(phase events.SessionPhase) {
	s.mu.Lock()
	s.info.Phase = phase
	if phase == events.PhasePlaying {
		s.info.LoggedInAt = time.Now()
	}
	s.mu.Unlock()
}

func (s *Session) handleDownstream(ctx context.Context, msg messages.Inbound) {
	s.deps.Recorder.MessageReceived(msg.Type)

	h, ok := s.downstreamHandlers[msg.Type]
	if !ok {
		s.logger.Trace().Str("type", msg.Type).Msg("ignoring unknown downstream message")
		return
	}
	if err := h(ctx, msg); err != nil {
		s.logger.Debug().Err(err).Str("type", msg.Type).Msg("dropping downstream message")
	}
}

func (s *Session) handleUpstream(pkt protocol.Packet) {
	name := pkt.Name()
	s.deps.Recorder.PacketReceived(name)

	h, ok := s.upstreamHandlers[name]
	if !ok {
		s.logger.Trace().Str("packet", name).Msg("no handler for upstream packet")
		return
	}
	if err := h(pkt); err != nil {
		s.logger.Debug().Err(err).Str("packet", name).Msg("dropping upstream packet")
	}
}

func (s *Session) onLoginResponse(ctx context.Context, resp messages.LoginResponse) error {
	if !s.loginPending {
		s.logger.Debug().Msg("ignoring repeated login response")
		return nil
	}
	s.loginPending = false
	s.loginTimer = nil

	if !s.deps.Slots.Acquire() {
		s.kick(events.CloseRejected, ReasonFull)
		return nil
	}
	s.acquired = true

	target := s.deps.Config.Upstream()
	username, password := s.deps.Config.Credentials()
	if username == "" {
		if !config.ValidNickname(resp.Username) {
			s.kick(events.CloseRejected, ReasonInvalidNickname)
			return nil
		}
		username = resp.Username
	}

	s.mu.Lock()
	s.info.DownstreamName = resp.Username
	s.info.UpstreamUsername = username
	s.mu.Unlock()

	s.send(messages.TypeLoginSuccess, messages.LoginSuccess{
		XPos:             0,
		YPos:             255,
		ZPos:             0,
		Inventory:        messages.NewBlob(messages.EmptyInventory(27)),
		BlocksDef:        messages.NewBlob(s.deps.Registry.Definitions()),
		ItemsDef:         messages.NewBlob(map[string]any{}),
		Armor:            messages.NewBlob(messages.EmptyInventory(0)),
		AllowCheats:      false,
		AllowCustomSkins: true,
		Movement:         messages.NewBlob(s.deps.Movement),
	})
	s.send(messages.TypePlayerHealth, messages.PlayerHealth{Value: 0})
	s.send(messages.TypePlayerEntity, messages.PlayerEntity{UUID: "0"})

	s.setPhase(events.PhaseConnecting)
	s.logger.Info().
		Str("name", resp.Username).
		Str("username", username).
		Str("upstream", s.deps.Config.UpstreamAddr()).
		Msg("client logged in, connecting upstream")

	up, err := s.deps.Dial(ctx, upstream.Options{
		Host:     target.Address,
		Port:     target.Port,
		Username: username,
		Password: password,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("upstream dial failed")
		s.kick(events.CloseUpstreamFailed, reasonUpstreamFailedPrefix+err.Error())
		return nil
	}

	s.up = up
	s.upPackets = up.Packets()
	s.setPhase(events.PhasePlaying)

	s.emit(events.EventSessionLoggedIn, events.SessionLoggedInPayload{
		SessionID:        s.id,
		DownstreamName:   resp.Username,
		UpstreamUsername: username,
		UpstreamAddr:     s.deps.Config.UpstreamAddr(),
	})
	return nil
}

func (s *Session) upstreamEnded() {
	s.upPackets = nil
	if err := s.up.Err(); err != nil {
		s.kick(events.CloseUpstreamFailed, reasonUpstreamFailedPrefix+err.Error())
		return
	}
	s.kick(events.CloseUpstreamEnded, ReasonUpstreamClosed)
}

// send delivers a message downstream. Failures mean the client is gone,
// which the inbound channel reports on its own.
func (s *Session) send(msgType string, data any) {
	if err := s.down.Send(msgType, data); err != nil {
		s.logger.Trace().Err(err).Str("type", msgType).Msg("downstream send failed")
		return
	}
	s.packetsDown.Add(1)
}

// write forwards a packet upstream. Before the upstream exists the packet
// is dropped.
func (s *Session) write(p protocol.Serverbound) error {
	if s.up == nil {
		s.logger.Trace().Str("packet", p.Name()).Msg("no upstream yet, dropping packet")
		return nil
	}
	if err := s.up.Write(p); err != nil {
		return err
	}
	s.packetsUp.Add(1)
	return nil
}

func (s *Session) kick(reason events.CloseReason, text string) {
	if s.closed {
		return
	}
	s.send(messages.TypePlayerKick, messages.PlayerKick{Reason: text})
	s.close(reason, text)
}

// close tears the session down exactly once.
func (s *Session) close(reason events.CloseReason, detail string) {
	if s.closed {
		return
	}
	s.closed = true
	s.loginPending = false
	s.loginTimer = nil

	if s.up != nil {
		s.up.Close()
	}
	s.down.Close()

	if s.acquired {
		s.deps.Slots.Release()
		s.acquired = false
	}
	s.setPhase(events.PhaseClosed)

	info := s.Info()
	s.logger.Info().
		Str("reason", string(reason)).
		Str("detail", detail).
		Uint64("packets_up", info.PacketsUp).
		Uint64("packets_down", info.PacketsDown).
		Uint64("chunks_sent", info.ChunksSent).
		Dur("duration", time.Since(info.OpenedAt)).
		Msg("session closed")

	s.emit(events.EventSessionClosed, events.SessionClosedPayload{
		SessionID:    s.id,
		Reason:       reason,
		Detail:       detail,
		ClosedAt:     time.Now(),
		PacketsUp:    info.PacketsUp,
		PacketsDown:  info.PacketsDown,
		ChunksSent:   info.ChunksSent,
		EntitiesSeen: s.entitiesSeen,
	})

	close(s.done)
}

func (s *Session) emit(eventType events.EventType, payload interface{}) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Emit(context.Background(), events.Event{
		Type:    eventType,
		Source:  "session",
		Payload: payload,
	})
}
