// Package network implements the downstream websocket listener and the
// per-client socket that feeds a session.
package network

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/messages"
)

const (
	// ReadTimeout is how long a client may stay silent, pongs included.
	ReadTimeout = 60 * time.Second
	// WriteTimeout bounds a single frame write.
	WriteTimeout = 5 * time.Second
	// PingInterval keeps idle clients inside ReadTimeout.
	PingInterval = 25 * time.Second

	// outboundQueue caps queued frames; outboundBytes caps their total size.
	outboundQueue = 256
	outboundBytes = 4 << 20
	inboundQueue  = 64
	maxFrameSize  = 1 << 20
)

// ErrSocketClosed is returned by Send after Close.
var ErrSocketClosed = errors.New("socket is closed")

// Socket wraps one downstream websocket. A reader goroutine decodes frames
// into Inbound and a writer goroutine drains the outbound queue; neither
// touches session state.
type Socket struct {
	id     string
	conn   *websocket.Conn
	logger zerolog.Logger

	out *frameQueue

	inbound chan messages.Inbound
	done    chan struct{}

	connectedAt  time.Time
	lastActivity atomic.Int64

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
}

// NewSocket starts the reader and writer for conn.
func NewSocket(id string, conn *websocket.Conn) *Socket {
	now := time.Now()
	s := &Socket{
		id:          id,
		conn:        conn,
		out:         newFrameQueue(outboundQueue, outboundBytes),
		inbound:     make(chan messages.Inbound, inboundQueue),
		done:        make(chan struct{}),
		connectedAt: now,
		logger: log.With().
			Str("component", "socket").
			Str("session", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	s.lastActivity.Store(now.UnixNano())

	conn.SetReadLimit(maxFrameSize)
	conn.SetPongHandler(func(string) error {
		s.touch()
		return conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	})

	go s.writeLoop()
	go s.readLoop()

	return s
}

// Send encodes and queues a message. It blocks while the queue is full,
// by frame count or by bytes.
func (s *Socket) Send(msgType string, data any) error {
	frame, err := messages.Encode(msgType, data)
	if err != nil {
		return err
	}
	return s.out.push(frame)
}

// Inbound returns decoded client frames. It is closed when the client
// goes away or the socket is closed.
func (s *Socket) Inbound() <-chan messages.Inbound {
	return s.inbound
}

// Close flushes queued frames, sends a close frame and releases the
// connection. Calling it again is a no-op.
func (s *Socket) Close() error {
	s.out.close()
	return nil
}

// Done is closed once the underlying connection is released.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

func (s *Socket) writeLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	defer close(s.done)

	failed := false

	for {
		select {
		case frame, ok := <-s.out.frames:
			if !ok {
				if !failed {
					_ = s.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(time.Second))
				}
				s.conn.Close()
				in, out := s.FrameCounts()
				s.logger.Debug().
					Uint64("frames_in", in).
					Uint64("frames_out", out).
					Dur("connected_for", time.Since(s.ConnectedAt())).
					Msg("socket closed")
				return
			}
			if failed {
				s.out.release(len(frame))
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			err := s.conn.WriteMessage(websocket.TextMessage, frame)
			s.out.release(len(frame))
			if err != nil {
				s.logger.Debug().Err(err).Msg("write failed, dropping further frames")
				failed = true
				s.conn.Close()
				continue
			}
			s.framesOut.Add(1)
		case <-ticker.C:
			if failed {
				continue
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout)); err != nil {
				failed = true
				s.conn.Close()
			}
		}
	}
}

func (s *Socket) readLoop() {
	defer close(s.inbound)

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		kind, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		s.touch()

		if kind != websocket.TextMessage {
			continue
		}

		msg, err := messages.DecodeEnvelope(frame)
		if err != nil {
			s.logger.Debug().Err(err).Msg("discarding malformed frame")
			continue
		}
		s.framesIn.Add(1)

		select {
		case s.inbound <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *Socket) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// ID returns the session id assigned at accept time.
func (s *Socket) ID() string {
	return s.id
}

// RemoteAddr returns the client address.
func (s *Socket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// ConnectedAt returns the time the socket was accepted.
func (s *Socket) ConnectedAt() time.Time {
	return s.connectedAt
}

// LastActivity returns the time of the last inbound frame or pong.
func (s *Socket) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// FrameCounts returns decoded inbound and written outbound frame totals.
func (s *Socket) FrameCounts() (in, out uint64) {
	return s.framesIn.Load(), s.framesOut.Load()
}

// SocketRegistry tracks live downstream sockets.
type SocketRegistry struct {
	mu      sync.RWMutex
	sockets map[string]*Socket
}

// NewSocketRegistry creates an empty registry.
func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{
		sockets: make(map[string]*Socket),
	}
}

// Register adds a socket. An existing socket with the same id is closed.
func (r *SocketRegistry) Register(s *Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sockets[s.id]; ok {
		existing.Close()
	}
	r.sockets[s.id] = s
	log.Debug().Str("session", s.id).Msg("socket registered")
}

// Unregister removes a socket without closing it.
func (r *SocketRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sockets[id]; ok {
		delete(r.sockets, id)
		log.Debug().Str("session", id).Msg("socket unregistered")
	}
}

// Get returns the socket for an id.
func (r *SocketRegistry) Get(id string) (*Socket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sockets[id]
	return s, ok
}

// Count returns the number of live sockets.
func (r *SocketRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sockets)
}

// CloseAll closes every socket.
func (r *SocketRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sockets {
		s.Close()
		delete(r.sockets, id)
	}
	log.Info().Msg("all sockets closed")
}

// CleanStale closes sockets idle for longer than timeout and returns how
// many were closed.
func (r *SocketRegistry) CleanStale(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleaned := 0
	cutoff := time.Now().Add(-timeout)

	for id, s := range r.sockets {
		if s.LastActivity().Before(cutoff) {
			s.Close()
			delete(r.sockets, id)
			cleaned++
			log.Warn().
				Str("session", id).
				Time("connected_at", s.ConnectedAt()).
				Time("last_activity", s.LastActivity()).
				Msg("cleaned stale socket")
		}
	}

	return cleaned
}

// String implements fmt.Stringer for log fields.
func (s *Socket) String() string {
	return fmt.Sprintf("socket[%s %s]", s.id, s.RemoteAddr())
}
