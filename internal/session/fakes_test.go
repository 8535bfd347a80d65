package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/messages"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/protocol"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/registry"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/upstream"
)

type sentMessage struct {
	Type string
	Data any
}

type fakeDownstream struct {
	mu      sync.Mutex
	sent    []sentMessage
	closes  int
	inbound chan messages.Inbound
}

func newFakeDownstream() *fakeDownstream {
	return &fakeDownstream{inbound: make(chan messages.Inbound, 16)}
}

func (d *fakeDownstream) Send(msgType string, data any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closes > 0 {
		return errors.New("closed")
	}
	d.sent = append(d.sent, sentMessage{Type: msgType, Data: data})
	return nil
}

func (d *fakeDownstream) Inbound() <-chan messages.Inbound {
	return d.inbound
}

func (d *fakeDownstream) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDownstream) push(t *testing.T, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	d.inbound <- messages.Inbound{Type: msgType, Data: raw}
}

func (d *fakeDownstream) messages() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]sentMessage, len(d.sent))
	copy(out, d.sent)
	return out
}

func (d *fakeDownstream) types() []string {
	var out []string
	for _, m := range d.messages() {
		out = append(out, m.Type)
	}
	return out
}

func (d *fakeDownstream) ofType(msgType string) []any {
	var out []any
	for _, m := range d.messages() {
		if m.Type == msgType {
			out = append(out, m.Data)
		}
	}
	return out
}

func (d *fakeDownstream) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

type fakeUpstream struct {
	mu      sync.Mutex
	written []protocol.Serverbound
	closes  int
	err     error
	packets chan protocol.Packet
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{packets: make(chan protocol.Packet, 16)}
}

func (u *fakeUpstream) Write(p protocol.Serverbound) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.written = append(u.written, p)
	return nil
}

func (u *fakeUpstream) Packets() <-chan protocol.Packet {
	return u.packets
}

func (u *fakeUpstream) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

func (u *fakeUpstream) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closes++
	return nil
}

func (u *fakeUpstream) end(err error) {
	u.mu.Lock()
	u.err = err
	u.mu.Unlock()
	close(u.packets)
}

func (u *fakeUpstream) writes() []protocol.Serverbound {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]protocol.Serverbound, len(u.written))
	copy(out, u.written)
	return out
}

func (u *fakeUpstream) closeCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closes
}

type fakeSlots struct {
	mu    sync.Mutex
	used  int
	limit int
}

func (s *fakeSlots) LoggedIn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *fakeSlots) Acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used >= s.limit {
		return false
	}
	s.used++
	return true
}

func (s *fakeSlots) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used--
}

// harness runs a session against fakes.
type harness struct {
	t       *testing.T
	cfg     *config.Config
	down    *fakeDownstream
	up      *fakeUpstream
	slots   *fakeSlots
	timer   chan time.Time
	dialed  chan upstream.Options
	dialErr error
	session *Session
	cancel  context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	return &harness{
		t:      t,
		cfg:    cfg,
		down:   newFakeDownstream(),
		up:     newFakeUpstream(),
		slots:  &fakeSlots{limit: cfg.MaxPlayers},
		timer:  make(chan time.Time, 1),
		dialed: make(chan upstream.Options, 1),
	}
}

func (h *harness) start() *harness {
	h.t.Helper()
	reg, err := registry.Load("")
	require.NoError(h.t, err)

	deps := Deps{
		Config:   h.cfg,
		Registry: reg,
		Movement: messages.DefaultMovement(),
		Slots:    h.slots,
		After:    func(time.Duration) <-chan time.Time { return h.timer },
		Dial: func(ctx context.Context, opts upstream.Options) (Upstream, error) {
			h.dialed <- opts
			if h.dialErr != nil {
				return nil, h.dialErr
			}
			return h.up, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.session = New("session-1", "127.0.0.1:50000", h.down, deps)
	go h.session.Run(ctx)

	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.session.Done():
		case <-time.After(2 * time.Second):
			h.t.Error("session did not stop")
		}
	})
	return h
}

// login sends a LoginResponse and waits for the upstream to be dialed.
func (h *harness) login(name string) upstream.Options {
	h.t.Helper()
	h.down.push(h.t, messages.TypeLoginResponse, messages.LoginResponse{Username: name, Protocol: 2})
	select {
	case opts := <-h.dialed:
		h.eventually(func() bool { return h.session.Info().Phase.String() == "playing" || h.dialErr != nil })
		return opts
	case <-time.After(2 * time.Second):
		h.t.Fatal("upstream was never dialed")
		return upstream.Options{}
	}
}

func (h *harness) eventually(cond func() bool) {
	h.t.Helper()
	require.Eventually(h.t, cond, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) waitDone() {
	h.t.Helper()
	select {
	case <-h.session.Done():
	case <-time.After(2 * time.Second):
		h.t.Fatal("session did not close")
	}
}

// sync round-trips a chat action so every earlier inbound item has been
// handled by the session goroutine.
func (h *harness) sync() {
	h.t.Helper()
	before := len(h.up.writes())
	h.down.push(h.t, messages.TypeActionMessage, messages.ActionMessage{Message: "sync"})
	h.eventually(func() bool { return len(h.up.writes()) > before })
}

// syncUpstream pushes a teleport through the upstream channel and waits
// for its confirmation, so earlier packets have been handled.
func (h *harness) syncUpstream() {
	h.t.Helper()
	h.up.packets <- protocol.PlayerPositionLook{TeleportID: -1}
	h.eventually(func() bool {
		for _, w := range h.up.writes() {
			if c, ok := w.(protocol.TeleportConfirm); ok && c.TeleportID == -1 {
				return true
			}
		}
		return false
	})
}
