package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/messages"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/network"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/registry"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/session"
)

// DefaultKickReason is shown when an operator kicks without a reason.
const DefaultKickReason = "Kicked by an operator"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrAmbiguousSession = errors.New("session id prefix is ambiguous")
)

// Options configures the sessions a Manager creates.
type Options struct {
	Registry *registry.Registry
	Movement messages.Movement
	Recorder session.Recorder

	// Dial overrides the upstream dialer, mainly for tests.
	Dial session.Dialer
}

// Manager tracks every live session.
type Manager struct {
	mu sync.RWMutex

	cfg      *config.Config
	eventBus *events.EventBus
	slots    *Slots
	deps     session.Deps

	sessions map[string]*session.Session
	wg       sync.WaitGroup
}

// NewManager creates the session manager and subscribes it to control
// events.
func NewManager(cfg *config.Config, eventBus *events.EventBus, opts Options) *Manager {
	slots := NewSlots(cfg)
	mgr := &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		slots:    slots,
		sessions: make(map[string]*session.Session),
		deps: session.Deps{
			Config:   cfg,
			Registry: opts.Registry,
			Movement: opts.Movement,
			Dial:     opts.Dial,
			Slots:    slots,
			Bus:      eventBus,
			Recorder: opts.Recorder,
		},
	}

	mgr.subscribeEvents()
	return mgr
}

func (m *Manager) subscribeEvents() {
	bus := m.eventBus
	if bus == nil {
		return
	}

	bus.Subscribe(events.EventKickSession, "manager.kickSession", m.onCmdKickSession)
	bus.Subscribe(events.EventConfigChanged, "manager.configChanged", m.onConfigChanged)
	bus.Subscribe(events.EventShutdown, "manager.shutdown", m.onShutdown)

	log.Debug().Msg("manager event subscriptions registered")
}

// HandleNewConnection runs a session for an accepted socket until it ends.
func (m *Manager) HandleNewConnection(ctx context.Context, s *network.Socket) {
	m.Serve(ctx, s.ID(), s.RemoteAddr(), s)
}

// Serve runs a session over any downstream transport.
func (m *Manager) Serve(ctx context.Context, id, remoteAddr string, down session.Downstream) {
	sess := session.New(id, remoteAddr, down, m.deps)

	m.mu.Lock()
	m.sessions[id] = sess
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		m.wg.Done()
	}()

	sess.Run(ctx)
}

// Wait blocks until every session has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Get returns a session by full id or unique prefix.
func (m *Manager) Get(idOrPrefix string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sess, ok := m.sessions[idOrPrefix]; ok {
		return sess, nil
	}
	if idOrPrefix == "" {
		return nil, ErrSessionNotFound
	}

	var found *session.Session
	for id, sess := range m.sessions {
		if strings.HasPrefix(id, idOrPrefix) {
			if found != nil {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguousSession, idOrPrefix)
			}
			found = sess
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, idOrPrefix)
	}
	return found, nil
}

// Kick disconnects a session and returns its full id.
func (m *Manager) Kick(idOrPrefix, reason string) (string, error) {
	sess, err := m.Get(idOrPrefix)
	if err != nil {
		return "", err
	}
	if reason == "" {
		reason = DefaultKickReason
	}
	if !sess.Kick(reason) {
		return "", fmt.Errorf("session %s is already closing", sess.ID())
	}

	log.Info().Str("session", sess.ID()).Str("reason", reason).Msg("session kicked")
	return sess.ID(), nil
}

// Snapshot returns every live session, oldest first.
func (m *Manager) Snapshot() []session.Info {
	m.mu.RLock()
	infos := make([]session.Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, sess.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].OpenedAt.Before(infos[j].OpenedAt)
	})
	return infos
}

// Count returns the number of live sessions, logged in or not.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// LoggedInCount returns the number of sessions past login.
func (m *Manager) LoggedInCount() int {
	return m.slots.LoggedIn()
}

// Slots returns the player slot pool.
func (m *Manager) Slots() *Slots {
	return m.slots
}

// --- Event Handlers ---

func (m *Manager) onCmdKickSession(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.KickSessionPayload)
	if !ok {
		return fmt.Errorf("invalid kick session payload")
	}
	_, err := m.Kick(payload.SessionID, payload.Reason)
	return err
}

func (m *Manager) onConfigChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ConfigChangedPayload)
	if !ok {
		return nil
	}
	log.Info().
		Str("key", payload.Key).
		Interface("value", payload.Value).
		Msg("configuration changed, applies to new sessions")
	return nil
}

func (m *Manager) onShutdown(ctx context.Context, event events.Event) error {
	log.Info().Int("sessions", m.Count()).Msg("shutdown event received, kicking all sessions")
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		sess.Kick(session.ReasonShutdown)
	}
	return nil
}
