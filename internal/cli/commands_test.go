package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/db"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/registry"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/server"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/session"
)

type fakeManager struct {
	infos    []session.Info
	sessions map[string]*session.Session
	slots    *server.Slots
	kicks    []string
}

func (m *fakeManager) Snapshot() []session.Info { return m.infos }
func (m *fakeManager) Slots() *server.Slots     { return m.slots }

func (m *fakeManager) Get(id string) (*session.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", server.ErrSessionNotFound, id)
}

func (m *fakeManager) Kick(id, reason string) (string, error) {
	if _, err := m.Get(id); err != nil {
		return "", err
	}
	m.kicks = append(m.kicks, id+"|"+reason)
	return id, nil
}

type fakeLedger struct{ records []db.SessionRecord }

func (l fakeLedger) History(limit int) ([]db.SessionRecord, error) { return l.records, nil }

type harness struct {
	cfg *config.Config
	bus *events.EventBus
	mgr *fakeManager
	out *bytes.Buffer
	cli *CLI
}

func newHarness(t *testing.T, ledger HistorySource) *harness {
	t.Helper()

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	reg, err := registry.Load("")
	require.NoError(t, err)

	sess := session.New("abcdef0123456789", "10.1.1.1:3000", nil, session.Deps{Config: cfg, Registry: reg})
	mgr := &fakeManager{
		infos: []session.Info{
			{ID: "abcdef0123456789", RemoteAddr: "10.1.1.1:3000", Phase: events.PhasePlaying,
				DownstreamName: "Steve", UpstreamUsername: "Steve", OpenedAt: time.Now().Add(-90 * time.Second),
				PacketsUp: 5, PacketsDown: 17, ChunksSent: 2},
		},
		sessions: map[string]*session.Session{"abcdef0123456789": sess},
		slots:    server.NewSlots(cfg),
	}

	h := &harness{cfg: cfg, bus: events.NewEventBus(), mgr: mgr, out: &bytes.Buffer{}}
	h.cli = NewCLI(cfg, h.bus, mgr, ledger, reg, strings.NewReader(""), h.out)
	return h
}

func (h *harness) exec(t *testing.T, line string) (bool, error) {
	t.Helper()
	h.out.Reset()
	parts := strings.Fields(line)
	return h.cli.Execute(context.Background(), parts[0], parts[1:])
}

func TestStatusTable(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.exec(t, "status")
	require.NoError(t, err)
	out := h.out.String()
	assert.Contains(t, out, "abcdef01")
	assert.Contains(t, out, "playing")
	assert.Contains(t, out, "Steve")
	assert.Contains(t, out, "1m30s")

	_, err = h.exec(t, "status abcdef0123456789")
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "awaiting_login")

	_, err = h.exec(t, "status nope")
	assert.ErrorIs(t, err, server.ErrSessionNotFound)
}

func TestHistory(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.exec(t, "history")
	assert.Error(t, err)

	opened := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	h = newHarness(t, fakeLedger{records: []db.SessionRecord{
		{ID: "s-closed-000", DownstreamName: "Alex", OpenedAt: opened, ClosedAt: opened.Add(2 * time.Hour), CloseReason: "kicked"},
		{ID: "s-open", OpenedAt: opened},
	}})

	_, err = h.exec(t, "history 5")
	require.NoError(t, err)
	out := h.out.String()
	assert.Contains(t, out, "Alex")
	assert.Contains(t, out, "2h00m")
	assert.Contains(t, out, "kicked")
	assert.Contains(t, out, "open")
	assert.Contains(t, out, "2024-05-01 12:00:00")

	_, err = h.exec(t, "history -1")
	assert.Error(t, err)
}

func TestKick(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.exec(t, "kick")
	assert.Error(t, err)

	_, err = h.exec(t, "kick abcdef0123456789 go to bed")
	require.NoError(t, err)
	assert.Equal(t, []string{"abcdef0123456789|go to bed"}, h.mgr.kicks)
	assert.Contains(t, h.out.String(), "Kicked session")

	_, err = h.exec(t, "kick zzz")
	assert.ErrorIs(t, err, server.ErrSessionNotFound)
}

func TestBlocksAndSlots(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.exec(t, "blocks stone")
	require.NoError(t, err)
	out := h.out.String()
	assert.Contains(t, out, "stone")
	assert.NotContains(t, out, "granite")

	_, err = h.exec(t, "blocks zzzz")
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "No matching blocks")

	require.True(t, h.mgr.slots.Acquire())
	_, err = h.exec(t, "slots")
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "1 / 10")
}

func TestSetConfig(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.exec(t, "setconfig maxplayers 25")
	require.NoError(t, err)
	assert.Equal(t, 25, h.cfg.MaxPlayers)

	_, err = h.exec(t, "setconfig motd Hello there")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", h.cfg.Motd)

	_, err = h.exec(t, "setconfig public true")
	require.NoError(t, err)
	assert.True(t, h.cfg.Public)
	assert.Contains(t, h.out.String(), "Warning")

	_, err = h.exec(t, "setconfig maxplayers 0")
	assert.Error(t, err)
	assert.Equal(t, 25, h.cfg.MaxPlayers)

	_, err = h.exec(t, "setconfig maxplayers")
	assert.Error(t, err)
}

func TestQuitEmitsShutdown(t *testing.T) {
	h := newHarness(t, nil)
	got := make(chan struct{}, 1)
	h.bus.Subscribe(events.EventShutdown, "test", func(context.Context, events.Event) error {
		got <- struct{}{}
		return nil
	})

	quit, err := h.exec(t, "quit")
	require.NoError(t, err)
	assert.True(t, quit)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no shutdown event")
	}
}

func TestStartReadsUntilQuit(t *testing.T) {
	h := newHarness(t, nil)
	h.cli.in = strings.NewReader("help\nbogus\n\nquit\nstatus\n")

	done := make(chan struct{})
	go func() {
		h.cli.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop on quit")
	}

	out := h.out.String()
	assert.Contains(t, out, "kick <id> [reason]")
	assert.Contains(t, out, "Unknown command: 'bogus'")
	assert.NotContains(t, out, "abcdef01")
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "45s", formatAge(45*time.Second))
	assert.Equal(t, "2m05s", formatAge(125*time.Second))
	assert.Equal(t, "3h07m", formatAge(3*time.Hour+7*time.Minute))
}
