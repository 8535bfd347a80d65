// Package health runs the proxy's periodic checks: the public heartbeat,
// stale socket cleanup and resource sampling.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/session"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/telemetry"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/util"
)

// Disk usage above this percentage is logged and announced.
const diskWarnPercent = 90.0

// SessionCounter reports how many sessions are open and logged in.
type SessionCounter interface {
	Count() int
	LoggedInCount() int
}

// StaleCleaner closes sockets idle for longer than timeout.
type StaleCleaner interface {
	CleanStale(timeout time.Duration) int
}

// HeartbeatPublisher sends the listing record somewhere.
type HeartbeatPublisher interface {
	PublishHeartbeat(hb telemetry.Heartbeat)
}

// Manager runs periodic checks until its context is cancelled.
type Manager struct {
	cfg       *config.Config
	eventBus  *events.EventBus
	sessions  SessionCounter
	sockets   StaleCleaner
	publisher HeartbeatPublisher

	mu        sync.RWMutex
	lastUsage util.ResourceUsage
	sampledAt time.Time
}

// NewManager creates a health manager. publisher may be nil when the proxy
// is not public.
func NewManager(
	cfg *config.Config,
	eventBus *events.EventBus,
	sessions SessionCounter,
	sockets StaleCleaner,
	publisher HeartbeatPublisher,
) *Manager {
	return &Manager{
		cfg:       cfg,
		eventBus:  eventBus,
		sessions:  sessions,
		sockets:   sockets,
		publisher: publisher,
	}
}

// Start launches every check on its own ticker and blocks until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.Timers

	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"heartbeat", timers.HeartbeatInterval, m.sendHeartbeat},
		{"stale_sockets", timers.StaleCheckInterval, m.checkStaleSockets},
	}

	var wg sync.WaitGroup
	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		check := check
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			log.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("health check manager stopped")
}

// BuildHeartbeat samples resources and assembles the listing record.
func (m *Manager) BuildHeartbeat() telemetry.Heartbeat {
	usage := util.SampleUsage(m.cfg.ResolveDir("."))
	m.mu.Lock()
	m.lastUsage = usage
	m.sampledAt = time.Now()
	m.mu.Unlock()

	name, motd, maxPlayers := m.cfg.Listing()
	return telemetry.Heartbeat{
		Name:       name,
		Motd:       motd,
		Protocol:   session.DownstreamProtocol,
		Software:   session.Software,
		Players:    m.sessions.LoggedInCount(),
		MaxPlayers: maxPlayers,
		Sessions:   m.sessions.Count(),
		Port:       m.cfg.ListenPort(),
		Usage:      usage,
	}
}

// LastUsage returns the most recent resource sample and when it was taken.
func (m *Manager) LastUsage() (util.ResourceUsage, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUsage, m.sampledAt
}

func (m *Manager) sendHeartbeat(ctx context.Context) {
	hb := m.BuildHeartbeat()

	log.Debug().
		Int("players", hb.Players).
		Int("sessions", hb.Sessions).
		Float64("cpu_percent", hb.Usage.CPUPercent).
		Uint64("rss_mb", hb.Usage.ProcessRSS).
		Msg("heartbeat")

	if hb.Usage.DiskPercent >= diskWarnPercent {
		log.Warn().Float64("used_percent", hb.Usage.DiskPercent).Msg("disk usage is high")
		m.eventBus.Emit(ctx, events.Event{
			Type:   events.EventNotifyMQTT,
			Source: "health_check",
			Payload: map[string]interface{}{
				"event":        "disk_usage",
				"used_percent": hb.Usage.DiskPercent,
			},
		})
	}

	if m.publisher != nil {
		m.publisher.PublishHeartbeat(hb)
	}
}

// checkStaleSockets closes sockets silent for two stale-check intervals.
func (m *Manager) checkStaleSockets(ctx context.Context) {
	timeout := 2 * time.Duration(m.cfg.Timers.StaleCheckInterval) * time.Second
	cleaned := m.sockets.CleanStale(timeout)
	if cleaned == 0 {
		return
	}

	log.Info().Int("cleaned", cleaned).Msg("cleaned stale sockets")
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyMQTT,
		Source: "health_check",
		Payload: map[string]interface{}{
			"event":   "stale_sockets",
			"cleaned": cleaned,
		},
	})
}
