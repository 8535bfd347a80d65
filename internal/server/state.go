// Package server owns the set of live sessions: it accepts downstream
// sockets, enforces the player limit and routes operator commands.
package server

import (
	"sync"
	"time"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
)

// Slots counts logged-in sessions against the configured player limit.
// The limit is read on every Acquire so a changed maxplayers applies to
// the next login.
type Slots struct {
	mu sync.RWMutex

	cfg *config.Config

	used         int
	peak         int
	peakAt       time.Time
	rejected     int
	lastRejectAt time.Time
}

// NewSlots creates an empty slot pool.
func NewSlots(cfg *config.Config) *Slots {
	return &Slots{cfg: cfg}
}

// Acquire takes a slot, returning false when the server is full.
func (s *Slots) Acquire() bool {
	_, _, limit := s.cfg.Listing()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.used >= limit {
		s.rejected++
		s.lastRejectAt = time.Now()
		return false
	}
	s.used++
	if s.used > s.peak {
		s.peak = s.used
		s.peakAt = time.Now()
	}
	return true
}

// Release returns a slot.
func (s *Slots) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used > 0 {
		s.used--
	}
}

// LoggedIn returns the number of slots in use.
func (s *Slots) LoggedIn() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

// Snapshot returns a read-only view of the pool.
func (s *Slots) Snapshot() SlotsSnapshot {
	_, _, limit := s.cfg.Listing()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return SlotsSnapshot{
		Used:         s.used,
		Limit:        limit,
		Peak:         s.peak,
		PeakAt:       s.peakAt,
		Rejected:     s.rejected,
		LastRejectAt: s.lastRejectAt,
	}
}

// SlotsSnapshot is an immutable snapshot of the slot pool.
type SlotsSnapshot struct {
	Used         int       `json:"used"`
	Limit        int       `json:"limit"`
	Peak         int       `json:"peak"`
	PeakAt       time.Time `json:"peak_at"`
	Rejected     int       `json:"rejected"`
	LastRejectAt time.Time `json:"last_reject_at"`
}
