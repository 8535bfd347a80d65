// Package events defines the event types exchanged between proxy components.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventSessionOpened   EventType = "session_opened"
	EventSessionLoggedIn EventType = "session_logged_in"
	EventSessionClosed   EventType = "session_closed"

	// Control events
	EventKickSession EventType = "cmd_kick_session"

	// Notification events
	EventNotifyMQTT EventType = "notify_mqtt"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// SessionPhase tracks how far a downstream client has progressed.
type SessionPhase int

const (
	PhaseAwaitingLogin SessionPhase = iota
	PhaseConnecting
	PhasePlaying
	PhaseClosed
)

var sessionPhaseStrings = map[SessionPhase]string{
	PhaseAwaitingLogin: "awaiting_login",
	PhaseConnecting:    "connecting",
	PhasePlaying:       "playing",
	PhaseClosed:        "closed",
}

// String returns the string representation of SessionPhase.
func (p SessionPhase) String() string {
	if str, ok := sessionPhaseStrings[p]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes SessionPhase as a JSON string (e.g. "playing").
func (p SessionPhase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// CloseReason classifies why a session ended.
type CloseReason string

const (
	CloseLoginTimeout   CloseReason = "login_timeout"
	CloseClientLeft     CloseReason = "client_left"
	CloseUpstreamEnded  CloseReason = "upstream_ended"
	CloseUpstreamFailed CloseReason = "upstream_failed"
	CloseKicked         CloseReason = "kicked"
	CloseRejected       CloseReason = "rejected"
	CloseShutdown       CloseReason = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionOpenedPayload is emitted when a downstream socket is accepted.
type SessionOpenedPayload struct {
	SessionID  string
	RemoteAddr string
	OpenedAt   time.Time
}

// SessionLoggedInPayload is emitted once the upstream connection is dialed
// on behalf of a client.
type SessionLoggedInPayload struct {
	SessionID        string
	DownstreamName   string
	UpstreamUsername string
	UpstreamAddr     string
}

// SessionClosedPayload is emitted exactly once per session at teardown.
type SessionClosedPayload struct {
	SessionID    string
	Reason       CloseReason
	Detail       string
	ClosedAt     time.Time
	PacketsUp    uint64
	PacketsDown  uint64
	ChunksSent   uint64
	EntitiesSeen int
}

// KickSessionPayload asks the manager to kick one session.
type KickSessionPayload struct {
	SessionID string
	Reason    string
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Key   string
	Value interface{}
}
