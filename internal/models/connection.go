package models

import "time"

// ConnectionPhase is one step of the push-channel state machine:
// idle → connecting → connected → (disconnected | error) → connecting
// (retry) → … → failed (terminal until a manual reconnect).
type ConnectionPhase string

const (
	PhaseIdle         ConnectionPhase = "idle"
	PhaseConnecting   ConnectionPhase = "connecting"
	PhaseConnected    ConnectionPhase = "connected"
	PhaseDisconnected ConnectionPhase = "disconnected"
	PhaseError        ConnectionPhase = "error"
	PhaseFailed       ConnectionPhase = "failed"
)

// ConnectionState is the observable health of the push channel
type ConnectionState struct {
	Phase       ConnectionPhase `json:"phase"`
	Error       string          `json:"error,omitempty"`
	LastAttempt time.Time       `json:"lastAttempt,omitempty"`
	RetryCount  int             `json:"retryCount"`
}

// IsConnected reports whether the channel is live
func (s ConnectionState) IsConnected() bool {
	return s.Phase == PhaseConnected
}

// IsConnecting reports whether a connection attempt is in flight
func (s ConnectionState) IsConnecting() bool {
	return s.Phase == PhaseConnecting
}
