// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Call signaling constants
const (
	// RingTimeout is how long a callee may ring before the call ends with reason "timeout"
	RingTimeout = 30 * time.Second

	// TurnCredentialTTL is the lifetime of issued TURN relay credentials
	TurnCredentialTTL = 24 * time.Hour
)

// WebSocket constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single outbound WebSocket write
	WebSocketWriteTimeout = 10 * time.Second

	// WebSocketSendBuffer is the per-connection outbound message buffer
	WebSocketSendBuffer = 256

	// MaxSignalingConnections is the default cap on concurrent signaling connections
	MaxSignalingConnections = 1000
)

// Server constants
const (
	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Presence constants
const (
	// PresenceTTL is how long a presence key survives without refresh
	PresenceTTL = 5 * time.Minute
)
