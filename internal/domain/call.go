package domain

import (
	"encoding/json"
	"time"
)

// CallState is the lifecycle state of a call session
type CallState string

const (
	CallStateInitiating CallState = "initiating"
	CallStateRinging    CallState = "ringing"
	CallStateConnecting CallState = "connecting"
	CallStateActive     CallState = "active"
	CallStateEnded      CallState = "ended"
	CallStateFailed     CallState = "failed"
)

// Terminal reports whether the state admits no further transitions
func (s CallState) Terminal() bool {
	return s == CallStateEnded || s == CallStateFailed
}

// CallType distinguishes voice calls from video calls
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// Valid reports whether the call type is one of the known kinds
func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

// End reasons carried by terminal call events
const (
	EndReasonOffline     = "offline"
	EndReasonDeclined    = "declined"
	EndReasonTimeout     = "timeout"
	EndReasonEndedByUser = "ended-by-user"
	EndReasonAllLeft     = "all-left"
	EndReasonServerError = "server-error"
)

// ParticipantRole distinguishes the initiator from later joiners
type ParticipantRole string

const (
	RoleInitiator   ParticipantRole = "initiator"
	RoleParticipant ParticipantRole = "participant"
)

// Identity is the authenticated identity attached to a signaling connection.
// It is supplied by the auth collaborator and immutable for the life of the
// connection.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Participant is one member of a call session
type Participant struct {
	UserID       string          `json:"userId"`
	DisplayName  string          `json:"displayName"`
	ConnectionID string          `json:"-"`
	Role         ParticipantRole `json:"role"`
	JoinedAt     time.Time       `json:"joinedAt"`
	Muted        bool            `json:"muted"`
	VideoEnabled bool            `json:"videoEnabled"`
}

// SignalKind is the kind of a relayed WebRTC signaling message
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

// PendingSignal is a relayed SDP/ICE message retained on the session for the
// ordered (from, to) pair, kept for late joiners and diagnostics.
type PendingSignal struct {
	Kind     SignalKind      `json:"kind"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Payload  json.RawMessage `json:"payload"`
	QueuedAt time.Time       `json:"queuedAt"`
}

// CallSession is a snapshot of one call's authoritative server-side record
type CallSession struct {
	CallID       string         `json:"callId"`
	InitiatorID  string         `json:"initiatorId"`
	CallType     CallType       `json:"callType"`
	ContextID    string         `json:"contextId,omitempty"`
	State        CallState      `json:"state"`
	Participants []*Participant `json:"participants"`
	CreatedAt    time.Time      `json:"createdAt"`
	EndedAt      *time.Time     `json:"endedAt,omitempty"`
	EndReason    string         `json:"endReason,omitempty"`
}
