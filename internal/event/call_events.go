package event

import (
	"encoding/json"
	"fmt"

	"signalhub-backend/internal/domain"
	"signalhub-backend/pkg/turn"
)

// Inbound event names
const (
	EventUserRegister    = "user:register"
	EventCallInitiate    = "call:initiate"
	EventCallAnswer      = "call:answer"
	EventCallJoin        = "call:join"
	EventCallMute        = "call:mute"
	EventCallVideoToggle = "call:video-toggle"
	EventCallEnd         = "call:end"
	EventWebRTCOffer     = "webrtc:offer"
	EventWebRTCAnswer    = "webrtc:answer"
	EventWebRTCCandidate = "webrtc:ice-candidate"
)

// Outbound event names
const (
	EventUserRegistered        = "user:registered"
	EventUserReplaced          = "user:replaced"
	EventCallIncoming          = "call:incoming"
	EventCallAccepted          = "call:accepted"
	EventCallFailed            = "call:failed"
	EventCallEnded             = "call:ended"
	EventCallParticipants      = "call:participants"
	EventCallParticipantJoined = "call:participant-joined"
	EventCallParticipantLeft   = "call:participant-left"
	EventCallParticipantMuted  = "call:participant-muted"
	EventCallParticipantVideo  = "call:participant-video"
)

// -----------------------------------------------------------------
// Inbound payloads
// -----------------------------------------------------------------

// RegisterPayload binds an authenticated identity to the connection.
// Token is an identity token from the auth service; it is required whenever
// the gateway has a verification secret configured.
type RegisterPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Token    string `json:"token,omitempty"`
}

func (p *RegisterPayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	return nil
}

// InitiatePayload starts a call toward a single target user
type InitiatePayload struct {
	TargetUserID string          `json:"targetUserId"`
	CallType     domain.CallType `json:"callType"`
	ChatID       string          `json:"chatId,omitempty"`
}

func (p *InitiatePayload) Validate() error {
	if p.TargetUserID == "" {
		return fmt.Errorf("targetUserId is required")
	}
	if !p.CallType.Valid() {
		return fmt.Errorf("callType must be %q or %q", domain.CallTypeVoice, domain.CallTypeVideo)
	}
	return nil
}

// AnswerPayload accepts or declines a ringing call
type AnswerPayload struct {
	CallID string `json:"callId"`
	Accept bool   `json:"accept"`
}

func (p *AnswerPayload) Validate() error {
	if p.CallID == "" {
		return fmt.Errorf("callId is required")
	}
	return nil
}

// JoinPayload adds the sender to a connecting or active group call
type JoinPayload struct {
	CallID string `json:"callId"`
}

func (p *JoinPayload) Validate() error {
	if p.CallID == "" {
		return fmt.Errorf("callId is required")
	}
	return nil
}

// SignalPayload carries a WebRTC offer, answer, or ICE candidate toward one peer
type SignalPayload struct {
	CallID       string          `json:"callId"`
	TargetUserID string          `json:"targetUserId"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

func (p *SignalPayload) Validate() error {
	if p.CallID == "" {
		return fmt.Errorf("callId is required")
	}
	if p.TargetUserID == "" {
		return fmt.Errorf("targetUserId is required")
	}
	return nil
}

// Body returns whichever signaling body the payload carries
func (p *SignalPayload) Body(kind domain.SignalKind) json.RawMessage {
	switch kind {
	case domain.SignalOffer:
		return p.Offer
	case domain.SignalAnswer:
		return p.Answer
	default:
		return p.Candidate
	}
}

// MutePayload toggles the sender's audio flag
type MutePayload struct {
	CallID string `json:"callId"`
	Muted  bool   `json:"muted"`
}

func (p *MutePayload) Validate() error {
	if p.CallID == "" {
		return fmt.Errorf("callId is required")
	}
	return nil
}

// VideoPayload toggles the sender's video flag
type VideoPayload struct {
	CallID       string `json:"callId"`
	VideoEnabled bool   `json:"videoEnabled"`
}

func (p *VideoPayload) Validate() error {
	if p.CallID == "" {
		return fmt.Errorf("callId is required")
	}
	return nil
}

// EndPayload hangs up a call
type EndPayload struct {
	CallID string `json:"callId"`
}

func (p *EndPayload) Validate() error {
	if p.CallID == "" {
		return fmt.Errorf("callId is required")
	}
	return nil
}

// -----------------------------------------------------------------
// Outbound payloads
// -----------------------------------------------------------------

// RegisteredPayload acknowledges registration and hands out relay config
type RegisteredPayload struct {
	UserID     string           `json:"userId"`
	IceServers []turn.ICEServer `json:"iceServers"`
}

// ReplacedPayload tells a displaced connection that the user re-registered
// elsewhere. The connection is closed right after this event.
type ReplacedPayload struct {
	Reason string `json:"reason"`
}

// IncomingPayload notifies the target of a ringing call
type IncomingPayload struct {
	CallID     string          `json:"callId"`
	CallerID   string          `json:"callerId"`
	CallerName string          `json:"callerName"`
	CallType   domain.CallType `json:"callType"`
	ChatID     string          `json:"chatId,omitempty"`
}

// AcceptedPayload announces the transition to CONNECTING with the full roster
type AcceptedPayload struct {
	CallID       string                `json:"callId"`
	AcceptedBy   string                `json:"acceptedBy"`
	Participants []*domain.Participant `json:"participants"`
}

// FailedPayload reports a call failure to the affected parties
type FailedPayload struct {
	CallID string `json:"callId,omitempty"`
	Reason string `json:"reason"`
}

// EndedPayload announces a terminal ENDED transition
type EndedPayload struct {
	CallID  string `json:"callId"`
	Reason  string `json:"reason"`
	EndedBy string `json:"endedBy,omitempty"`
}

// ParticipantsPayload returns the current roster to a joiner, excluding the
// joiner itself
type ParticipantsPayload struct {
	CallID       string                `json:"callId"`
	Participants []*domain.Participant `json:"participants"`
}

// ParticipantJoinedPayload announces a new participant to the existing roster.
// Participants holds the roster as it stood before the join.
type ParticipantJoinedPayload struct {
	CallID       string                `json:"callId"`
	Participant  *domain.Participant   `json:"participant"`
	Participants []*domain.Participant `json:"participants"`
}

// ParticipantLeftPayload announces a departed participant
type ParticipantLeftPayload struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

// ParticipantMutedPayload announces an audio flag change
type ParticipantMutedPayload struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
	Muted  bool   `json:"muted"`
}

// ParticipantVideoPayload announces a video flag change
type ParticipantVideoPayload struct {
	CallID       string `json:"callId"`
	UserID       string `json:"userId"`
	VideoEnabled bool   `json:"videoEnabled"`
}

// ForwardedSignalPayload is a relayed offer/answer/candidate delivered to its
// target peer
type ForwardedSignalPayload struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

// ForwardName maps a signal kind to its outbound event name
func ForwardName(kind domain.SignalKind) string {
	switch kind {
	case domain.SignalOffer:
		return EventWebRTCOffer
	case domain.SignalAnswer:
		return EventWebRTCAnswer
	default:
		return EventWebRTCCandidate
	}
}

// ForwardedSignal builds the outbound envelope for a relayed signal
func ForwardedSignal(kind domain.SignalKind, callID, fromUserID string, body json.RawMessage) WsEvent {
	p := ForwardedSignalPayload{CallID: callID, FromUserID: fromUserID}
	switch kind {
	case domain.SignalOffer:
		p.Offer = body
	case domain.SignalAnswer:
		p.Answer = body
	default:
		p.Candidate = body
	}
	return New(ForwardName(kind), p)
}
