// Package call owns the live call-session table: the state machine that takes
// a call from initiation through ringing and connecting to teardown, and the
// relay that forwards SDP/ICE messages between identified peers.
package call

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signalhub-backend/internal/domain"
	"signalhub-backend/internal/event"
	"signalhub-backend/internal/registry"
	apperrors "signalhub-backend/pkg/errors"
	"signalhub-backend/pkg/logger"
	"signalhub-backend/pkg/metrics"
)

// Notifier pushes an outbound event to a user's live connection.
// Returns false when the user has no connection or its buffer is full;
// delivery is best-effort either way.
type Notifier interface {
	SendToUser(userID string, ev event.WsEvent) bool
}

// Manager owns the live session table. All mutations of one session happen
// under that session's lock; different calls proceed independently.
type Manager struct {
	registry    *registry.Registry
	metrics     *metrics.Metrics
	ringTimeout time.Duration

	notifier Notifier

	mu       sync.RWMutex
	sessions map[string]*session
}

type pairKey struct {
	from string
	to   string
}

// session is the mutable server-side record of one call. Fields are guarded
// by mu; the broadcast for a mutation is emitted under the same lock so event
// order matches mutation order.
type session struct {
	mu sync.Mutex

	callID      string
	initiatorID string
	callType    domain.CallType
	contextID   string

	state        domain.CallState
	participants map[string]*domain.Participant
	pending      map[pairKey][]domain.PendingSignal

	ringTimer *time.Timer
	createdAt time.Time
	endedAt   time.Time
	endReason string
}

// NewManager creates a session manager. Call SetNotifier before serving
// traffic; the gateway is constructed after the manager and wires itself in.
func NewManager(reg *registry.Registry, met *metrics.Metrics, ringTimeout time.Duration) *Manager {
	return &Manager{
		registry:    reg,
		metrics:     met,
		ringTimeout: ringTimeout,
		sessions:    make(map[string]*session),
	}
}

// SetNotifier sets the outbound event sink. Must be called before the first
// inbound operation.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// ActiveCalls returns the number of live sessions
func (m *Manager) ActiveCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot returns a copy of the session's current state for introspection
func (m *Manager) Snapshot(callID string) (*domain.CallSession, bool) {
	s, ok := m.get(callID)
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &domain.CallSession{
		CallID:       s.callID,
		InitiatorID:  s.initiatorID,
		CallType:     s.callType,
		ContextID:    s.contextID,
		State:        s.state,
		Participants: s.rosterLocked(),
		CreatedAt:    s.createdAt,
		EndReason:    s.endReason,
	}
	if !s.endedAt.IsZero() {
		endedAt := s.endedAt
		snap.EndedAt = &endedAt
	}
	return snap, true
}

// Initiate creates a session toward targetUserID and starts it ringing.
// When the target has no registered connection the session is created, moved
// to FAILED with reason "offline", reported to the initiator, and torn down.
func (m *Manager) Initiate(initiator domain.Identity, connID, targetUserID string, callType domain.CallType, contextID string) (string, error) {
	now := time.Now()
	s := &session{
		callID:      uuid.NewString(),
		initiatorID: initiator.UserID,
		callType:    callType,
		contextID:   contextID,
		state:       domain.CallStateInitiating,
		participants: map[string]*domain.Participant{
			initiator.UserID: {
				UserID:       initiator.UserID,
				DisplayName:  initiator.DisplayName,
				ConnectionID: connID,
				Role:         domain.RoleInitiator,
				JoinedAt:     now,
				VideoEnabled: callType == domain.CallTypeVideo,
			},
		},
		pending:   make(map[pairKey][]domain.PendingSignal),
		createdAt: now,
	}

	m.mu.Lock()
	m.sessions[s.callID] = s
	m.mu.Unlock()
	m.metrics.CallStarted(string(callType))

	s.mu.Lock()
	if _, online := m.registry.Lookup(targetUserID); !online {
		m.failLocked(s, domain.EndReasonOffline)
		s.mu.Unlock()
		m.remove(s.callID)
		return "", apperrors.TargetOfflineError(targetUserID)
	}

	s.state = domain.CallStateRinging
	callID := s.callID
	s.ringTimer = time.AfterFunc(m.ringTimeout, func() {
		m.onRingTimeout(callID)
	})

	m.send(targetUserID, event.New(event.EventCallIncoming, event.IncomingPayload{
		CallID:     s.callID,
		CallerID:   initiator.UserID,
		CallerName: initiator.DisplayName,
		CallType:   callType,
		ChatID:     contextID,
	}))
	s.mu.Unlock()

	logger.Info("call initiated",
		zap.String("call_id", callID),
		zap.String("initiator_id", initiator.UserID),
		zap.String("target_id", targetUserID),
		zap.String("call_type", string(callType)))
	return callID, nil
}

// Answer resolves a ringing call. Accept adds the answerer to the roster,
// cancels the ring timer, moves the session to CONNECTING, and broadcasts the
// full roster to everyone. Decline ends the call with reason "declined" and
// notifies the initiator only. Answering a call that is no longer ringing is
// a no-op: whichever resolution was processed first wins.
func (m *Manager) Answer(callID string, answerer domain.Identity, connID string, accept bool) error {
	s, ok := m.get(callID)
	if !ok {
		return apperrors.CallNotFoundError(callID)
	}

	s.mu.Lock()
	if s.state != domain.CallStateRinging {
		s.mu.Unlock()
		return nil
	}
	s.stopRingTimerLocked()

	if !accept {
		s.terminateLocked(domain.EndReasonDeclined)
		m.send(s.initiatorID, event.New(event.EventCallEnded, event.EndedPayload{
			CallID:  s.callID,
			Reason:  domain.EndReasonDeclined,
			EndedBy: answerer.UserID,
		}))
		m.metrics.CallEnded(domain.EndReasonDeclined, s.endedAt.Sub(s.createdAt))
		s.mu.Unlock()
		m.remove(callID)

		logger.Info("call declined",
			zap.String("call_id", callID),
			zap.String("declined_by", answerer.UserID))
		return nil
	}

	s.participants[answerer.UserID] = &domain.Participant{
		UserID:       answerer.UserID,
		DisplayName:  answerer.DisplayName,
		ConnectionID: connID,
		Role:         domain.RoleParticipant,
		JoinedAt:     time.Now(),
		VideoEnabled: s.callType == domain.CallTypeVideo,
	}
	s.state = domain.CallStateConnecting

	m.broadcastLocked(s, event.New(event.EventCallAccepted, event.AcceptedPayload{
		CallID:       s.callID,
		AcceptedBy:   answerer.UserID,
		Participants: s.rosterLocked(),
	}), "")
	s.mu.Unlock()

	logger.Info("call accepted",
		zap.String("call_id", callID),
		zap.String("accepted_by", answerer.UserID))
	return nil
}

// Join adds a participant to an already-connecting or active session without
// the ring/answer handshake. Existing participants learn the joiner and the
// joiner receives the roster as it stood before the join.
func (m *Manager) Join(callID string, joiner domain.Identity, connID string) error {
	s, ok := m.get(callID)
	if !ok {
		return apperrors.CallNotFoundError(callID)
	}

	s.mu.Lock()
	if s.state != domain.CallStateConnecting && s.state != domain.CallStateActive {
		state := string(s.state)
		s.mu.Unlock()
		return apperrors.InvalidCallStateError(callID, state)
	}

	if p, rejoining := s.participants[joiner.UserID]; rejoining {
		// Same user on a fresh connection; refresh the binding and resend
		// the roster, no join broadcast.
		p.ConnectionID = connID
		m.send(joiner.UserID, event.New(event.EventCallParticipants, event.ParticipantsPayload{
			CallID:       s.callID,
			Participants: s.rosterExceptLocked(joiner.UserID),
		}))
		s.mu.Unlock()
		return nil
	}

	prior := s.rosterLocked()
	p := &domain.Participant{
		UserID:       joiner.UserID,
		DisplayName:  joiner.DisplayName,
		ConnectionID: connID,
		Role:         domain.RoleParticipant,
		JoinedAt:     time.Now(),
		VideoEnabled: s.callType == domain.CallTypeVideo,
	}
	s.participants[joiner.UserID] = p

	m.broadcastLocked(s, event.New(event.EventCallParticipantJoined, event.ParticipantJoinedPayload{
		CallID:       s.callID,
		Participant:  p,
		Participants: prior,
	}), joiner.UserID)
	m.send(joiner.UserID, event.New(event.EventCallParticipants, event.ParticipantsPayload{
		CallID:       s.callID,
		Participants: prior,
	}))
	s.mu.Unlock()

	logger.Info("participant joined call",
		zap.String("call_id", callID),
		zap.String("user_id", joiner.UserID))
	return nil
}

// SetMute flips a participant's audio flag and tells everyone else.
// No state transition; unknown calls and non-participants are silent no-ops.
func (m *Manager) SetMute(callID, userID string, muted bool) {
	s, ok := m.get(callID)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok || s.state.Terminal() {
		return
	}
	p.Muted = muted

	m.broadcastLocked(s, event.New(event.EventCallParticipantMuted, event.ParticipantMutedPayload{
		CallID: s.callID,
		UserID: userID,
		Muted:  muted,
	}), userID)
}

// SetVideo flips a participant's video flag and tells everyone else
func (m *Manager) SetVideo(callID, userID string, enabled bool) {
	s, ok := m.get(callID)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok || s.state.Terminal() {
		return
	}
	p.VideoEnabled = enabled

	m.broadcastLocked(s, event.New(event.EventCallParticipantVideo, event.ParticipantVideoPayload{
		CallID:       s.callID,
		UserID:       userID,
		VideoEnabled: enabled,
	}), userID)
}

// End tears the session down and broadcasts call:ended to every participant.
// Idempotent: ending an unknown or already-terminal call is a silent no-op,
// because teardown races are expected, not faults.
func (m *Manager) End(callID, endedBy, reason string) {
	s, ok := m.get(callID)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.stopRingTimerLocked()
	s.terminateLocked(reason)

	m.broadcastLocked(s, event.New(event.EventCallEnded, event.EndedPayload{
		CallID:  s.callID,
		Reason:  reason,
		EndedBy: endedBy,
	}), "")
	m.metrics.CallEnded(reason, s.endedAt.Sub(s.createdAt))
	s.mu.Unlock()
	m.remove(callID)

	logger.Info("call ended",
		zap.String("call_id", callID),
		zap.String("reason", reason),
		zap.String("ended_by", endedBy))
}

// Fail forces the session to FAILED with reason "server-error", broadcasts
// the failure to all current participants, and removes the session.
func (m *Manager) Fail(callID string, cause error) {
	s, ok := m.get(callID)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.stopRingTimerLocked()
	state := s.state
	m.failLocked(s, domain.EndReasonServerError)
	s.mu.Unlock()
	m.remove(callID)

	logger.Error("call failed",
		zap.String("call_id", callID),
		zap.String("state", string(state)),
		zap.Error(cause))
}

// HandleDisconnect removes the connection's participant from whichever call it
// belonged to. The last participant leaving ends the call with reason
// "all-left".
func (m *Manager) HandleDisconnect(connID string) {
	m.mu.RLock()
	candidates := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	for _, s := range candidates {
		s.mu.Lock()
		var departed *domain.Participant
		for _, p := range s.participants {
			if p.ConnectionID == connID {
				departed = p
				break
			}
		}
		if departed == nil || s.state.Terminal() {
			s.mu.Unlock()
			continue
		}

		delete(s.participants, departed.UserID)
		logger.Info("participant disconnected from call",
			zap.String("call_id", s.callID),
			zap.String("user_id", departed.UserID))

		if len(s.participants) == 0 {
			s.stopRingTimerLocked()
			s.terminateLocked(domain.EndReasonAllLeft)
			// Best-effort notice toward the departed user; their connection
			// is usually already gone.
			m.send(departed.UserID, event.New(event.EventCallEnded, event.EndedPayload{
				CallID: s.callID,
				Reason: domain.EndReasonAllLeft,
			}))
			m.metrics.CallEnded(domain.EndReasonAllLeft, s.endedAt.Sub(s.createdAt))
			callID := s.callID
			s.mu.Unlock()
			m.remove(callID)

			logger.Info("call ended",
				zap.String("call_id", callID),
				zap.String("reason", domain.EndReasonAllLeft))
			continue
		}

		m.broadcastLocked(s, event.New(event.EventCallParticipantLeft, event.ParticipantLeftPayload{
			CallID: s.callID,
			UserID: departed.UserID,
		}), "")
		s.mu.Unlock()
	}
}

// -----------------------------------------------------------------
// Internals
// -----------------------------------------------------------------

func (m *Manager) get(callID string) (*session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	return s, ok
}

func (m *Manager) remove(callID string) {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()
}

// onRingTimeout fires when the 30-second ring timer elapses. The terminal and
// ringing guards make a late fire after accept/decline/end a no-op even if it
// raced the timer cancellation.
func (m *Manager) onRingTimeout(callID string) {
	s, ok := m.get(callID)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.state != domain.CallStateRinging {
		s.mu.Unlock()
		return
	}
	s.terminateLocked(domain.EndReasonTimeout)

	m.broadcastLocked(s, event.New(event.EventCallEnded, event.EndedPayload{
		CallID: s.callID,
		Reason: domain.EndReasonTimeout,
	}), "")
	m.metrics.CallEnded(domain.EndReasonTimeout, s.endedAt.Sub(s.createdAt))
	s.mu.Unlock()
	m.remove(callID)

	logger.Info("call ended",
		zap.String("call_id", callID),
		zap.String("reason", domain.EndReasonTimeout))
}

// failLocked moves the session to FAILED and reports it to every current
// participant. Caller holds s.mu and removes the session afterwards.
func (m *Manager) failLocked(s *session, reason string) {
	s.state = domain.CallStateFailed
	s.endReason = reason
	s.endedAt = time.Now()

	m.broadcastLocked(s, event.New(event.EventCallFailed, event.FailedPayload{
		CallID: s.callID,
		Reason: reason,
	}), "")
	m.metrics.CallFailed(reason)
	m.metrics.CallEnded(reason, s.endedAt.Sub(s.createdAt))
}

// terminateLocked records the ENDED state; the caller emits the broadcast
func (s *session) terminateLocked(reason string) {
	s.state = domain.CallStateEnded
	s.endReason = reason
	s.endedAt = time.Now()
}

func (s *session) stopRingTimerLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

// rosterLocked returns the participants ordered by join time
func (s *session) rosterLocked() []*domain.Participant {
	roster := make([]*domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		roster = append(roster, p)
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].JoinedAt.Equal(roster[j].JoinedAt) {
			return roster[i].UserID < roster[j].UserID
		}
		return roster[i].JoinedAt.Before(roster[j].JoinedAt)
	})
	return roster
}

func (s *session) rosterExceptLocked(userID string) []*domain.Participant {
	roster := s.rosterLocked()
	out := roster[:0]
	for _, p := range roster {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	return out
}

// broadcastLocked sends ev to every participant except the excluded user.
// Caller holds s.mu; sends are non-blocking channel writes, so no I/O happens
// inside the critical section.
func (m *Manager) broadcastLocked(s *session, ev event.WsEvent, except string) {
	for userID := range s.participants {
		if userID == except {
			continue
		}
		m.send(userID, ev)
	}
}

func (m *Manager) send(userID string, ev event.WsEvent) bool {
	if m.notifier == nil {
		return false
	}
	return m.notifier.SendToUser(userID, ev)
}
