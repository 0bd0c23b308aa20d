package call

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"signalhub-backend/internal/domain"
	"signalhub-backend/internal/event"
	"signalhub-backend/pkg/logger"
)

// Relay forwards SDP offers/answers and ICE candidates between peers of a
// live call. The server never inspects signaling bodies; it validates the
// envelope, records the signal on the session, and pushes it to the target.
// Delivery is best-effort: an unreachable target is logged and counted, never
// an error back to the sender.
type Relay struct {
	manager *Manager
}

// NewRelay wraps the session manager's table with signal forwarding
func NewRelay(m *Manager) *Relay {
	return &Relay{manager: m}
}

// RelayOffer forwards an SDP offer from one peer to another
func (r *Relay) RelayOffer(callID, fromUserID, targetUserID string, body json.RawMessage) {
	r.relay(domain.SignalOffer, callID, fromUserID, targetUserID, body)
}

// RelayAnswer forwards an SDP answer. The first answer relayed while the call
// is CONNECTING marks the session ACTIVE: media negotiation has completed
// end to end.
func (r *Relay) RelayAnswer(callID, fromUserID, targetUserID string, body json.RawMessage) {
	r.relay(domain.SignalAnswer, callID, fromUserID, targetUserID, body)
}

// RelayCandidate forwards an ICE candidate
func (r *Relay) RelayCandidate(callID, fromUserID, targetUserID string, body json.RawMessage) {
	r.relay(domain.SignalCandidate, callID, fromUserID, targetUserID, body)
}

func (r *Relay) relay(kind domain.SignalKind, callID, fromUserID, targetUserID string, body json.RawMessage) {
	s, ok := r.manager.get(callID)
	if !ok {
		// Signals racing teardown are expected; drop quietly.
		logger.Debug("dropping signal for unknown call",
			zap.String("call_id", callID),
			zap.String("kind", string(kind)),
			zap.String("from", fromUserID))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}

	key := pairKey{from: fromUserID, to: targetUserID}
	s.pending[key] = append(s.pending[key], domain.PendingSignal{
		Kind:     kind,
		From:     fromUserID,
		To:       targetUserID,
		Payload:  body,
		QueuedAt: time.Now(),
	})

	if kind == domain.SignalAnswer && s.state == domain.CallStateConnecting {
		s.state = domain.CallStateActive
		logger.Info("call active",
			zap.String("call_id", s.callID))
	}

	if delivered := r.manager.send(targetUserID, event.ForwardedSignal(kind, callID, fromUserID, body)); !delivered {
		r.manager.metrics.SignalBuffered(string(kind))
		logger.Warn("signal undeliverable, retained on session",
			zap.String("call_id", callID),
			zap.String("kind", string(kind)),
			zap.String("from", fromUserID),
			zap.String("to", targetUserID))
		return
	}
	r.manager.metrics.SignalRelayed(string(kind))
}
