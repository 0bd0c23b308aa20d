package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"signalhub-backend/internal/domain"
	"signalhub-backend/internal/event"
	"signalhub-backend/pkg/constants"
	apperrors "signalhub-backend/pkg/errors"
	"signalhub-backend/pkg/logger"
)

// Client is one WebSocket connection. Identity is nil until a successful
// user:register; every call-scoped event before that is rejected.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	connID  string

	mu       sync.RWMutex
	identity *domain.Identity
	closed   bool
}

func (c *Client) setIdentity(identity domain.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = &identity
}

func (c *Client) getIdentity() (domain.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return domain.Identity{}, false
	}
	return *c.identity, true
}

// enqueue queues an outbound event without blocking. A full buffer means the
// client is not draining; the event is dropped and counted.
func (c *Client) enqueue(ev event.WsEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		c.gateway.metrics.RecordMessage("outbound", ev.Event)
		return true
	default:
		c.gateway.metrics.RecordWebSocketError("send_buffer_full")
		logger.Warn("dropping outbound event, send buffer full",
			zap.String("connection_id", c.connID),
			zap.String("event", ev.Event))
		return false
	}
}

// closeSoon closes the send channel so the write pump flushes queued events
// and shuts the connection down
func (c *Client) closeSoon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads inbound events until the connection drops, then tears down
// everything bound to it
func (c *Client) readPump() {
	defer func() {
		c.gateway.handleDisconnect(c)
		c.closeSoon()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
		if identity, ok := c.getIdentity(); ok {
			c.gateway.refreshPresence(identity.UserID)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket read failed",
					zap.String("connection_id", c.connID),
					zap.Error(err))
			}
			return
		}
		c.dispatch(message)
	}
}

// writePump writes queued events and pings the peer on an interval
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound event. A panic in a handler fails the affected
// call rather than killing the connection's read loop uncontrolled.
func (c *Client) dispatch(raw []byte) {
	var ev event.WsEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.gateway.metrics.RecordWebSocketError("malformed_envelope")
		logger.Warn("malformed signaling message",
			zap.String("connection_id", c.connID),
			zap.Error(err))
		return
	}
	c.gateway.metrics.RecordMessage("inbound", ev.Event)

	defer func() {
		if r := recover(); r != nil {
			c.gateway.metrics.RecordWebSocketError("handler_panic")
			logger.Error("panic handling signaling event",
				zap.String("connection_id", c.connID),
				zap.String("event", ev.Event),
				zap.Any("panic", r))
			if callID := extractCallID(ev.Payload); callID != "" {
				c.gateway.manager.Fail(callID, apperrors.SignalingInternalError(nil))
			}
		}
	}()

	if ev.Event == event.EventUserRegister {
		c.handleRegister(ev)
		return
	}

	identity, registered := c.getIdentity()
	if !registered {
		c.gateway.metrics.RecordWebSocketError("unregistered_sender")
		logger.Warn("event from unregistered connection",
			zap.String("connection_id", c.connID),
			zap.String("event", ev.Event))
		return
	}

	switch ev.Event {
	case event.EventCallInitiate:
		c.handleInitiate(ev, identity)
	case event.EventCallAnswer:
		c.handleAnswer(ev, identity)
	case event.EventCallJoin:
		c.handleJoin(ev, identity)
	case event.EventWebRTCOffer:
		c.handleSignal(ev, identity, domain.SignalOffer)
	case event.EventWebRTCAnswer:
		c.handleSignal(ev, identity, domain.SignalAnswer)
	case event.EventWebRTCCandidate:
		c.handleSignal(ev, identity, domain.SignalCandidate)
	case event.EventCallMute:
		c.handleMute(ev, identity)
	case event.EventCallVideoToggle:
		c.handleVideo(ev, identity)
	case event.EventCallEnd:
		c.handleEnd(ev, identity)
	default:
		c.gateway.metrics.RecordWebSocketError("unknown_event")
		logger.Warn("unknown signaling event",
			zap.String("connection_id", c.connID),
			zap.String("event", ev.Event))
	}
}

// handleRegister authenticates and binds an identity to the connection.
// With a verifier configured the token is mandatory and its claims win over
// the payload.
func (c *Client) handleRegister(ev event.WsEvent) {
	var payload event.RegisterPayload
	if err := ev.Decode(&payload); err != nil {
		c.rejectPayload(ev.Event, err)
		return
	}

	identity := domain.Identity{UserID: payload.UserID, DisplayName: payload.UserName}
	if c.gateway.verifier != nil {
		claims, err := c.gateway.verifier.Verify(payload.Token)
		if err != nil || claims.UserID != payload.UserID {
			logger.Warn("rejecting registration with invalid identity token",
				zap.String("connection_id", c.connID),
				zap.String("user_id", payload.UserID),
				zap.Error(err))
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid identity token"),
				time.Now().Add(constants.WebSocketWriteTimeout))
			c.conn.Close()
			return
		}
		identity.UserID = claims.UserID
		if claims.DisplayName != "" {
			identity.DisplayName = claims.DisplayName
		}
	}

	c.gateway.register(c, identity)
}

func (c *Client) handleInitiate(ev event.WsEvent, identity domain.Identity) {
	var payload event.InitiatePayload
	if err := ev.Decode(&payload); err != nil {
		c.rejectPayload(ev.Event, err)
		return
	}

	// The offline failure already reached the initiator as call:failed.
	if _, err := c.gateway.manager.Initiate(identity, c.connID, payload.TargetUserID, payload.CallType, payload.ChatID); err != nil {
		if !apperrors.IsCode(err, apperrors.ErrCodeTargetOffline) {
			logger.Error("call initiation failed",
				zap.String("user_id", identity.UserID),
				zap.Error(err))
		}
	}
}

func (c *Client) handleAnswer(ev event.WsEvent, identity domain.Identity) {
	var payload event.AnswerPayload
	if err := ev.Decode(&payload); err != nil {
		c.rejectPayload(ev.Event, err)
		return
	}

	if err := c.gateway.manager.Answer(payload.CallID, identity, c.connID, payload.Accept); err != nil {
		c.reportCallError(payload.CallID, err)
	}
}

func (c *Client) handleJoin(ev event.WsEvent, identity domain.Identity) {
	var payload event.JoinPayload
	if err := ev.Decode(&payload); err != nil {
		c.rejectPayload(ev.Event, err)
		return
	}

	if err := c.gateway.manager.Join(payload.CallID, identity, c.connID); err != nil {
		c.reportCallError(payload.CallID, err)
	}
}

func (c *Client) handleSignal(ev event.WsEvent, identity domain.Identity, kind domain.SignalKind) {
	var payload event.SignalPayload
	if err := ev.Decode(&payload); err != nil {
		c.rejectPayload(ev.Event, err)
		return
	}

	body := payload.Body(kind)
	switch kind {
	case domain.SignalOffer:
		c.gateway.relay.RelayOffer(payload.CallID, identity.UserID, payload.TargetUserID, body)
	case domain.SignalAnswer:
		c.gateway.relay.RelayAnswer(payload.CallID, identity.UserID, payload.TargetUserID, body)
	default:
		c.gateway.relay.RelayCandidate(payload.CallID, identity.UserID, payload.TargetUserID, body)
	}
}

func (c *Client) handleMute(ev event.WsEvent, identity domain.Identity) {
	var payload event.MutePayload
	if err := ev.Decode(&payload); err != nil {
		c.rejectPayload(ev.Event, err)
		return
	}
	c.gateway.manager.SetMute(payload.CallID, identity.UserID, payload.Muted)
}

func (c *Client) handleVideo(ev event.WsEvent, identity domain.Identity) {
	var payload event.VideoPayload
	if err := ev.Decode(&payload); err != nil {
		c.rejectPayload(ev.Event, err)
		return
	}
	c.gateway.manager.SetVideo(payload.CallID, identity.UserID, payload.VideoEnabled)
}

func (c *Client) handleEnd(ev event.WsEvent, identity domain.Identity) {
	var payload event.EndPayload
	if err := ev.Decode(&payload); err != nil {
		c.rejectPayload(ev.Event, err)
		return
	}
	c.gateway.manager.End(payload.CallID, identity.UserID, domain.EndReasonEndedByUser)
}

// rejectPayload logs an invalid inbound payload. The sender gets no error
// event; a client violating the schema is a bug on its side, not a call
// state change.
func (c *Client) rejectPayload(eventName string, err error) {
	c.gateway.metrics.RecordWebSocketError("invalid_payload")
	logger.Warn("rejecting invalid payload",
		zap.String("connection_id", c.connID),
		zap.String("event", eventName),
		zap.Error(err))
}

// reportCallError surfaces a call-scoped failure back to the sender
func (c *Client) reportCallError(callID string, err error) {
	appErr := apperrors.GetAppError(err)
	c.enqueue(event.New(event.EventCallFailed, event.FailedPayload{
		CallID: callID,
		Reason: string(appErr.Code),
	}))
}

// extractCallID pulls callId out of an arbitrary payload for failure scoping
func extractCallID(payload json.RawMessage) string {
	var probe struct {
		CallID string `json:"callId"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.CallID
}
