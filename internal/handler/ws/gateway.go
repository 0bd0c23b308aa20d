// Package ws is the WebSocket front door for call signaling. One connection
// per user, upgraded over HTTP, registered against a logical identity, then
// driven by JSON events until it drops.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"signalhub-backend/internal/call"
	"signalhub-backend/internal/domain"
	"signalhub-backend/internal/event"
	"signalhub-backend/internal/presence"
	"signalhub-backend/internal/registry"
	"signalhub-backend/pkg/constants"
	"signalhub-backend/pkg/jwt"
	"signalhub-backend/pkg/logger"
	"signalhub-backend/pkg/metrics"
	"signalhub-backend/pkg/turn"
)

// Gateway owns the live WebSocket connections and routes inbound events to
// the call manager and relay. It is the call package's Notifier: outbound
// events travel back through it to per-connection send buffers.
type Gateway struct {
	registry *registry.Registry
	manager  *call.Manager
	relay    *call.Relay
	issuer   *turn.Issuer
	verifier *jwt.Verifier // nil disables token verification
	presence presence.Tracker
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*Client // connectionID -> client

	maxConnections int
	semaphore      chan struct{}
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
}

// Options configures the gateway
type Options struct {
	Registry       *registry.Registry
	Manager        *call.Manager
	Relay          *call.Relay
	Issuer         *turn.Issuer
	Verifier       *jwt.Verifier
	Presence       presence.Tracker
	Metrics        *metrics.Metrics
	MaxConnections int
	AllowedOrigins []string
}

// NewGateway creates the gateway and wires it into the call manager as its
// outbound notifier
func NewGateway(opts Options) *Gateway {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = constants.MaxSignalingConnections
	}
	if opts.Presence == nil {
		opts.Presence = presence.LogOnly{}
	}

	allowed := make(map[string]bool, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		allowed[origin] = true
	}

	g := &Gateway{
		registry:       opts.Registry,
		manager:        opts.Manager,
		relay:          opts.Relay,
		issuer:         opts.Issuer,
		verifier:       opts.Verifier,
		presence:       opts.Presence,
		metrics:        opts.Metrics,
		clients:        make(map[string]*Client),
		maxConnections: opts.MaxConnections,
		semaphore:      make(chan struct{}, opts.MaxConnections),
		allowedOrigins: allowed,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}

	opts.Manager.SetNotifier(g)
	return g
}

// checkOrigin enforces the configured allow-list. An empty list admits every
// origin, for development setups.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	return g.allowedOrigins[origin]
}

// ServeWS upgrades an HTTP request to a signaling connection
func (g *Gateway) ServeWS(c *gin.Context) {
	select {
	case g.semaphore <- struct{}{}:
	default:
		logger.Warn("websocket connection rejected: max connections reached",
			zap.Int("max_connections", g.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-g.semaphore
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, constants.WebSocketSendBuffer),
		connID:  uuid.NewString(),
	}

	g.mu.Lock()
	g.clients[client.connID] = client
	g.mu.Unlock()
	g.metrics.ConnectionOpened()

	logger.Debug("websocket connection opened",
		zap.String("connection_id", client.connID))

	go client.writePump()
	go client.readPump()
}

// SendToUser pushes an outbound event to the user's live connection.
// Non-blocking: a full send buffer counts as undeliverable, never stalls the
// caller.
func (g *Gateway) SendToUser(userID string, ev event.WsEvent) bool {
	connID, ok := g.registry.Lookup(userID)
	if !ok {
		return false
	}
	return g.sendToConn(connID, ev)
}

func (g *Gateway) sendToConn(connID string, ev event.WsEvent) bool {
	g.mu.RLock()
	client, ok := g.clients[connID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	return client.enqueue(ev)
}

// ConnectedUsers returns the number of registered users
func (g *Gateway) ConnectedUsers() int {
	return g.registry.Count()
}

// register binds an authenticated identity to the connection. The previous
// connection for the same user, if any, is told it was replaced and closed.
func (g *Gateway) register(c *Client, identity domain.Identity) {
	displaced, had := g.registry.Register(identity.UserID, c.connID)
	if had {
		g.sendToConn(displaced, event.New(event.EventUserReplaced, event.ReplacedPayload{
			Reason: "connected elsewhere",
		}))
		g.closeConn(displaced)
	}

	c.setIdentity(identity)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.presence.SetOnline(ctx, identity.UserID); err != nil {
		logger.Warn("failed to mirror presence online",
			zap.String("user_id", identity.UserID),
			zap.Error(err))
	}

	c.enqueue(event.New(event.EventUserRegistered, event.RegisteredPayload{
		UserID:     identity.UserID,
		IceServers: g.issuer.ICEServers(time.Now()),
	}))

	logger.Info("user registered on signaling connection",
		zap.String("user_id", identity.UserID),
		zap.String("connection_id", c.connID))
}

// closeConn closes the displaced connection after its replacement notice has
// been queued
func (g *Gateway) closeConn(connID string) {
	g.mu.RLock()
	client, ok := g.clients[connID]
	g.mu.RUnlock()
	if ok {
		client.closeSoon()
	}
}

// handleDisconnect tears down everything tied to the dropped connection:
// call membership, registry binding, and the presence mirror.
func (g *Gateway) handleDisconnect(c *Client) {
	g.mu.Lock()
	delete(g.clients, c.connID)
	g.mu.Unlock()
	<-g.semaphore
	g.metrics.ConnectionClosed()

	g.manager.HandleDisconnect(c.connID)

	userID, registered := g.registry.UserFor(c.connID)
	g.registry.Unregister(c.connID)
	if registered {
		if _, stillOnline := g.registry.Lookup(userID); !stillOnline {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := g.presence.SetOffline(ctx, userID); err != nil {
				logger.Warn("failed to mirror presence offline",
					zap.String("user_id", userID),
					zap.Error(err))
			}
		}
	}

	logger.Debug("websocket connection closed",
		zap.String("connection_id", c.connID),
		zap.String("user_id", userID))
}

// refreshPresence extends the presence TTL on pong traffic
func (g *Gateway) refreshPresence(userID string) {
	if userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.presence.Refresh(ctx, userID); err != nil {
		logger.Debug("presence refresh failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}
