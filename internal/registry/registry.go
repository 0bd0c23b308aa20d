// Package registry maps logical user identities to their live signaling
// connection. One authoritative connection per user: registering again
// displaces the previous connection (last-registration-wins).
package registry

import (
	"sync"

	"go.uber.org/zap"

	"signalhub-backend/pkg/logger"
)

// Registry is the process-wide identity-to-connection table
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]string // userID -> connectionID
	byConn map[string]string // connectionID -> userID
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Register records connID as the authoritative connection for userID.
// Returns the displaced connection id, if any, so the caller can notify it.
func (r *Registry) Register(userID, connID string) (displaced string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.byUser[userID]; exists && prev != connID {
		delete(r.byConn, prev)
		displaced, ok = prev, true
		logger.Info("displacing previous connection for user",
			zap.String("user_id", userID),
			zap.String("old_connection_id", prev),
			zap.String("new_connection_id", connID))
	}

	r.byUser[userID] = connID
	r.byConn[connID] = userID
	return displaced, ok
}

// Lookup returns the live connection for userID, if any
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byUser[userID]
	return connID, ok
}

// UserFor returns the user registered on connID, if any
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byConn[connID]
	return userID, ok
}

// Unregister removes connID from the table. A stale unregister (the user has
// since re-registered on another connection) leaves the newer entry intact.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if r.byUser[userID] == connID {
		delete(r.byUser, userID)
	}
}

// Count returns the number of registered users
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
