// Package presence mirrors connection state into Redis so sibling services
// can answer "is this user reachable for a call" without asking the gateway.
// The in-process registry stays authoritative; this mirror is best-effort.
package presence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"signalhub-backend/internal/database"
	"signalhub-backend/pkg/constants"
	"signalhub-backend/pkg/logger"
)

// Tracker records which users hold a live signaling connection
type Tracker interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineCount(ctx context.Context) (int64, error)
}

// RedisTracker stores presence in Redis: a per-user key with a TTL refreshed
// by the connection's ping loop, plus a set for cheap counting.
type RedisTracker struct {
	client *database.RedisClient
}

// NewRedisTracker creates a Redis-backed presence tracker
func NewRedisTracker(client *database.RedisClient) *RedisTracker {
	return &RedisTracker{client: client}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("signaling:presence:%s", userID)
}

const onlineSetKey = "signaling:presence:online"

// SetOnline marks the user reachable. The key expires on its own if the
// connection dies without a clean unregister.
func (t *RedisTracker) SetOnline(ctx context.Context, userID string) error {
	if err := t.client.SafeSet(ctx, presenceKey(userID), "online", constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	if err := t.client.SafeSAdd(ctx, onlineSetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}
	return nil
}

// SetOffline removes the user's presence entry
func (t *RedisTracker) SetOffline(ctx context.Context, userID string) error {
	if err := t.client.SafeDel(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := t.client.SafeSRem(ctx, onlineSetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}
	return nil
}

// Refresh extends the presence TTL; called from the connection's ping loop
func (t *RedisTracker) Refresh(ctx context.Context, userID string) error {
	if err := t.client.SafeExpire(ctx, presenceKey(userID), constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// IsOnline checks whether the user has a live presence entry
func (t *RedisTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	exists, err := t.client.SafeExists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// OnlineCount returns the number of users marked online
func (t *RedisTracker) OnlineCount(ctx context.Context) (int64, error) {
	count, err := t.client.SafeSCard(ctx, onlineSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online users: %w", err)
	}
	return count, nil
}

// LogOnly is the tracker used when Redis is not configured. Presence stays
// in-process only; transitions are logged for operators.
type LogOnly struct{}

func (LogOnly) SetOnline(_ context.Context, userID string) error {
	logger.Debug("presence mirror disabled, user online", zap.String("user_id", userID))
	return nil
}

func (LogOnly) SetOffline(_ context.Context, userID string) error {
	logger.Debug("presence mirror disabled, user offline", zap.String("user_id", userID))
	return nil
}

func (LogOnly) Refresh(context.Context, string) error { return nil }

func (LogOnly) IsOnline(context.Context, string) (bool, error) { return false, nil }

func (LogOnly) OnlineCount(context.Context) (int64, error) { return 0, nil }
