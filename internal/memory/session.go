// Package memory implements SessionMemory: a Redis-backed sliding window
// of recent conversation turns, keyed by session ID.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// ErrUnavailable wraps any failure to reach the backing store. Callers
// should degrade gracefully (treat the session as empty) rather than fail
// the whole request.
var ErrUnavailable = errors.New("session memory store unavailable")

// entry is the wire shape stored per message: {r, c, t}.
type entry struct {
	Role    string    `json:"r"`
	Content string    `json:"c"`
	At      time.Time `json:"t"`
}

// redisClient is the subset of *redis.Client SessionMemory depends on,
// narrowed to an interface so tests can substitute a fake store instead of
// a live Redis connection.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	StrLen(ctx context.Context, key string) *redis.IntCmd
}

// SessionMemory is the Redis-backed sliding-window conversation store.
type SessionMemory struct {
	client redisClient
	ttl    time.Duration
	window int
}

// NewSessionMemory creates a SessionMemory over an existing Redis client.
// ttl is refreshed on every append; window caps the number of turns kept
// per session (oldest entries are dropped once the cap is exceeded).
func NewSessionMemory(client *redis.Client, ttl time.Duration, window int) *SessionMemory {
	return &SessionMemory{client: client, ttl: ttl, window: window}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("chat:session:%s:history", sessionID)
}

// Append records one conversation turn, trims the window to the configured
// cap, and refreshes the session's TTL. It refreshes on both user and
// assistant turns.
func (m *SessionMemory) Append(ctx context.Context, sessionID string, role model.Role, content string) error {
	key := sessionKey(sessionID)

	existing, err := m.loadRaw(ctx, key)
	if err != nil {
		return err
	}

	existing = append(existing, entry{Role: string(role), Content: content, At: time.Now().UTC()})
	if len(existing) > m.window {
		existing = existing[len(existing)-m.window:]
	}

	payload, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("memory.SessionMemory.Append: marshal: %w", err)
	}

	if err := m.client.Set(ctx, key, payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("memory.SessionMemory.Append: %w: %v", ErrUnavailable, err)
	}
	return nil
}

// History returns the session's turns, oldest first.
func (m *SessionMemory) History(ctx context.Context, sessionID string) ([]model.Message, error) {
	entries, err := m.loadRaw(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}

	messages := make([]model.Message, len(entries))
	for i, e := range entries {
		messages[i] = model.Message{Role: model.Role(e.Role), Content: e.Content, Timestamp: e.At}
	}
	return messages, nil
}

// Clear deletes a session's history outright.
func (m *SessionMemory) Clear(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("memory.SessionMemory.Clear: %w: %v", ErrUnavailable, err)
	}
	return nil
}

// Stats reports how many sessions are currently live and the approximate
// memory their serialized histories occupy in the backing store. Expired
// sessions never appear: their keys are gone once the TTL lapses.
type Stats struct {
	Sessions    int
	ApproxBytes int64
}

// Stats scans the session keyspace. The byte figure sums serialized value
// lengths, not Redis's per-key overhead, so it is an approximation.
func (m *SessionMemory) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var cursor uint64
	for {
		keys, next, err := m.client.Scan(ctx, cursor, "chat:session:*:history", 100).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("memory.SessionMemory.Stats: %w: %v", ErrUnavailable, err)
		}
		for _, key := range keys {
			stats.Sessions++
			if n, err := m.client.StrLen(ctx, key).Result(); err == nil {
				stats.ApproxBytes += n
			}
		}
		cursor = next
		if cursor == 0 {
			return stats, nil
		}
	}
}

func (m *SessionMemory) loadRaw(ctx context.Context, key string) ([]entry, error) {
	raw, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory.SessionMemory: %w: %v", ErrUnavailable, err)
	}

	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("memory.SessionMemory: decode: %w", err)
	}
	return entries, nil
}
