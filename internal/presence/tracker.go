// Package presence answers "is this user connected right now?".
// It is deliberately independent of any persisted online-status column.
package presence

import (
	"context"
	"sync"
)

// Tracker records live connections per user.
// RecordConnect reports an offline->online transition and RecordDisconnect an
// online->offline one, so callers broadcast exactly once per transition.
type Tracker interface {
	RecordConnect(ctx context.Context, userID, connID string) (bool, error)
	RecordDisconnect(ctx context.Context, userID, connID string) (bool, error)
	// Heartbeat marks a connection as still alive.
	Heartbeat(ctx context.Context, userID, connID string) error
	IsOnline(ctx context.Context, userID string) bool
}

// MemoryTracker is the single-process Tracker. Presence does not survive a restart;
// clients correct it by reconnecting.
type MemoryTracker struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{}
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{conns: make(map[string]map[string]struct{})}
}

func (t *MemoryTracker) RecordConnect(_ context.Context, userID, connID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	wasOffline := len(set) == 0
	set[connID] = struct{}{}
	return wasOffline, nil
}

func (t *MemoryTracker) RecordDisconnect(_ context.Context, userID, connID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		return false, nil
	}
	if _, present := set[connID]; !present {
		return false, nil
	}
	delete(set, connID)
	if len(set) > 0 {
		return false, nil
	}
	delete(t.conns, userID)
	return true, nil
}

// Heartbeat is a no-op: in-process connections cannot outlive the process that tracks them.
func (t *MemoryTracker) Heartbeat(context.Context, string, string) error { return nil }

func (t *MemoryTracker) IsOnline(_ context.Context, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns[userID]) > 0
}

// OnlineCount returns the number of users with at least one connection.
func (t *MemoryTracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Statuses resolves presence for a batch of users.
func Statuses(ctx context.Context, t Tracker, userIDs []string) map[string]bool {
	out := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		out[id] = t.IsOnline(ctx, id)
	}
	return out
}
