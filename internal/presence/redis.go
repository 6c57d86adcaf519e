package presence

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "presence:user:"
	instancePrefix = "presence:instance:"

	// DefaultStaleAfter must exceed the connection ping interval.
	DefaultStaleAfter = 2 * time.Minute
)

// RedisTracker keeps connection sets in Redis so several server processes share presence.
//
// Each user key is a sorted set of connection ids scored by last heartbeat. Members
// older than staleAfter belong to a process that died without disconnecting and are
// pruned inside the same MULTI block that decides a transition. Every connection is
// also listed under its owning instance so a restarted process can clear what it left.
type RedisTracker struct {
	client     *redis.Client
	instanceID string
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewRedisTracker(client *redis.Client, instanceID string, staleAfter time.Duration, logger *slog.Logger) *RedisTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &RedisTracker{
		client:     client,
		instanceID: instanceID,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger.With("component", "presence"),
	}
}

func (t *RedisTracker) instanceKey() string { return instancePrefix + t.instanceID }

func ownedMember(userID, connID string) string { return userID + "|" + connID }

func (t *RedisTracker) cutoff(now time.Time) string {
	return "(" + strconv.FormatInt(now.Add(-t.staleAfter).UnixMilli(), 10)
}

func (t *RedisTracker) RecordConnect(ctx context.Context, userID, connID string) (bool, error) {
	now := t.now()
	key := keyPrefix + userID

	var added, card *redis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "-inf", t.cutoff(now))
		added = p.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: connID})
		card = p.ZCard(ctx, key)
		p.PExpire(ctx, key, t.staleAfter)
		p.SAdd(ctx, t.instanceKey(), ownedMember(userID, connID))
		p.PExpire(ctx, t.instanceKey(), t.staleAfter)
		return nil
	})
	if err != nil {
		return false, err
	}
	return added.Val() == 1 && card.Val() == 1, nil
}

func (t *RedisTracker) RecordDisconnect(ctx context.Context, userID, connID string) (bool, error) {
	now := t.now()
	key := keyPrefix + userID

	var pruned, removed, card *redis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		pruned = p.ZRemRangeByScore(ctx, key, "-inf", t.cutoff(now))
		removed = p.ZRem(ctx, key, connID)
		card = p.ZCard(ctx, key)
		p.SRem(ctx, t.instanceKey(), ownedMember(userID, connID))
		return nil
	})
	if err != nil {
		return false, err
	}
	// a connection whose heartbeat lapsed was pruned rather than removed
	return card.Val() == 0 && removed.Val()+pruned.Val() > 0, nil
}

// Heartbeat refreshes a live connection. Unknown connections are not re-added.
func (t *RedisTracker) Heartbeat(ctx context.Context, userID, connID string) error {
	key := keyPrefix + userID
	_, err := t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAddXX(ctx, key, redis.Z{Score: float64(t.now().UnixMilli()), Member: connID})
		p.PExpire(ctx, key, t.staleAfter)
		p.PExpire(ctx, t.instanceKey(), t.staleAfter)
		return nil
	})
	return err
}

// IsOnline counts only fresh connections and treats a Redis failure as offline.
func (t *RedisTracker) IsOnline(ctx context.Context, userID string) bool {
	from := strconv.FormatInt(t.now().Add(-t.staleAfter).UnixMilli(), 10)
	n, err := t.client.ZCount(ctx, keyPrefix+userID, from, "+inf").Result()
	if err != nil {
		t.logger.WarnContext(ctx, "presence lookup failed",
			"operation", "presence_is_online",
			"outcome", "failure",
			"user_id", userID,
			"error", err.Error(),
		)
		return false
	}
	return n > 0
}

// Reset drops every connection this instance recorded. It runs at startup, before any
// connection is accepted, and again at shutdown; it returns how many entries it removed.
func (t *RedisTracker) Reset(ctx context.Context) (int, error) {
	owned, err := t.client.SMembers(ctx, t.instanceKey()).Result()
	if err != nil {
		return 0, err
	}
	_, err = t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, m := range owned {
			userID, connID, ok := strings.Cut(m, "|")
			if !ok {
				continue
			}
			p.ZRem(ctx, keyPrefix+userID, connID)
		}
		p.Del(ctx, t.instanceKey())
		return nil
	})
	if err != nil {
		return 0, err
	}
	t.logger.InfoContext(ctx, "presence reset",
		"operation", "presence_reset",
		"outcome", "success",
		"instance_id", t.instanceID,
		"connections", len(owned),
	)
	return len(owned), nil
}
