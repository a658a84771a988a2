// README: Dispatch bookkeeping backed by Redis sorted sets and sets.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"hometaste/internal/types"
)

const (
	pendingKey         = "dispatch:pending"
	notifiedKeyPrefix  = "dispatch:order:%s:notified"
	broadcastKeyPrefix = "dispatch:order:%s:broadcast"
)

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis}
}

// RecordDispatch stores the dispatch time and the partners that were offered the order.
func (s *RedisStore) RecordDispatch(ctx context.Context, orderID types.ID, partnerIDs []types.ID, at time.Time) error {
	pipe := s.redis.Pipeline()
	pipe.ZAdd(ctx, pendingKey, redis.Z{Score: float64(at.UnixMilli()), Member: string(orderID)})
	addNotified(ctx, pipe, orderID, partnerIDs)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "record dispatch")
}

// Due returns orders dispatched at or before the cutoff that are still waiting for the
// wider broadcast.
func (s *RedisStore) Due(ctx context.Context, cutoff time.Time) ([]types.ID, error) {
	members, err := s.redis.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list due dispatches")
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

// DispatchedAt reports when the order was first dispatched, if it is still pending.
func (s *RedisStore) DispatchedAt(ctx context.Context, orderID types.ID) (time.Time, bool, error) {
	score, err := s.redis.ZScore(ctx, pendingKey, string(orderID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "dispatch time")
	}
	return time.UnixMilli(int64(score)), true, nil
}

func (s *RedisStore) Notified(ctx context.Context, orderID types.ID) ([]types.ID, error) {
	members, err := s.redis.SMembers(ctx, notifiedKey(orderID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list notified partners")
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

// MarkBroadcast closes the pending entry so the order is broadcast only once.
func (s *RedisStore) MarkBroadcast(ctx context.Context, orderID types.ID, partnerIDs []types.ID) error {
	pipe := s.redis.Pipeline()
	pipe.ZRem(ctx, pendingKey, string(orderID))
	pipe.Set(ctx, broadcastKey(orderID), "1", keyTTL)
	addNotified(ctx, pipe, orderID, partnerIDs)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "mark broadcast")
}

func (s *RedisStore) IsBroadcast(ctx context.Context, orderID types.ID) (bool, error) {
	val, err := s.redis.Get(ctx, broadcastKey(orderID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "broadcast flag")
	}
	return val == "1", nil
}

// Forget drops all bookkeeping for an order that was claimed or cancelled.
func (s *RedisStore) Forget(ctx context.Context, orderID types.ID) error {
	pipe := s.redis.Pipeline()
	pipe.ZRem(ctx, pendingKey, string(orderID))
	pipe.Del(ctx, notifiedKey(orderID), broadcastKey(orderID))
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "forget dispatch")
}

func addNotified(ctx context.Context, pipe redis.Pipeliner, orderID types.ID, partnerIDs []types.ID) {
	if len(partnerIDs) == 0 {
		return
	}
	members := make([]interface{}, len(partnerIDs))
	for i, d := range partnerIDs {
		members[i] = string(d)
	}
	key := notifiedKey(orderID)
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, keyTTL)
}

func notifiedKey(orderID types.ID) string {
	return fmt.Sprintf(notifiedKeyPrefix, string(orderID))
}

func broadcastKey(orderID types.ID) string {
	return fmt.Sprintf(broadcastKeyPrefix, string(orderID))
}
