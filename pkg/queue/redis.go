package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store with LPUSH/BRPOP for the work list and a
// sorted set scored by due time for retries.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Push(ctx context.Context, key string, data []byte) error {
	return s.client.LPush(ctx, key, data).Err()
}

func (s *RedisStore) Pop(ctx context.Context, key string, wait time.Duration) ([]byte, error) {
	res, err := s.client.BRPop(ctx, wait, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

func (s *RedisStore) Schedule(ctx context.Context, key string, data []byte, at time.Time) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: data}).Err()
}

func (s *RedisStore) Due(ctx context.Context, key string, now time.Time) ([][]byte, error) {
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}

// Promote moves one member from the retry set back onto the work list in a
// single transaction.
func (s *RedisStore) Promote(ctx context.Context, from, to string, data []byte) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, from, data)
	pipe.LPush(ctx, to, data)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Len(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}
