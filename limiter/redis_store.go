package limiter

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// redisStore implements the Store interface using Redis sorted sets.
type redisStore struct {
	client redis.Cmdable // Use Cmdable for compatibility with ClusterClient, SentinelClient, etc.
}

// NewRedisStore creates a new Redis counter store.
// It expects a pre-configured redis.Cmdable (e.g., redis.Client or redis.ClusterClient).
func NewRedisStore(client redis.Cmdable) Store {
	return &redisStore{
		client: client,
	}
}

// Exec implements the Store interface for Redis storage.
// The batch is sent inside MULTI/EXEC so Redis applies it without interleaving
// commands from other clients. None of the ops depends on an earlier op's
// reply, which is what makes a transaction (rather than a script) sufficient.
func (s *redisStore) Exec(ctx context.Context, key string, ops ...Op) (int64, error) {
	for _, op := range ops {
		if op.Kind < OpRemoveRange || op.Kind > OpExpire {
			return 0, fmt.Errorf("%w: %d", ErrUnknownOp, op.Kind)
		}
	}

	var count *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			switch op.Kind {
			case OpRemoveRange:
				pipe.ZRemRangeByScore(ctx, key, scoreBound(op.Min), scoreBound(op.Max))
			case OpAdd:
				pipe.ZAdd(ctx, key, redis.Z{Score: float64(op.Score), Member: op.Member})
			case OpCount:
				count = pipe.ZCount(ctx, key, scoreBound(op.Min), scoreBound(op.Max))
			case OpExpire:
				pipe.PExpire(ctx, key, op.TTL)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis transaction failed for key %s: %w", key, err)
	}

	if count == nil {
		return 0, nil
	}
	return count.Val(), nil
}

// Count implements the Store interface for Redis storage.
func (s *redisStore) Count(ctx context.Context, key string, min, max int64) (int64, error) {
	n, err := s.client.ZCount(ctx, key, scoreBound(min), scoreBound(max)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount failed for key %s: %w", key, err)
	}
	return n, nil
}

// Reset implements the Store interface for Redis storage.
func (s *redisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed for key %s: %w", key, err)
	}
	return nil
}

// scoreBound renders an inclusive score bound, mapping the int64 extremes to infinities.
func scoreBound(v int64) string {
	switch v {
	case math.MinInt64:
		return "-inf"
	case math.MaxInt64:
		return "+inf"
	default:
		return strconv.FormatInt(v, 10)
	}
}
