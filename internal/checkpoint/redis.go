package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefixCheckpoint = "ckpt:"
	keyThreadIndex      = "ckpt_threads"

	fieldStatus   = "status"
	fieldLastNode = "last_node"
	fieldState    = "state_json"
	fieldTS       = "ts"
)

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// RedisStore keeps one hash per thread plus a sorted set index ordered by update time.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) checkpointKey(threadID string) string {
	return s.prefix + keyPrefixCheckpoint + threadID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + keyThreadIndex
}

func (s *RedisStore) Load(ctx context.Context, threadID string) (*Record, error) {
	data, err := s.client.HGetAll(ctx, s.checkpointKey(threadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get checkpoint data: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return recordFromHash(threadID, data)
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	now := time.Now().UTC()
	key := s.checkpointKey(rec.ThreadID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			fieldStatus:   rec.Status,
			fieldLastNode: rec.LastNode,
			fieldState:    string(rec.State),
			fieldTS:       strconv.FormatInt(now.UnixNano(), 10),
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(now.UnixNano()), Member: rec.ThreadID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	rec.UpdatedAt = now
	return nil
}

func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	limit := normalizeListLimit(opts.Limit)
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	out := make([]Record, 0, limit)
	for _, id := range ids {
		rec, err := s.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// hash 已过期，顺手清理索引
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		out = append(out, *rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.checkpointKey(threadID))
		pipe.ZRem(ctx, s.indexKey(), threadID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// DeleteBefore walks the index from the oldest entry; hashes that already expired are dropped from the index too.
func (s *RedisStore) DeleteBefore(ctx context.Context, before time.Time, statuses []string, limit int) (int64, error) {
	limit = normalizeListLimit(limit)
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan checkpoint index: %w", err)
	}

	var n int64
	for _, id := range ids {
		if n >= int64(limit) {
			break
		}
		status, err := s.client.HGet(ctx, s.checkpointKey(id), fieldStatus).Result()
		if errors.Is(err, redis.Nil) {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return n, fmt.Errorf("get checkpoint status: %w", err)
		}
		if !statusIn(status, statuses) {
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func recordFromHash(threadID string, data map[string]string) (*Record, error) {
	rec := &Record{
		ThreadID: threadID,
		Status:   data[fieldStatus],
		LastNode: data[fieldLastNode],
		State:    []byte(data[fieldState]),
	}
	if ts := data[fieldTS]; ts != "" {
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		rec.UpdatedAt = time.Unix(0, n).UTC()
	}
	return rec, nil
}
