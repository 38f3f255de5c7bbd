package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	redis "github.com/redis/go-redis/v9"

	"github.com/kimhsiao/ridelink/backend/internal/models"
)

const (
	redisGroupsKey  = "%s:groups"         // set of group names
	redisEntriesKey = "%s:group:%s"       // hash: cache key -> JSON entry
	redisTimesKey   = "%s:group:%s:times" // zset: cache key scored by StoredAt
)

// RedisStore keeps cache groups in Redis so several agents on one host share them.
// Each group is a hash of entries plus a sorted set of stored times.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore creates a RedisStore whose keys live under namespace.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "ridelink:cache"
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) groupsKey() string {
	return fmt.Sprintf(redisGroupsKey, s.namespace)
}

func (s *RedisStore) entriesKey(group string) string {
	return fmt.Sprintf(redisEntriesKey, s.namespace, group)
}

func (s *RedisStore) timesKey(group string) string {
	return fmt.Sprintf(redisTimesKey, s.namespace, group)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, group, key string) (*models.CacheEntry, error) {
	raw, err := s.client.HGet(ctx, s.entriesKey(group), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry failed: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry failed: %w", err)
	}
	return &entry, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, entry *models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry failed: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.groupsKey(), entry.Group)
		pipe.HSet(ctx, s.entriesKey(entry.Group), entry.Key, raw)
		pipe.ZAdd(ctx, s.timesKey(entry.Group), redis.Z{Score: float64(entry.StoredAt), Member: entry.Key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put cache entry failed: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, group, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.entriesKey(group), key)
		pipe.ZRem(ctx, s.timesKey(group), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete cache entry failed: %w", err)
	}

	remaining, err := s.client.HLen(ctx, s.entriesKey(group)).Result()
	if err != nil {
		return fmt.Errorf("count cache group failed: %w", err)
	}
	if remaining == 0 {
		return s.DeleteGroup(ctx, group)
	}
	return nil
}

// Entries implements Store.
func (s *RedisStore) Entries(ctx context.Context, group string) ([]EntryInfo, error) {
	scored, err := s.client.ZRangeWithScores(ctx, s.timesKey(group), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list cache entries failed: %w", err)
	}

	infos := make([]EntryInfo, 0, len(scored))
	for _, z := range scored {
		member, _ := z.Member.(string)
		infos = append(infos, EntryInfo{Key: member, StoredAt: int64(z.Score)})
	}
	return infos, nil
}

// Groups implements Store.
func (s *RedisStore) Groups(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.groupsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list cache groups failed: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteGroup implements Store.
func (s *RedisStore) DeleteGroup(ctx context.Context, group string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.entriesKey(group), s.timesKey(group))
		pipe.SRem(ctx, s.groupsKey(), group)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete cache group failed: %w", err)
	}
	return nil
}
