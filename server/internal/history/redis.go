package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

const maxTxRetries = 5

// RedisStore 把最近会话列表存成 history:<browserID> 下的 JSON 数组，带 TTL。
// 浏览器会话过期后列表随之过期，和原先 sessionStorage 的生命周期一致。
type RedisStore struct {
	client *redis.Client
	limit  int
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 历史存储
func NewRedisStore(client *redis.Client, limit int, ttl time.Duration) *RedisStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, limit: limit, ttl: ttl}
}

// NewRedisClient 按地址创建客户端并 PING 一次
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func key(browserID string) string {
	return "history:" + browserID
}

func (s *RedisStore) Add(ctx context.Context, browserID string, entry model.HistoryEntry) (bool, error) {
	var added bool
	err := s.update(ctx, browserID, func(list []model.HistoryEntry) ([]model.HistoryEntry, bool) {
		list, added = addEntry(list, entry, s.limit)
		return list, added
	})
	return added, err
}

func (s *RedisStore) Complete(ctx context.Context, browserID, id string, turns []model.ConversationTurn, fb *model.Feedback) error {
	return s.update(ctx, browserID, func(list []model.HistoryEntry) ([]model.HistoryEntry, bool) {
		return list, completeEntry(list, id, turns, fb)
	})
}

func (s *RedisStore) List(ctx context.Context, browserID string) ([]model.HistoryEntry, error) {
	data, err := s.client.Get(ctx, key(browserID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []model.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return decode(data)
}

// update 用 WATCH 乐观事务做读改写，冲突时重试。
func (s *RedisStore) update(ctx context.Context, browserID string, fn func([]model.HistoryEntry) ([]model.HistoryEntry, bool)) error {
	k := key(browserID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		var list []model.HistoryEntry
		if len(data) > 0 {
			if list, err = decode(data); err != nil {
				return err
			}
		}

		list, changed := fn(list)
		if !changed {
			return nil
		}
		out, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("marshal history: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, out, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update history: %w", err)
		}
		return nil
	}
	return fmt.Errorf("update history: too many concurrent writers for %s", k)
}

func decode(data []byte) ([]model.HistoryEntry, error) {
	var list []model.HistoryEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return list, nil
}
