package redisdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ragchat/internal/domain/rag"
	applog "ragchat/internal/platform/log"
)

// NewClient 按 URL 创建 Redis 客户端并验证连通性
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// SessionStore Redis List 实现的会话历史。
// 每个会话一个 list，元素为 JSON 编码的问答轮次，写入时续期 TTL。
type SessionStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// SessionStoreConfig Redis 会话存储配置
type SessionStoreConfig struct {
	Client    *redis.Client
	KeyPrefix string        // 默认 "chat:sess:"
	TTL       time.Duration // 默认 24h
}

// NewSessionStore 创建 Redis 会话存储
func NewSessionStore(cfg SessionStoreConfig) *SessionStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "chat:sess:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &SessionStore{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}
}

func (s *SessionStore) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

// Append 追加一轮问答并续期
func (s *SessionStore) Append(ctx context.Context, sessionID string, turn rag.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	key := s.key(sessionID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		applog.Error("[Session/Redis] RPUSH failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// History 返回全部轮次（时间升序）。解析失败的元素跳过并告警。
func (s *SessionStore) History(ctx context.Context, sessionID string) ([]rag.Turn, error) {
	items, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		applog.Error("[Session/Redis] LRANGE failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("redis LRANGE: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	turns := make([]rag.Turn, 0, len(items))
	for _, raw := range items {
		var turn rag.Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			applog.Warn("[Session/Redis] skip malformed turn", "session_id", sessionID, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Clear 删除会话
func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}
