package session

import (
	"context"
	"sync"
	"time"

	"ragchat/internal/domain/rag"
)

// Store 会话历史存储。按 sessionID 维护问答轮次，
// 供管线在生成时拼接对话历史。
type Store interface {
	// Append 追加一轮问答
	Append(ctx context.Context, sessionID string, turn rag.Turn) error
	// History 返回全部轮次（时间升序）
	History(ctx context.Context, sessionID string) ([]rag.Turn, error)
	// Clear 清空会话
	Clear(ctx context.Context, sessionID string) error
}

// ── 内存实现 ─────────────────────────────────────────────

type memoryEntry struct {
	turns     []rag.Turn
	expiresAt time.Time
}

// MemoryStore 进程内会话存储，带 TTL 惰性过期。
// 未配置 Redis 时的默认实现，重启后历史丢失。
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*memoryEntry
	now      func() time.Time
}

// NewMemoryStore 创建内存会话存储，ttl<=0 时默认 24h
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, turn rag.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()

	entry, ok := s.sessions[sessionID]
	if !ok {
		entry = &memoryEntry{}
		s.sessions[sessionID] = entry
	}
	entry.turns = append(entry.turns, turn)
	entry.expiresAt = s.now().Add(s.ttl)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, sessionID string) ([]rag.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := make([]rag.Turn, len(entry.turns))
	copy(out, entry.turns)
	return out, nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// sweep 清理过期会话，调用方须持锁
func (s *MemoryStore) sweep() {
	now := s.now()
	for id, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			delete(s.sessions, id)
		}
	}
}
