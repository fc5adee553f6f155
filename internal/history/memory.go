package history

import (
	"context"
	"sync"

	"DeSmond-Agent/internal/llm"
)

// MemoryStore 将消息轨迹保存在进程内, 适合单实例部署与测试。
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string][]llm.Message
	maxMessages int
}

// NewMemoryStore 创建内存轨迹存储。maxMessages 为 0 表示不限制。
func NewMemoryStore(maxMessages int) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string][]llm.Message),
		maxMessages: maxMessages,
	}
}

// Append 实现 Store。超出上限时丢弃最早的消息。
func (s *MemoryStore) Append(_ context.Context, key string, messages ...llm.Message) error {
	if len(messages) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	combined := append(s.sessions[key], messages...)
	if s.maxMessages > 0 && len(combined) > s.maxMessages {
		combined = combined[len(combined)-s.maxMessages:]
	}
	s.sessions[key] = combined
	return nil
}

// List 实现 Store。返回副本, 调用方修改不影响存储。
func (s *MemoryStore) List(_ context.Context, key string) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.sessions[key]
	out := make([]llm.Message, len(stored))
	copy(out, stored)
	return out, nil
}

// Clear 实现 Store。
func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// Close 实现 Store。
func (s *MemoryStore) Close() error {
	return nil
}
