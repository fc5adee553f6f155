package directory

import (
	"context"
	"fmt"
	"sync"

	agenterrors "DeSmond-Agent/internal/errors"
)

// Member 描述一名会话成员。
type Member struct {
	InboxID string `json:"inbox_id"`
	Address string `json:"address"`
}

// Info 描述一个会话的静态元数据。Kind 取值 direct 或 group。
type Info struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Members []Member `json:"members"`
}

// Directory 维护会话元数据, 供消息网关在路由时查询。
type Directory interface {
	// Lookup 返回会话元数据, 未知会话返回 CodeNotFound。
	Lookup(ctx context.Context, id string) (Info, error)
	// Upsert 写入或更新会话元数据。
	Upsert(ctx context.Context, info Info) error
	// Close 释放底层资源。
	Close() error
}

// Memory 是进程内的会话目录。
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Info
}

// NewMemory 创建内存会话目录。
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Info)}
}

// Lookup 实现 Directory。
func (m *Memory) Lookup(_ context.Context, id string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.entries[id]
	if !ok {
		return Info{}, agenterrors.New(agenterrors.CodeNotFound,
			fmt.Sprintf("会话 %s 不在目录中", id))
	}
	return info, nil
}

// Upsert 实现 Directory。
func (m *Memory) Upsert(_ context.Context, info Info) error {
	if info.ID == "" {
		return agenterrors.New(agenterrors.CodeInvalidArgument, "会话标识不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[info.ID] = info
	return nil
}

// Close 实现 Directory。
func (m *Memory) Close() error {
	return nil
}
