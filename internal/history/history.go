package history

import (
	"context"

	"DeSmond-Agent/internal/llm"
)

// Store 保存会话内的消息轨迹, 按回合键隔离。
type Store interface {
	// Append 追加若干消息到指定回合。
	Append(ctx context.Context, key string, messages ...llm.Message) error
	// List 按追加顺序返回回合内的全部消息。
	List(ctx context.Context, key string) ([]llm.Message, error)
	// Clear 删除回合的全部消息。
	Clear(ctx context.Context, key string) error
	// Close 释放底层资源。
	Close() error
}
