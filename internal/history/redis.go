package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"DeSmond-Agent/internal/config"
	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/llm"
)

// RedisStore 使用 Redis list 保存消息轨迹, 支持多实例共享与 TTL 过期。
type RedisStore struct {
	client      *redis.Client
	prefix      string
	ttl         time.Duration
	maxMessages int
}

// NewRedisStore 创建 Redis 轨迹存储。
func NewRedisStore(cfg config.RedisConfig, maxMessages int) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "desmond:history"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, agenterrors.Wrap(agenterrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return &RedisStore{
		client:      client,
		prefix:      prefix,
		ttl:         time.Duration(cfg.TTLSeconds) * time.Second,
		maxMessages: maxMessages,
	}, nil
}

func (s *RedisStore) key(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// Append 实现 Store。消息以 JSON 编码追加到 list 尾部。
func (s *RedisStore) Append(ctx context.Context, key string, messages ...llm.Message) error {
	if len(messages) == 0 {
		return nil
	}
	encoded := make([]interface{}, 0, len(messages))
	for _, message := range messages {
		data, err := json.Marshal(message)
		if err != nil {
			return agenterrors.Wrap(agenterrors.CodeStorageFailure, err, "序列化轨迹消息失败")
		}
		encoded = append(encoded, data)
	}

	redisKey := s.key(key)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, redisKey, encoded...)
	if s.maxMessages > 0 {
		pipe.LTrim(ctx, redisKey, int64(-s.maxMessages), -1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, redisKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return agenterrors.Wrap(agenterrors.CodeStorageFailure, err, "写入 Redis 轨迹失败",
			agenterrors.WithRetryable(true))
	}
	return nil
}

// List 实现 Store。
func (s *RedisStore) List(ctx context.Context, key string) ([]llm.Message, error) {
	values, err := s.client.LRange(ctx, s.key(key), 0, -1).Result()
	if err != nil {
		return nil, agenterrors.Wrap(agenterrors.CodeStorageFailure, err, "读取 Redis 轨迹失败",
			agenterrors.WithRetryable(true))
	}
	messages := make([]llm.Message, 0, len(values))
	for _, value := range values {
		var message llm.Message
		if err := json.Unmarshal([]byte(value), &message); err != nil {
			return nil, agenterrors.Wrap(agenterrors.CodeStorageFailure, err, "解析轨迹消息失败")
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// Clear 实现 Store。
func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return agenterrors.Wrap(agenterrors.CodeStorageFailure, err, "清除 Redis 轨迹失败")
	}
	return nil
}

// Close 实现 Store。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
