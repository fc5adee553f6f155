package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"DeSmond-Agent/internal/config"
	agenterrors "DeSmond-Agent/internal/errors"
)

// Redis 将会话目录保存在 Redis 中, 供多实例共享。
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis 创建 Redis 会话目录。
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "desmond:directory"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, agenterrors.Wrap(agenterrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
	}, nil
}

func (r *Redis) key(id string) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}

// Lookup 实现 Directory。
func (r *Redis) Lookup(ctx context.Context, id string) (Info, error) {
	value, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return Info{}, agenterrors.New(agenterrors.CodeNotFound,
			fmt.Sprintf("会话 %s 不在目录中", id))
	}
	if err != nil {
		return Info{}, agenterrors.Wrap(agenterrors.CodeStorageFailure, err, "读取会话目录失败",
			agenterrors.WithRetryable(true))
	}
	var info Info
	if err := json.Unmarshal([]byte(value), &info); err != nil {
		return Info{}, agenterrors.Wrap(agenterrors.CodeStorageFailure, err, "解析会话目录条目失败")
	}
	return info, nil
}

// Upsert 实现 Directory。
func (r *Redis) Upsert(ctx context.Context, info Info) error {
	if info.ID == "" {
		return agenterrors.New(agenterrors.CodeInvalidArgument, "会话标识不能为空")
	}
	data, err := json.Marshal(info)
	if err != nil {
		return agenterrors.Wrap(agenterrors.CodeStorageFailure, err, "序列化会话目录条目失败")
	}
	if err := r.client.Set(ctx, r.key(info.ID), data, r.ttl).Err(); err != nil {
		return agenterrors.Wrap(agenterrors.CodeStorageFailure, err, "写入会话目录失败",
			agenterrors.WithRetryable(true))
	}
	return nil
}

// Close 实现 Directory。
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
