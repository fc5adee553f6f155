package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 DeSmond 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
	Transport TransportConfig `json:"transport"`
	History   HistoryConfig   `json:"history"`
	Archive   ArchiveConfig   `json:"archive"`
	LLM       LLMConfig       `json:"llm"`
	Web3      Web3Config      `json:"web3"`
	Signer    SignerConfig    `json:"signer"`
	Agent     AgentConfig     `json:"agent"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制运维 API 服务的监听地址等参数。
type ServerConfig struct {
	Address              string `json:"address"`
	AuthToken            string `json:"auth_token,omitempty"`
	ShutdownGraceSeconds int    `json:"shutdown_grace_seconds"`
}

// ShutdownGrace 返回停机时等待在途请求完成的时限。
func (c ServerConfig) ShutdownGrace() time.Duration {
	if c.ShutdownGraceSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// LogConfig 控制结构化日志与审计日志的输出。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// TransportConfig 描述消息通道的接入方式。
type TransportConfig struct {
	Driver    string          `json:"driver"`
	InboxID   string          `json:"inbox_id"`
	AMQP      AMQPConfig      `json:"amqp"`
	Directory DirectoryConfig `json:"directory"`
}

// AMQPConfig 描述通过 RabbitMQ 订阅会话事件流所需的参数。
type AMQPConfig struct {
	URL              string `json:"url"`
	InboundQueue     string `json:"inbound_queue"`
	OutboundExchange string `json:"outbound_exchange"`
	Prefetch         int    `json:"prefetch"`
	Durable          bool   `json:"durable"`
}

// DirectoryConfig 描述会话元数据目录的存储方式。
type DirectoryConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// HistoryConfig 描述会话轮次历史（Turn Store）的存储方式。
type HistoryConfig struct {
	Driver      string      `json:"driver"`
	MaxMessages int         `json:"max_messages"`
	Redis       RedisConfig `json:"redis"`
}

// RedisConfig 统一描述 Redis 连接参数。
type RedisConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// ArchiveConfig 描述已完成轮次的落库方式。
type ArchiveConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容推理服务的接入参数。
type OpenAIConfig struct {
	APIKey             string  `json:"api_key,omitempty"`
	APIKeyEnv          string  `json:"api_key_env"`
	BaseURL            string  `json:"base_url"`
	Model              string  `json:"model"`
	Temperature        float64 `json:"temperature"`
	TimeoutSeconds     int     `json:"timeout_seconds"`
	MaxRetries         int     `json:"max_retries"`
	KeepAliveHours     int     `json:"keep_alive_hours"`
	MaxContextMessages int     `json:"max_context_messages"`
}

// Timeout 返回推理调用的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// KeepAlive 返回防止推理后端休眠的唤醒间隔。
func (c OpenAIConfig) KeepAlive() time.Duration {
	if c.KeepAliveHours <= 0 {
		return 0
	}
	return time.Duration(c.KeepAliveHours) * time.Hour
}

// Web3Config 包含访问区块链节点所需的配置入口。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url,omitempty"`
}

// SignerConfig 描述远程签名服务的接入参数。
type SignerConfig struct {
	Endpoint string `json:"endpoint"`
	User     string `json:"user"`
	Address  string `json:"address"`
	ChainID  int64  `json:"chain_id"`
}

// AgentConfig 控制智能体的行为参数。
type AgentConfig struct {
	Name                string `json:"name"`
	MentionToken        string `json:"mention_token"`
	AckMessage          string `json:"ack_message"`
	MaxRounds           int    `json:"max_rounds"`
	SplitPaceSeconds    int    `json:"split_pace_seconds"`
	KnowledgeSource     string `json:"knowledge_source"`
	KnowledgeMaxResults int    `json:"knowledge_max_results"`
}

// SplitPace 返回拆分支付逐笔发送的节流间隔。
func (c AgentConfig) SplitPace() time.Duration {
	if c.SplitPaceSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.SplitPaceSeconds) * time.Second
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir              string `json:"data_dir"`
	StreamBackoffSeconds int    `json:"stream_backoff_seconds"`
}

// StreamBackoff 返回事件流断开后重新订阅前的等待时间。
func (c RuntimeConfig) StreamBackoff() time.Duration {
	if c.StreamBackoffSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.StreamBackoffSeconds) * time.Second
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Transport.Driver == "" {
		c.Transport.Driver = "memory"
	}
	if c.Transport.Directory.Driver == "" {
		c.Transport.Directory.Driver = "memory"
	}
	if c.Transport.AMQP.InboundQueue == "" {
		c.Transport.AMQP.InboundQueue = "desmond.inbound"
	}
	if c.Transport.AMQP.OutboundExchange == "" {
		c.Transport.AMQP.OutboundExchange = "desmond.outbound"
	}

	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}
	if c.History.MaxMessages <= 0 {
		c.History.MaxMessages = 64
	}

	if c.Archive.Driver == "" {
		c.Archive.Driver = "memory"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "llama3.1:8b"
	}
	if c.LLM.OpenAI.Temperature <= 0 {
		c.LLM.OpenAI.Temperature = 0.1
	}
	if c.LLM.OpenAI.MaxRetries <= 0 {
		c.LLM.OpenAI.MaxRetries = 2
	}
	if c.LLM.OpenAI.KeepAliveHours <= 0 {
		c.LLM.OpenAI.KeepAliveHours = 23
	}

	if c.Agent.Name == "" {
		c.Agent.Name = "DeSmond"
	}
	// 群聊呼叫词默认跟随智能体名称。
	if c.Agent.MentionToken == "" {
		c.Agent.MentionToken = "@" + strings.ToLower(c.Agent.Name)
	}
	if c.Agent.AckMessage == "" {
		c.Agent.AckMessage = "Processing..."
	}
	if c.Agent.MaxRounds <= 0 {
		c.Agent.MaxRounds = 8
	}
	if c.Agent.SplitPaceSeconds <= 0 {
		c.Agent.SplitPaceSeconds = 1
	}

	if c.Signer.ChainID <= 0 {
		c.Signer.ChainID = 8453
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Runtime.StreamBackoffSeconds <= 0 {
		c.Runtime.StreamBackoffSeconds = 1
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Agent.KnowledgeSource != "" && !filepath.IsAbs(c.Agent.KnowledgeSource) {
		c.Agent.KnowledgeSource = filepath.Join(baseDir, c.Agent.KnowledgeSource)
	}
}
