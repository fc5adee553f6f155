package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"DeSmond-Agent/internal/agent"
	"DeSmond-Agent/internal/api"
	"DeSmond-Agent/internal/capability"
	"DeSmond-Agent/internal/config"
	"DeSmond-Agent/internal/history"
	"DeSmond-Agent/internal/inbox"
	"DeSmond-Agent/internal/knowledge"
	"DeSmond-Agent/internal/llm"
	"DeSmond-Agent/internal/llm/openai"
	"DeSmond-Agent/internal/names"
	"DeSmond-Agent/internal/observability/alerting"
	"DeSmond-Agent/internal/proposal"
	"DeSmond-Agent/internal/signer"
	"DeSmond-Agent/internal/storage/mysql"
	"DeSmond-Agent/internal/transport"
	"DeSmond-Agent/internal/transport/directory"
	"DeSmond-Agent/internal/web3"
	"DeSmond-Agent/internal/web3/provider"
	"DeSmond-Agent/pkg/logger"
)

// main 是 DeSmond 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("desmondd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("DESMOND_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "desmond.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditPath != "",
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 初始化大模型客户端。
	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	// 轮次归档。
	archive, err := createArchive(ctx, cfg, dataDir)
	if err != nil {
		return err
	}
	defer archive.Close()

	// 回合内的消息轨迹存储。
	store, err := createHistoryStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// 链上访问与名称解析。
	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	web3Client, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}
	chainDef, err := chainRegistry.DefaultDefinition()
	if err != nil {
		return err
	}

	// 启动即确认节点确实在配置的链上, 避免把提案编到错误的网络。
	nodeChainID, err := web3Client.ChainID(ctx)
	if err != nil {
		return err
	}
	if nodeChainID.Int64() != chainDef.ChainID {
		return fmt.Errorf("节点链 ID %d 与默认链 %d 不一致", nodeChainID.Int64(), chainDef.ChainID)
	}

	resolver, err := names.NewChainResolver(web3Client, names.Config{
		ChainID:         chainDef.ChainID,
		Suffix:          chainDef.Names.Suffix,
		Registry:        chainDef.Names.Registry,
		ReverseResolver: chainDef.Names.ReverseResolver,
	})
	if err != nil {
		return err
	}

	// 智能体钱包由远程签名服务托管, 守护进程只知道地址。
	wallet, err := signer.NewRemote(cfg.Signer)
	if err != nil {
		return err
	}
	if wallet.ChainID().Int64() != chainDef.ChainID {
		return fmt.Errorf("签名身份链 ID %d 与默认链 %d 不一致", wallet.ChainID().Int64(), chainDef.ChainID)
	}

	builder := proposal.NewBuilder(chainDef.ChainID, chainDef)

	direct, group, err := buildRegistries(cfg, web3Client, chainDef, resolver, builder)
	if err != nil {
		return err
	}

	var knowledgeProvider knowledge.Provider
	if cfg.Agent.KnowledgeSource != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Agent.KnowledgeSource, cfg.Agent.KnowledgeMaxResults)
		if err != nil {
			return err
		}
		knowledgeProvider = provider
	}

	engine, err := agent.NewEngine(agent.Config{
		Model:     llmClient,
		Store:     store,
		Direct:    direct,
		Group:     group,
		Knowledge: knowledgeProvider,
		MaxRounds: cfg.Agent.MaxRounds,
	})
	if err != nil {
		return err
	}

	client, dir, err := createTransport(cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	if dir != nil {
		defer dir.Close()
	}

	consumer, err := inbox.NewConsumer(inbox.Config{
		Client:       client,
		Engine:       engine,
		Archive:      archive,
		Alerts:       alerting.NewFanout(),
		AgentAddress: wallet.Address(),
		MentionToken: cfg.Agent.MentionToken,
		AckMessage:   cfg.Agent.AckMessage,
		Backoff:      cfg.Runtime.StreamBackoff(),
	})
	if err != nil {
		return err
	}

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()

	go func() {
		if err := consumer.Run(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("消息消费者异常退出", "error", err)
		}
	}()

	// 周期性地唤醒推理后端, 避免模型被换出。
	go keepAlive(consumerCtx, llmClient, cfg.LLM.OpenAI.KeepAlive())

	server := api.NewServer(cfg.Server, archive)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		return openai.NewClient(openai.Config{
			APIKey:             apiKey,
			BaseURL:            cfg.LLM.OpenAI.BaseURL,
			Model:              cfg.LLM.OpenAI.Model,
			Temperature:        cfg.LLM.OpenAI.Temperature,
			Timeout:            cfg.LLM.OpenAI.Timeout(),
			MaxRetries:         cfg.LLM.OpenAI.MaxRetries,
			MaxContextMessages: cfg.LLM.OpenAI.MaxContextMessages,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createArchive(ctx context.Context, cfg *config.Config, dataDir string) (mysql.TurnRepository, error) {
	switch cfg.Archive.Driver {
	case "", "memory":
		return mysql.NewMemoryTurnRepository(dataDir)
	case "mysql":
		return mysql.NewSQLTurnRepository(ctx, mysql.Config{
			DSN:             cfg.Archive.DSN,
			MaxOpenConns:    cfg.Archive.MaxOpenConns,
			MaxIdleConns:    cfg.Archive.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Archive.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Archive.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的归档驱动: %s", cfg.Archive.Driver)
	}
}

func createHistoryStore(cfg *config.Config) (history.Store, error) {
	switch cfg.History.Driver {
	case "", "memory":
		return history.NewMemoryStore(cfg.History.MaxMessages), nil
	case "redis":
		return history.NewRedisStore(cfg.History.Redis, cfg.History.MaxMessages)
	default:
		return nil, fmt.Errorf("未知的轨迹存储驱动: %s", cfg.History.Driver)
	}
}

func createTransport(cfg *config.Config) (transport.Client, directory.Directory, error) {
	inboxID := cfg.Transport.InboxID
	if inboxID == "" {
		inboxID = "desmond-agent"
	}

	switch cfg.Transport.Driver {
	case "", "memory":
		return transport.NewMemoryClient(inboxID), nil, nil
	case "amqp":
		dir, err := createDirectory(cfg)
		if err != nil {
			return nil, nil, err
		}
		client, err := transport.NewAMQPClient(inboxID, cfg.Transport.AMQP, dir)
		if err != nil {
			dir.Close()
			return nil, nil, err
		}
		return client, dir, nil
	default:
		return nil, nil, fmt.Errorf("未知的消息通道驱动: %s", cfg.Transport.Driver)
	}
}

func createDirectory(cfg *config.Config) (directory.Directory, error) {
	switch cfg.Transport.Directory.Driver {
	case "", "memory":
		return directory.NewMemory(), nil
	case "redis":
		return directory.NewRedis(cfg.Transport.Directory.Redis)
	default:
		return nil, fmt.Errorf("未知的会话目录驱动: %s", cfg.Transport.Directory.Driver)
	}
}

// buildRegistries 组装私聊与群聊两套能力注册表。群聊额外拥有
// 聚合查询余额和拆分支付两类能力。
func buildRegistries(cfg *config.Config, client web3.Client, chainDef web3.ChainDefinition,
	resolver names.Resolver, builder *proposal.Builder) (*capability.Registry, *capability.Registry, error) {
	shared := []capability.Capability{
		capability.NewWebSearch(capability.SearchConfig{}),
		capability.NewFallback(),
		capability.NewGetBalance(client, chainDef),
		capability.NewGetBalanceToken(client, chainDef.Token),
		capability.NewTransferNative(builder, resolver, chainDef),
		capability.NewTransferToken(builder, resolver, chainDef.Token),
	}

	direct, err := capability.NewRegistry(shared...)
	if err != nil {
		return nil, nil, err
	}

	limiter := rate.NewLimiter(rate.Every(cfg.Agent.SplitPace()), 1)
	groupOnly := []capability.Capability{
		capability.NewGetBalances(client, resolver, chainDef),
		capability.NewGetBalancesToken(client, resolver, chainDef.Token),
		capability.NewSplitPayment(builder, resolver, chainDef.Token, limiter),
	}
	group, err := capability.NewRegistry(append(shared, groupOnly...)...)
	if err != nil {
		return nil, nil, err
	}
	return direct, group, nil
}

// keepAlive 周期性地向推理后端发送一条简短消息, 防止模型被卸载。
func keepAlive(ctx context.Context, model llm.Client, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			messages := []llm.Message{llm.UserMessage("Hello Desmond")}
			if _, err := model.Infer(ctx, messages, nil); err != nil {
				logger.L().Warn("推理后端唤醒失败", "error", err)
			}
		}
	}
}
