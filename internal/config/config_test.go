package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "desmond.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("默认监听地址不符: %s", cfg.Server.Address)
	}
	if cfg.Transport.Driver != "memory" {
		t.Fatalf("默认消息通道驱动不符: %s", cfg.Transport.Driver)
	}
	if cfg.Transport.AMQP.InboundQueue != "desmond.inbound" {
		t.Fatalf("默认入站队列不符: %s", cfg.Transport.AMQP.InboundQueue)
	}
	if cfg.History.MaxMessages != 64 {
		t.Fatalf("默认轨迹长度不符: %d", cfg.History.MaxMessages)
	}
	if cfg.Agent.MentionToken != "@desmond" {
		t.Fatalf("默认提及标记不符: %s", cfg.Agent.MentionToken)
	}
	if cfg.Agent.AckMessage != "Processing..." {
		t.Fatalf("默认确认语不符: %s", cfg.Agent.AckMessage)
	}
	if cfg.Agent.MaxRounds != 8 {
		t.Fatalf("默认最大轮数不符: %d", cfg.Agent.MaxRounds)
	}
	if cfg.Agent.SplitPace() != time.Second {
		t.Fatalf("默认拆分节流不符: %s", cfg.Agent.SplitPace())
	}
	if cfg.Signer.ChainID != 8453 {
		t.Fatalf("默认链标识不符: %d", cfg.Signer.ChainID)
	}
	if cfg.LLM.OpenAI.KeepAlive() != 23*time.Hour {
		t.Fatalf("默认唤醒间隔不符: %s", cfg.LLM.OpenAI.KeepAlive())
	}
	if cfg.Server.ShutdownGrace() != 5*time.Second {
		t.Fatalf("默认停机时限不符: %s", cfg.Server.ShutdownGrace())
	}
}

func TestMentionTokenFollowsAgentName(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"agent": {"name": "Echo"}}`))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Agent.MentionToken != "@echo" {
		t.Fatalf("提及标记未跟随名称: %s", cfg.Agent.MentionToken)
	}

	cfg, err = Load(writeConfig(t, `{"agent": {"name": "Echo", "mention_token": "@bot"}}`))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Agent.MentionToken != "@bot" {
		t.Fatalf("显式提及标记被覆盖: %s", cfg.Agent.MentionToken)
	}
}

func TestShutdownGraceOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"server": {"shutdown_grace_seconds": 10}}`))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.ShutdownGrace() != 10*time.Second {
		t.Fatalf("停机时限未生效: %s", cfg.Server.ShutdownGrace())
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"runtime": {"data_dir": "state"},
		"web3": {"chain_config": "chains.yaml"},
		"agent": {"knowledge_source": "knowledge.json"}
	}`)
	baseDir := filepath.Dir(path)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Runtime.DataDir != filepath.Join(baseDir, "state") {
		t.Fatalf("数据目录未按配置目录解析: %s", cfg.Runtime.DataDir)
	}
	if cfg.Web3.ChainConfig != filepath.Join(baseDir, "chains.yaml") {
		t.Fatalf("链配置路径未按配置目录解析: %s", cfg.Web3.ChainConfig)
	}
	if cfg.Agent.KnowledgeSource != filepath.Join(baseDir, "knowledge.json") {
		t.Fatalf("知识库路径未按配置目录解析: %s", cfg.Agent.KnowledgeSource)
	}
}

func TestLoadRejectsInvalidInput(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("空路径应返回错误")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("缺失的文件应返回错误")
	}
	if _, err := Load(writeConfig(t, `{not json`)); err == nil {
		t.Fatal("非法 JSON 应返回错误")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"transport": {"driver": "amqp", "inbox_id": "agent-7"},
		"history": {"driver": "redis", "max_messages": 128},
		"archive": {"driver": "mysql", "dsn": "user:pass@tcp(db:3306)/desmond"},
		"agent": {"mention_token": "@bot", "max_rounds": 4}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Transport.Driver != "amqp" || cfg.Transport.InboxID != "agent-7" {
		t.Fatalf("消息通道配置未生效: %+v", cfg.Transport)
	}
	if cfg.History.Driver != "redis" || cfg.History.MaxMessages != 128 {
		t.Fatalf("轨迹存储配置未生效: %+v", cfg.History)
	}
	if cfg.Archive.Driver != "mysql" {
		t.Fatalf("归档配置未生效: %+v", cfg.Archive)
	}
	if cfg.Agent.MentionToken != "@bot" || cfg.Agent.MaxRounds != 4 {
		t.Fatalf("智能体配置未生效: %+v", cfg.Agent)
	}
}
