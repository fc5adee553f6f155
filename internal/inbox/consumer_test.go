package inbox

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"DeSmond-Agent/internal/agent"
	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/observability/alerting"
	"DeSmond-Agent/internal/storage/mysql"
	"DeSmond-Agent/internal/transport"
)

var (
	agentAddr  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	senderAddr = common.HexToAddress("0x2000000000000000000000000000000000000002")
	memberAddr = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

type stubRunner struct {
	mu       sync.Mutex
	sessions []agent.Session
	inputs   []string
	outcome  agent.Outcome
	err      error
}

func (s *stubRunner) Run(_ context.Context, session agent.Session, input string) (agent.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, session)
	s.inputs = append(s.inputs, input)
	return s.outcome, s.err
}

func (s *stubRunner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func newTestClient() *transport.MemoryClient {
	client := transport.NewMemoryClient("inbox-agent")
	client.AddConversation("conv-direct", transport.KindDirect, []transport.Member{
		{InboxID: "inbox-agent", Address: agentAddr.Hex()},
		{InboxID: "inbox-sender", Address: senderAddr.Hex()},
	})
	client.AddConversation("conv-group", transport.KindGroup, []transport.Member{
		{InboxID: "inbox-agent", Address: agentAddr.Hex()},
		{InboxID: "inbox-sender", Address: senderAddr.Hex()},
		{InboxID: "inbox-member", Address: memberAddr.Hex()},
	})
	return client
}

func newTestConsumer(t *testing.T, client *transport.MemoryClient, engine runner, opts ...func(*Config)) *Consumer {
	t.Helper()
	cfg := Config{
		Client:       client,
		Engine:       engine,
		AgentAddress: agentAddr,
		Backoff:      time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	consumer, err := NewConsumer(cfg)
	if err != nil {
		t.Fatalf("构造消费者失败: %v", err)
	}
	return consumer
}

func TestHandleDirectMessage(t *testing.T) {
	client := newTestClient()
	engine := &stubRunner{outcome: agent.Outcome{Reply: "hello there", Rounds: 1}}
	consumer := newTestConsumer(t, client, engine)

	if _, err := client.StreamMessages(context.Background()); err != nil {
		t.Fatalf("打开消息流失败: %v", err)
	}
	consumer.handleEvent(context.Background(), transport.Event{
		ID:             "evt-1",
		ConversationID: "conv-direct",
		SenderID:       "inbox-sender",
		ContentType:    transport.ContentTypeText,
		Content:        "what is my balance?",
	})

	sent := client.Sent()
	if len(sent) != 2 {
		t.Fatalf("期望发送确认和答复两条消息, 实际 %d 条", len(sent))
	}
	if sent[0].Text != "Processing..." {
		t.Fatalf("首条消息应为确认语, 实际 %q", sent[0].Text)
	}
	if sent[1].Text != "hello there" {
		t.Fatalf("答复内容不符: %q", sent[1].Text)
	}

	if engine.calls() != 1 {
		t.Fatalf("期望引擎执行一次, 实际 %d", engine.calls())
	}
	session := engine.sessions[0]
	if session.ID == "" {
		t.Fatal("回合应分配全新的会话标识")
	}
	if session.Kind != transport.KindDirect {
		t.Fatalf("会话类型不符: %s", session.Kind)
	}
	if session.FromAddress != senderAddr {
		t.Fatalf("发送者地址不符: %s", session.FromAddress.Hex())
	}
	if len(session.Members) != 1 || session.Members[0] != senderAddr {
		t.Fatalf("成员列表应只含发送者, 实际 %v", session.Members)
	}
	if engine.inputs[0] != "what is my balance?" {
		t.Fatalf("输入内容不符: %q", engine.inputs[0])
	}
}

func TestHandleEventSkipsOwnAndNonText(t *testing.T) {
	client := newTestClient()
	engine := &stubRunner{}
	consumer := newTestConsumer(t, client, engine)

	consumer.handleEvent(context.Background(), transport.Event{
		ConversationID: "conv-direct",
		SenderID:       "INBOX-AGENT",
		ContentType:    transport.ContentTypeText,
		Content:        "echo of my own reply",
	})
	consumer.handleEvent(context.Background(), transport.Event{
		ConversationID: "conv-direct",
		SenderID:       "inbox-sender",
		ContentType:    transport.ContentTypeProposal,
		Content:        "{}",
	})
	consumer.handleEvent(context.Background(), transport.Event{
		ConversationID: "conv-missing",
		SenderID:       "inbox-sender",
		ContentType:    transport.ContentTypeText,
		Content:        "hello?",
	})

	if engine.calls() != 0 {
		t.Fatalf("以上消息都不应触发回合, 实际执行 %d 次", engine.calls())
	}
	if len(client.Sent()) != 0 {
		t.Fatalf("不应发送任何消息, 实际 %d 条", len(client.Sent()))
	}
}

func TestGroupMentionGate(t *testing.T) {
	client := newTestClient()
	engine := &stubRunner{outcome: agent.Outcome{Reply: "ok"}}
	consumer := newTestConsumer(t, client, engine)

	consumer.handleEvent(context.Background(), transport.Event{
		ConversationID: "conv-group",
		SenderID:       "inbox-sender",
		ContentType:    transport.ContentTypeText,
		Content:        "just chatting among ourselves",
	})
	if engine.calls() != 0 {
		t.Fatal("未提及智能体的群聊消息不应触发回合")
	}

	consumer.handleEvent(context.Background(), transport.Event{
		ConversationID: "conv-group",
		SenderID:       "inbox-sender",
		ContentType:    transport.ContentTypeText,
		Content:        "Hey @DeSmond split 100 USDC",
	})
	if engine.calls() != 1 {
		t.Fatalf("提及智能体的群聊消息应触发回合, 实际 %d 次", engine.calls())
	}
	if engine.inputs[0] != "Hey  split 100 USDC" {
		t.Fatalf("提及标记应被移除: %q", engine.inputs[0])
	}

	session := engine.sessions[0]
	if session.Kind != transport.KindGroup {
		t.Fatalf("会话类型不符: %s", session.Kind)
	}
	if len(session.Members) != 2 {
		t.Fatalf("群聊成员应排除智能体自身, 实际 %v", session.Members)
	}
}

func TestHandleEventArchivesTurn(t *testing.T) {
	client := newTestClient()
	engine := &stubRunner{outcome: agent.Outcome{
		Reply:         "done",
		Rounds:        2,
		ToolsInvoked:  []string{"get_balance", "web_search"},
		ProposalsSent: 0,
	}}
	archive, err := mysql.NewMemoryTurnRepository(t.TempDir())
	if err != nil {
		t.Fatalf("创建归档失败: %v", err)
	}
	consumer := newTestConsumer(t, client, engine, func(cfg *Config) {
		cfg.Archive = archive
	})

	consumer.handleEvent(context.Background(), transport.Event{
		ConversationID: "conv-direct",
		SenderID:       "inbox-sender",
		ContentType:    transport.ContentTypeText,
		Content:        "check my balance",
	})

	records, err := archive.ListLatest(context.Background(), 10)
	if err != nil {
		t.Fatalf("读取归档失败: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("期望归档 1 条记录, 实际 %d", len(records))
	}
	record := records[0]
	if record.ConversationID != "conv-direct" || record.Origin != "direct" {
		t.Fatalf("归档记录不符: %+v", record)
	}
	if record.ToolsInvoked != "get_balance,web_search" {
		t.Fatalf("工具清单不符: %q", record.ToolsInvoked)
	}
	if record.Rounds != 2 {
		t.Fatalf("轮数不符: %d", record.Rounds)
	}
}

func TestHandleEventAlertsOnEngineFailure(t *testing.T) {
	client := newTestClient()
	engine := &stubRunner{err: agenterrors.New(agenterrors.CodeInferenceFailure, "推理后端不可用")}
	dispatcher := &recordingDispatcher{}
	consumer := newTestConsumer(t, client, engine, func(cfg *Config) {
		cfg.Alerts = dispatcher
	})

	consumer.handleEvent(context.Background(), transport.Event{
		ConversationID: "conv-direct",
		SenderID:       "inbox-sender",
		ContentType:    transport.ContentTypeText,
		Content:        "hello",
	})

	if len(dispatcher.events) != 1 {
		t.Fatalf("期望触发 1 条告警, 实际 %d", len(dispatcher.events))
	}
	event := dispatcher.events[0]
	if event.Code != agenterrors.CodeInferenceFailure {
		t.Fatalf("告警错误码不符: %s", event.Code)
	}
	if event.ConversationID != "conv-direct" {
		t.Fatalf("告警会话标识不符: %s", event.ConversationID)
	}

	sent := client.Sent()
	if len(sent) != 1 || sent[0].Text != "Processing..." {
		t.Fatalf("引擎失败时只应发送确认语, 实际 %v", sent)
	}
}

func TestRunReconnectsAfterStreamClose(t *testing.T) {
	client := newTestClient()
	engine := &stubRunner{outcome: agent.Outcome{Reply: "pong"}}
	consumer := newTestConsumer(t, client, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(ctx)
	}()

	publish := func() {
		client.Publish(transport.Event{
			ConversationID: "conv-direct",
			SenderID:       "inbox-sender",
			ContentType:    transport.ContentTypeText,
			Content:        "ping",
		})
	}

	waitForCalls := func(want int) {
		deadline := time.Now().Add(2 * time.Second)
		for engine.calls() < want {
			if time.Now().After(deadline) {
				t.Fatalf("等待第 %d 次回合超时", want)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	// 等流建立后投递首条消息。
	time.Sleep(20 * time.Millisecond)
	publish()
	waitForCalls(1)

	// 断开消息流, 消费者应退避后重连并继续处理。
	client.CloseStream()
	deadline := time.Now().Add(2 * time.Second)
	for engine.calls() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("等待重连后的回合超时")
		}
		publish()
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), context.Canceled.Error()) {
			t.Fatalf("期望返回取消错误, 实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("等待消费者退出超时")
	}
}

func TestStripMention(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"@desmond what's up", "what's up"},
		{"Hey @DeSmond, balance please", "Hey , balance please"},
		{"@desmond @desmond hello", "hello"},
		{"no mention here", "no mention here"},
	}
	for _, tc := range cases {
		if got := stripMention(tc.input, "@desmond"); got != tc.want {
			t.Fatalf("stripMention(%q) = %q, 期望 %q", tc.input, got, tc.want)
		}
	}
}
