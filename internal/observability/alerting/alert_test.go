package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	xerrors "DeSmond-Agent/internal/errors"
)

type fakeDingTalk struct {
	payloads []string
	err      error
}

func (f *fakeDingTalk) Send(_ context.Context, content string) error {
	f.payloads = append(f.payloads, content)
	return f.err
}

func TestFanoutDispatcherNotify(t *testing.T) {
	sender := &fakeDingTalk{}
	dispatcher := NewFanout(&DingTalkNotifier{Sender: sender})

	event := Event{
		Code:           xerrors.CodeTransportFailure,
		Message:        "事件流中断",
		Severity:       xerrors.SeverityCritical,
		SessionID:      "session-1",
		ConversationID: "conv-1",
		OccurredAt:     time.Now(),
	}
	if err := dispatcher.Notify(context.Background(), event); err != nil {
		t.Fatalf("广播告警失败: %v", err)
	}
	if len(sender.payloads) != 1 {
		t.Fatalf("期望收到 1 条告警, 实际 %d", len(sender.payloads))
	}
	if !strings.Contains(sender.payloads[0], "session-1") {
		t.Fatalf("告警内容缺少会话标识: %s", sender.payloads[0])
	}
}

func TestFanoutDispatcherCollectsErrors(t *testing.T) {
	broken := &fakeDingTalk{err: errors.New("webhook 不可达")}
	dispatcher := NewFanout(&DingTalkNotifier{Sender: broken})

	err := dispatcher.Notify(context.Background(), Event{SessionID: "session-2"})
	if err == nil {
		t.Fatal("期望返回渠道错误")
	}
	if !strings.Contains(err.Error(), "dingtalk") {
		t.Fatalf("错误信息缺少渠道名: %v", err)
	}
}

func TestUnconfiguredNotifiersAreSilent(t *testing.T) {
	dispatcher := NewFanout(&EmailNotifier{}, &SlackNotifier{})
	if err := dispatcher.Notify(context.Background(), Event{SessionID: "session-3"}); err != nil {
		t.Fatalf("未配置的通知器不应报错: %v", err)
	}
}
