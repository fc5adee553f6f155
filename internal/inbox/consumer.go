package inbox

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"DeSmond-Agent/internal/agent"
	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/observability/alerting"
	"DeSmond-Agent/internal/storage/mysql"
	"DeSmond-Agent/internal/transport"
	"DeSmond-Agent/pkg/logger"
)

// runner 抽象推理引擎, 便于在测试中替换。
type runner interface {
	Run(ctx context.Context, session agent.Session, input string) (agent.Outcome, error)
}

// Consumer 订阅入站消息流, 为每条消息开启一个回合并把结果写回会话。
type Consumer struct {
	client       transport.Client
	engine       runner
	archive      mysql.TurnRepository
	alerts       alerting.Dispatcher
	agentAddress common.Address
	mentionToken string
	ackMessage   string
	backoff      time.Duration
	log          *slog.Logger
}

// Config 描述消费者的依赖。Archive 与 Alerts 可以为空。
type Config struct {
	Client       transport.Client
	Engine       runner
	Archive      mysql.TurnRepository
	Alerts       alerting.Dispatcher
	AgentAddress common.Address
	MentionToken string
	AckMessage   string
	Backoff      time.Duration
}

// NewConsumer 构造消息消费者。
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Client == nil {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "消费者缺少消息客户端")
	}
	if cfg.Engine == nil {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "消费者缺少推理引擎")
	}
	mention := strings.ToLower(strings.TrimSpace(cfg.MentionToken))
	if mention == "" {
		mention = "@desmond"
	}
	ack := cfg.AckMessage
	if ack == "" {
		ack = "Processing..."
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Consumer{
		client:       cfg.Client,
		engine:       cfg.Engine,
		archive:      cfg.Archive,
		alerts:       cfg.Alerts,
		agentAddress: cfg.AgentAddress,
		mentionToken: mention,
		ackMessage:   ack,
		backoff:      backoff,
		log:          logger.Named("inbox"),
	}, nil
}

// Run 持续消费消息流, 直到上下文取消。流断开后退避并重新订阅。
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.client.Sync(ctx); err != nil {
			c.log.Error("同步会话状态失败", slog.Any("error", err))
			c.alert(ctx, "", "", err)
			if !c.wait(ctx) {
				return ctx.Err()
			}
			continue
		}

		events, err := c.client.StreamMessages(ctx)
		if err != nil {
			c.log.Error("打开消息流失败", slog.Any("error", err))
			c.alert(ctx, "", "", err)
			if !c.wait(ctx) {
				return ctx.Err()
			}
			continue
		}

		c.log.Info("消息流已就绪")
		if err := c.drain(ctx, events); err != nil {
			return err
		}

		// 流被对端关闭, 退避后重新同步并订阅。
		c.log.Warn("消息流中断, 准备重连", slog.Duration("backoff", c.backoff))
		if !c.wait(ctx) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) drain(ctx context.Context, events <-chan transport.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			c.handleEvent(ctx, event)
		}
	}
}

// handleEvent 处理单条入站消息。处理失败只记录告警, 不中断消费循环。
func (c *Consumer) handleEvent(ctx context.Context, event transport.Event) {
	if event.ContentType != transport.ContentTypeText {
		return
	}
	if strings.EqualFold(event.SenderID, c.client.InboxID()) {
		return
	}

	conversation, err := c.client.ConversationByID(ctx, event.ConversationID)
	if err != nil {
		c.log.Warn("定位会话失败, 跳过消息",
			slog.String("conversation_id", event.ConversationID),
			slog.Any("error", err))
		return
	}

	inquiry := event.Content
	if conversation.Kind() == transport.KindGroup {
		if !strings.Contains(strings.ToLower(inquiry), c.mentionToken) {
			return
		}
		inquiry = stripMention(inquiry, c.mentionToken)
	}
	if strings.TrimSpace(inquiry) == "" {
		return
	}

	members, err := conversation.Members(ctx)
	if err != nil {
		c.log.Warn("读取会话成员失败, 跳过消息",
			slog.String("conversation_id", event.ConversationID),
			slog.Any("error", err))
		return
	}

	session := agent.Session{
		ID:           uuid.NewString(),
		Kind:         conversation.Kind(),
		AgentAddress: c.agentAddress,
		FromAddress:  senderAddress(members, event.SenderID),
		Members:      peerAddresses(members, c.agentAddress),
		Conversation: conversation,
	}

	if err := conversation.SendText(ctx, c.ackMessage); err != nil {
		c.log.Warn("发送确认消息失败", slog.String("session_id", session.ID), slog.Any("error", err))
	}

	outcome, err := c.engine.Run(ctx, session, inquiry)
	if err != nil {
		c.log.Error("回合执行失败",
			slog.String("session_id", session.ID),
			slog.String("conversation_id", conversation.ID()),
			slog.Any("error", err))
		c.alert(ctx, session.ID, conversation.ID(), err)
		return
	}

	if outcome.Reply != "" {
		if err := conversation.SendText(ctx, outcome.Reply); err != nil {
			c.log.Error("发送答复失败", slog.String("session_id", session.ID), slog.Any("error", err))
			c.alert(ctx, session.ID, conversation.ID(), err)
			return
		}
	}

	logger.Audit().Info("回合完成",
		slog.String("session_id", session.ID),
		slog.String("conversation_id", conversation.ID()),
		slog.String("origin", string(session.Kind)),
		slog.Int("rounds", outcome.Rounds),
		slog.Int("proposals", outcome.ProposalsSent))

	c.archiveTurn(ctx, session, conversation.ID(), inquiry, outcome)
}

func (c *Consumer) archiveTurn(ctx context.Context, session agent.Session, conversationID, inquiry string, outcome agent.Outcome) {
	if c.archive == nil {
		return
	}
	record := mysql.TurnRecord{
		SessionID:      session.ID,
		ConversationID: conversationID,
		Origin:         string(session.Kind),
		Inquiry:        inquiry,
		Reply:          outcome.Reply,
		ToolsInvoked:   strings.Join(outcome.ToolsInvoked, ","),
		Rounds:         outcome.Rounds,
		ProposalCount:  outcome.ProposalsSent,
		CreatedAt:      time.Now().Unix(),
	}
	if err := c.archive.Save(ctx, record); err != nil {
		c.log.Warn("归档轮次记录失败", slog.String("session_id", session.ID), slog.Any("error", err))
	}
}

func (c *Consumer) alert(ctx context.Context, sessionID, conversationID string, cause error) {
	if c.alerts == nil {
		return
	}
	event := alerting.Event{
		Code:           agenterrors.CodeOf(cause),
		Message:        cause.Error(),
		Severity:       agenterrors.SeverityOf(cause),
		SessionID:      sessionID,
		ConversationID: conversationID,
		OccurredAt:     time.Now(),
	}
	if err := c.alerts.Notify(ctx, event); err != nil {
		c.log.Warn("发送告警失败", slog.Any("error", err))
	}
}

func (c *Consumer) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.backoff):
		return true
	}
}

// stripMention 大小写不敏感地移除所有提及标记。
func stripMention(content, token string) string {
	if token == "" {
		return strings.TrimSpace(content)
	}
	var builder strings.Builder
	lowered := strings.ToLower(content)
	for {
		idx := strings.Index(lowered, token)
		if idx < 0 {
			builder.WriteString(content)
			break
		}
		builder.WriteString(content[:idx])
		content = content[idx+len(token):]
		lowered = lowered[idx+len(token):]
	}
	return strings.TrimSpace(builder.String())
}

// senderAddress 根据收件箱标识定位发送者的链上地址。
func senderAddress(members []transport.Member, senderID string) common.Address {
	for _, member := range members {
		if strings.EqualFold(member.InboxID, senderID) {
			return common.HexToAddress(member.Address)
		}
	}
	return common.Address{}
}

// peerAddresses 返回除智能体之外的全部成员地址。
func peerAddresses(members []transport.Member, agentAddress common.Address) []common.Address {
	peers := make([]common.Address, 0, len(members))
	for _, member := range members {
		addr := common.HexToAddress(member.Address)
		if addr == agentAddress {
			continue
		}
		peers = append(peers, addr)
	}
	return peers
}
