package transport

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"DeSmond-Agent/internal/config"
	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/proposal"
	"DeSmond-Agent/internal/transport/directory"
)

// AMQPClient 通过 RabbitMQ 接入消息网络。入站消息来自专用队列,
// 出站消息按会话 ID 作为路由键发布到 exchange。
type AMQPClient struct {
	inboxID  string
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	exchange string
	dir      directory.Directory
}

// NewAMQPClient 创建 RabbitMQ 消息客户端。
func NewAMQPClient(inboxID string, cfg config.AMQPConfig, dir directory.Directory) (*AMQPClient, error) {
	if cfg.URL == "" {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	if dir == nil {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "消息客户端缺少会话目录")
	}
	queue := cfg.InboundQueue
	if queue == "" {
		queue = "desmond.inbound"
	}
	exchange := cfg.OutboundExchange
	if exchange == "" {
		exchange = "desmond.outbound"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, agenterrors.Wrap(agenterrors.CodeInitializationFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, agenterrors.Wrap(agenterrors.CodeInitializationFailure, err, "创建 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, agenterrors.Wrap(agenterrors.CodeInitializationFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, agenterrors.Wrap(agenterrors.CodeInitializationFailure, err, "声明 RabbitMQ 队列失败")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, agenterrors.Wrap(agenterrors.CodeInitializationFailure, err, "声明 RabbitMQ exchange 失败")
	}

	return &AMQPClient{
		inboxID:  inboxID,
		conn:     conn,
		ch:       ch,
		queue:    queue,
		exchange: exchange,
		dir:      dir,
	}, nil
}

// InboxID 实现 Client。
func (c *AMQPClient) InboxID() string {
	return c.inboxID
}

// Sync 实现 Client。队列自身保证离线消息不丢, 这里只校验连接可用。
func (c *AMQPClient) Sync(_ context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return agenterrors.New(agenterrors.CodeTransportFailure, "RabbitMQ 连接已断开",
			agenterrors.WithRetryable(true))
	}
	return nil
}

// StreamMessages 实现 Client。消息逐条 JSON 解码后写入返回的通道,
// 底层投递通道关闭或 ctx 取消时关闭返回通道。
func (c *AMQPClient) StreamMessages(ctx context.Context) (<-chan Event, error) {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, agenterrors.Wrap(agenterrors.CodeTransportFailure, err, "订阅入站队列失败",
			agenterrors.WithRetryable(true))
	}

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-deliveries:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					// 格式非法的消息直接确认丢弃, 避免反复投递。
					_ = msg.Ack(false)
					continue
				}
				_ = msg.Ack(false)
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

// ConversationByID 实现 Client。会话元数据来自目录服务。
func (c *AMQPClient) ConversationByID(ctx context.Context, id string) (Conversation, error) {
	info, err := c.dir.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return &amqpConversation{client: c, info: info}, nil
}

// Close 实现 Client。
func (c *AMQPClient) Close() error {
	if c == nil {
		return nil
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// outboundEnvelope 是发布到 exchange 的出站消息格式。
type outboundEnvelope struct {
	ConversationID string      `json:"conversation_id"`
	ContentType    ContentType `json:"content_type"`
	Text           string      `json:"text,omitempty"`
	Proposal       interface{} `json:"proposal,omitempty"`
}

func (c *AMQPClient) publish(ctx context.Context, envelope outboundEnvelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return agenterrors.Wrap(agenterrors.CodeTransportFailure, err, "序列化出站消息失败")
	}
	err = c.ch.PublishWithContext(ctx, c.exchange, envelope.ConversationID, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return agenterrors.Wrap(agenterrors.CodeTransportFailure, err,
			fmt.Sprintf("发布出站消息到会话 %s 失败", envelope.ConversationID),
			agenterrors.WithRetryable(true))
	}
	return nil
}

type amqpConversation struct {
	client *AMQPClient
	info   directory.Info
}

func (a *amqpConversation) ID() string {
	return a.info.ID
}

func (a *amqpConversation) Kind() ConversationKind {
	if a.info.Kind == string(KindGroup) {
		return KindGroup
	}
	return KindDirect
}

func (a *amqpConversation) Members(_ context.Context) ([]Member, error) {
	out := make([]Member, 0, len(a.info.Members))
	for _, member := range a.info.Members {
		out = append(out, Member{InboxID: member.InboxID, Address: member.Address})
	}
	return out, nil
}

func (a *amqpConversation) SendText(ctx context.Context, text string) error {
	return a.client.publish(ctx, outboundEnvelope{
		ConversationID: a.info.ID,
		ContentType:    ContentTypeText,
		Text:           text,
	})
}

func (a *amqpConversation) SendProposal(ctx context.Context, calls proposal.WalletSendCalls) error {
	return a.client.publish(ctx, outboundEnvelope{
		ConversationID: a.info.ID,
		ContentType:    ContentTypeProposal,
		Proposal:       calls,
	})
}
