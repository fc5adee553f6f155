package transport

import (
	"context"

	"DeSmond-Agent/internal/proposal"
)

// ContentType 标识消息载荷的类型。
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeProposal ContentType = "walletSendCalls"
	// ContentTypeReceipt 是成员签名后回流的交易回执, 入站处理直接忽略。
	ContentTypeReceipt ContentType = "transactionReference"
)

// ConversationKind 区分私聊与群聊, 两者可用的能力集合不同。
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Member 描述会话中的一名成员。
type Member struct {
	InboxID string `json:"inbox_id"`
	Address string `json:"address"`
}

// Event 是消息流中的一条入站消息。
type Event struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	ContentType    ContentType `json:"content_type"`
	Content        string      `json:"content"`
}

// Conversation 抽象一个可收发消息的会话。
type Conversation interface {
	// ID 返回会话标识。
	ID() string
	// Kind 返回会话类型。
	Kind() ConversationKind
	// Members 返回会话的全部成员。
	Members(ctx context.Context) ([]Member, error)
	// SendText 发送一条文本消息。
	SendText(ctx context.Context, text string) error
	// SendProposal 发送一条交易提案。
	SendProposal(ctx context.Context, calls proposal.WalletSendCalls) error
}

// Client 抽象消息网络的接入端。
type Client interface {
	// InboxID 返回智能体自身的收件箱标识。
	InboxID() string
	// Sync 拉取离线期间漏掉的会话与消息状态。
	Sync(ctx context.Context) error
	// StreamMessages 打开入站消息流。流关闭后通道被关闭,
	// 调用方应退避后重新 Sync 并再次打开。
	StreamMessages(ctx context.Context) (<-chan Event, error)
	// ConversationByID 根据标识定位会话。
	ConversationByID(ctx context.Context, id string) (Conversation, error)
	// Close 释放底层连接。
	Close() error
}
