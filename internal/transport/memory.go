package transport

import (
	"context"
	"fmt"
	"sync"

	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/proposal"
)

// Outbound 记录一条已发送的出站消息, 主要供测试与内存部署检视。
type Outbound struct {
	ConversationID string
	ContentType    ContentType
	Text           string
	Proposal       proposal.WalletSendCalls
}

// MemoryClient 是进程内的消息网络实现, 用于测试和本地演练。
type MemoryClient struct {
	inboxID string

	mu            sync.Mutex
	conversations map[string]*memoryConversation
	stream        chan Event
	sent          []Outbound
	closed        bool
}

// NewMemoryClient 创建内存消息客户端。
func NewMemoryClient(inboxID string) *MemoryClient {
	return &MemoryClient{
		inboxID:       inboxID,
		conversations: make(map[string]*memoryConversation),
	}
}

// InboxID 实现 Client。
func (c *MemoryClient) InboxID() string {
	return c.inboxID
}

// Sync 实现 Client。内存实现没有离线状态, 直接返回。
func (c *MemoryClient) Sync(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return agenterrors.New(agenterrors.CodeTransportFailure, "消息客户端已关闭")
	}
	return nil
}

// StreamMessages 实现 Client。
func (c *MemoryClient) StreamMessages(_ context.Context) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, agenterrors.New(agenterrors.CodeTransportFailure, "消息客户端已关闭")
	}
	c.stream = make(chan Event, 64)
	return c.stream, nil
}

// Publish 向消息流注入一条入站消息。
func (c *MemoryClient) Publish(event Event) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream <- event
	}
}

// CloseStream 关闭当前消息流, 模拟网络断开。
func (c *MemoryClient) CloseStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		close(c.stream)
		c.stream = nil
	}
}

// AddConversation 注册一个会话及其成员。
func (c *MemoryClient) AddConversation(id string, kind ConversationKind, members []Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations[id] = &memoryConversation{client: c, id: id, kind: kind, members: members}
}

// ConversationByID 实现 Client。
func (c *MemoryClient) ConversationByID(_ context.Context, id string) (Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[id]
	if !ok {
		return nil, agenterrors.New(agenterrors.CodeNotFound,
			fmt.Sprintf("会话 %s 不存在", id))
	}
	return conv, nil
}

// Sent 返回已发送的出站消息副本。
func (c *MemoryClient) Sent() []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outbound, len(c.sent))
	copy(out, c.sent)
	return out
}

// Close 实现 Client。
func (c *MemoryClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		close(c.stream)
		c.stream = nil
	}
	c.closed = true
	return nil
}

func (c *MemoryClient) record(out Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return agenterrors.New(agenterrors.CodeTransportFailure, "消息客户端已关闭")
	}
	c.sent = append(c.sent, out)
	return nil
}

type memoryConversation struct {
	client  *MemoryClient
	id      string
	kind    ConversationKind
	members []Member
}

func (m *memoryConversation) ID() string {
	return m.id
}

func (m *memoryConversation) Kind() ConversationKind {
	return m.kind
}

func (m *memoryConversation) Members(_ context.Context) ([]Member, error) {
	out := make([]Member, len(m.members))
	copy(out, m.members)
	return out, nil
}

func (m *memoryConversation) SendText(_ context.Context, text string) error {
	return m.client.record(Outbound{
		ConversationID: m.id,
		ContentType:    ContentTypeText,
		Text:           text,
	})
}

func (m *memoryConversation) SendProposal(_ context.Context, calls proposal.WalletSendCalls) error {
	return m.client.record(Outbound{
		ConversationID: m.id,
		ContentType:    ContentTypeProposal,
		Proposal:       calls,
	})
}
