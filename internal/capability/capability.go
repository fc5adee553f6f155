package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/llm"
	"DeSmond-Agent/internal/transport"
)

// Effect 划分能力的副作用类别。pure 能力只读取信息并把结果回传给模型,
// proposal 能力向会话投递交易提案, 其结果不再回流到模型。
type Effect string

const (
	EffectPure     Effect = "pure"
	EffectProposal Effect = "proposal"
)

// Descriptor 描述一个能力的对外契约。
type Descriptor struct {
	Name        string
	Description string
	Parameters  llm.Schema
	Effect      Effect
}

// Invocation 携带一次能力调用的参数与会话上下文。
type Invocation struct {
	Args          json.RawMessage
	Kind          transport.ConversationKind
	AgentAddress  common.Address
	SenderAddress common.Address
	// Members 是会话成员的钱包地址, 含发送者, 不含智能体自身。
	Members      []common.Address
	Conversation transport.Conversation
}

// Result 是一次能力调用的产出。
type Result struct {
	Content       string
	ProposalsSent int
}

// Capability 是智能体可调用的一项能力。
type Capability interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// funcCapability 将描述符和处理函数组合成能力实例。
type funcCapability struct {
	desc Descriptor
	fn   func(ctx context.Context, inv Invocation) (Result, error)
}

func newFunc(desc Descriptor, fn func(ctx context.Context, inv Invocation) (Result, error)) Capability {
	return &funcCapability{desc: desc, fn: fn}
}

func (c *funcCapability) Descriptor() Descriptor {
	return c.desc
}

func (c *funcCapability) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	return c.fn(ctx, inv)
}

// Registry 保存一组能力并向模型导出其声明。私聊与群聊各有一个注册表。
type Registry struct {
	order []string
	caps  map[string]Capability
}

// NewRegistry 创建注册表。能力名称不允许重复或为空。
func NewRegistry(caps ...Capability) (*Registry, error) {
	registry := &Registry{caps: make(map[string]Capability)}
	for _, c := range caps {
		name := c.Descriptor().Name
		if name == "" {
			return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "能力名称不能为空")
		}
		if _, exists := registry.caps[name]; exists {
			return nil, agenterrors.New(agenterrors.CodeInvalidArgument,
				fmt.Sprintf("能力 %s 重复注册", name))
		}
		registry.caps[name] = c
		registry.order = append(registry.order, name)
	}
	return registry, nil
}

// Declarations 按注册顺序导出工具声明, 供模型选择调用。
func (r *Registry) Declarations() []llm.ToolDecl {
	decls := make([]llm.ToolDecl, 0, len(r.order))
	for _, name := range r.order {
		desc := r.caps[name].Descriptor()
		decls = append(decls, llm.ToolDecl{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  desc.Parameters,
		})
	}
	return decls
}

// Lookup 按名称查找能力。
func (r *Registry) Lookup(name string) (Capability, bool) {
	c, ok := r.caps[name]
	return c, ok
}

// Effect 返回指定能力的副作用类别。
func (r *Registry) Effect(name string) (Effect, bool) {
	c, ok := r.caps[name]
	if !ok {
		return "", false
	}
	return c.Descriptor().Effect, true
}

// Names 返回注册的能力名称, 排序后输出。
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// decodeArgs 解析模型给出的 JSON 参数。空参数按空对象处理,
// 格式非法时返回 CodeInvalidArgument。
func decodeArgs(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return agenterrors.Wrap(agenterrors.CodeInvalidArgument, err, "解析能力参数失败")
	}
	return nil
}
