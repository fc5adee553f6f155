package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"DeSmond-Agent/internal/capability"
	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/history"
	"DeSmond-Agent/internal/knowledge"
	"DeSmond-Agent/internal/llm"
	"DeSmond-Agent/internal/transport"
	"DeSmond-Agent/pkg/logger"
)

// systemPrompt 定义智能体的基础人设, 每个回合都会重新注入。
const systemPrompt = "Act as DeSmond, a highly knowledgeable, perceptive, and approachable assistant. " +
	"Never return lines of code. DeSmond is capable of providing accurate insights, answering complex " +
	"inquiries, and offering thoughtful guidance in various domains. Embody professionalism and warmth, " +
	"tailoring responses to meet the user's needs effectively while maintaining an engaging and helpful tone."

// exhaustedReply 在回合达到推理轮数上限仍未收敛时作为兜底答复。
const exhaustedReply = "I wasn't able to finish working through that request. Please try asking again."

const defaultMaxRounds = 8

// Session 描述一个回合的会话上下文。每条入站消息开启一个全新回合,
// 回合之间不共享记忆。
type Session struct {
	ID           string
	Kind         transport.ConversationKind
	AgentAddress common.Address
	FromAddress  common.Address
	Members      []common.Address
	Conversation transport.Conversation
}

// Outcome 汇总一个回合的处理结果。
type Outcome struct {
	Reply         string
	Rounds        int
	ToolsInvoked  []string
	ProposalsSent int
	Bypassed      bool
}

// Engine 实现模型与能力之间的路由循环。
type Engine struct {
	model     llm.Client
	store     history.Store
	direct    *capability.Registry
	group     *capability.Registry
	knowledge knowledge.Provider
	maxRounds int
	log       *slog.Logger
}

// Config 描述推理引擎的依赖。Knowledge 可以为空。
type Config struct {
	Model     llm.Client
	Store     history.Store
	Direct    *capability.Registry
	Group     *capability.Registry
	Knowledge knowledge.Provider
	MaxRounds int
}

// NewEngine 构造推理引擎。
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Model == nil {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "推理引擎缺少模型客户端")
	}
	if cfg.Store == nil {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "推理引擎缺少轨迹存储")
	}
	if cfg.Direct == nil || cfg.Group == nil {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "推理引擎缺少能力注册表")
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	return &Engine{
		model:     cfg.Model,
		store:     cfg.Store,
		direct:    cfg.Direct,
		group:     cfg.Group,
		knowledge: cfg.Knowledge,
		maxRounds: maxRounds,
		log:       logger.Named("agent"),
	}, nil
}

// Run 处理一条入站消息并返回最终答复。
//
// 路由规则: 模型没有给出工具调用时回合结束; 首个工具调用是提案类能力时
// 走旁路, 只执行这一个调用, 其输出直接作为答复, 不再回流模型; 其余情况
// 执行全部工具调用, 把结果追加到轨迹后再次询问模型。
func (e *Engine) Run(ctx context.Context, session Session, input string) (Outcome, error) {
	registry := e.direct
	if session.Kind == transport.KindGroup {
		registry = e.group
	}

	if err := e.store.Append(ctx, session.ID,
		llm.SystemMessage(e.composePrompt(input)),
		llm.UserMessage(input),
	); err != nil {
		return Outcome{}, err
	}
	// 回合结束后清掉轨迹, 下一条消息从零开始。
	defer func() {
		if err := e.store.Clear(context.WithoutCancel(ctx), session.ID); err != nil {
			e.log.Warn("清理回合轨迹失败", "session", session.ID, "error", err)
		}
	}()

	outcome := Outcome{}
	for round := 0; round < e.maxRounds; round++ {
		outcome.Rounds = round + 1

		messages, err := e.store.List(ctx, session.ID)
		if err != nil {
			return Outcome{}, err
		}
		reply, err := e.model.Infer(ctx, messages, registry.Declarations())
		if err != nil {
			return Outcome{}, agenterrors.Wrap(agenterrors.CodeInferenceFailure, err, "模型推理失败",
				agenterrors.WithRetryable(true))
		}

		if len(reply.ToolCalls) == 0 {
			outcome.Reply = reply.Content
			return outcome, nil
		}

		// 路由只看首个工具调用。
		first := reply.ToolCalls[0]
		if effect, ok := registry.Effect(first.Name); ok && effect == capability.EffectProposal {
			result, err := e.invoke(ctx, registry, session, first)
			if err != nil {
				return Outcome{}, err
			}
			outcome.Reply = result.Content
			outcome.ToolsInvoked = append(outcome.ToolsInvoked, first.Name)
			outcome.ProposalsSent += result.ProposalsSent
			outcome.Bypassed = true
			return outcome, nil
		}

		if err := e.store.Append(ctx, session.ID, *reply); err != nil {
			return Outcome{}, err
		}
		for _, call := range reply.ToolCalls {
			outcome.ToolsInvoked = append(outcome.ToolsInvoked, call.Name)
			result, err := e.invoke(ctx, registry, session, call)
			content := result.Content
			if err != nil {
				// 单个工具失败不终止回合, 把失败信息交还给模型处置。
				e.log.Warn("工具调用失败", "session", session.ID, "tool", call.Name, "error", err)
				content = fmt.Sprintf("Tool %s failed: %v", call.Name, err)
			}
			outcome.ProposalsSent += result.ProposalsSent
			if err := e.store.Append(ctx, session.ID, llm.ToolResultMessage(call.ID, content)); err != nil {
				return Outcome{}, err
			}
		}
	}

	e.log.Warn("回合达到推理轮数上限", "session", session.ID, "rounds", e.maxRounds)
	outcome.Reply = exhaustedReply
	return outcome, nil
}

func (e *Engine) invoke(ctx context.Context, registry *capability.Registry, session Session, call llm.ToolCall) (capability.Result, error) {
	tool, ok := registry.Lookup(call.Name)
	if !ok {
		return capability.Result{}, agenterrors.New(agenterrors.CodeNotFound,
			fmt.Sprintf("能力 %s 未注册", call.Name))
	}
	return tool.Invoke(ctx, capability.Invocation{
		Args:          call.Arguments,
		Kind:          session.Kind,
		AgentAddress:  session.AgentAddress,
		SenderAddress: session.FromAddress,
		Members:       session.Members,
		Conversation:  session.Conversation,
	})
}

// composePrompt 在基础人设后追加命中的背景知识。
func (e *Engine) composePrompt(input string) string {
	if e.knowledge == nil {
		return systemPrompt
	}
	snippets := e.knowledge.Query(input)
	if len(snippets) == 0 {
		return systemPrompt
	}
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\nBackground knowledge:")
	for _, snippet := range snippets {
		sb.WriteString(fmt.Sprintf("\n- %s: %s", snippet.Title, snippet.Content))
	}
	return sb.String()
}
