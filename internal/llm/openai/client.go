package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"DeSmond-Agent/internal/llm"

	gpt "github.com/sashabaranov/go-openai"
)

const (
	defaultModelName  = "llama3.1:8b"
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 2
)

// Config 描述调用 OpenAI 兼容 Chat Completions API 所需的信息。
// MaxContextMessages 限制单次请求携带的消息条数, 0 表示不限制。
type Config struct {
	APIKey             string
	BaseURL            string
	Model              string
	Temperature        float64
	Timeout            time.Duration
	MaxRetries         int
	MaxContextMessages int
}

// ChatCompleter 抽象底层 SDK 的调用入口，便于测试替换。
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req gpt.ChatCompletionRequest) (gpt.ChatCompletionResponse, error)
}

// Client 通过 OpenAI 兼容接口完成带工具调用的推理。
type Client struct {
	api         ChatCompleter
	model       string
	temperature float32
	maxRetries  int
	maxContext  int
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	clientCfg := gpt.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Client{
		api:         gpt.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: float32(cfg.Temperature),
		maxRetries:  maxRetries,
		maxContext:  cfg.MaxContextMessages,
	}, nil
}

// NewClientWithAPI 使用外部提供的底层调用入口构造客户端，主要用于测试。
func NewClientWithAPI(api ChatCompleter, model string, maxRetries int) *Client {
	if model == "" {
		model = defaultModelName
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Client{api: api, model: model, maxRetries: maxRetries}
}

// Infer 调用大模型，返回携带文本或工具调用请求的 assistant 消息。
func (c *Client) Infer(ctx context.Context, messages []llm.Message, tools []llm.ToolDecl) (*llm.Message, error) {
	if c == nil || c.api == nil {
		return nil, errors.New("OpenAI 客户端未初始化")
	}

	req := gpt.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toChatMessages(trimContext(messages, c.maxContext)),
		Temperature: c.temperature,
	}
	if len(tools) > 0 {
		req.Tools = toChatTools(tools)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("推理响应中没有有效的 choices")
			continue
		}
		return fromChatMessage(resp.Choices[0].Message), nil
	}
	return nil, fmt.Errorf("推理失败（已重试 %d 次）: %w", c.maxRetries, lastErr)
}

// trimContext 把过长的轨迹截到最近 max 条。开头的 system 消息始终保留,
// 占用一条额度。
func trimContext(messages []llm.Message, max int) []llm.Message {
	if max <= 0 || len(messages) <= max {
		return messages
	}
	if messages[0].Role == llm.RoleSystem {
		trimmed := make([]llm.Message, 0, max)
		trimmed = append(trimmed, messages[0])
		return append(trimmed, messages[len(messages)-(max-1):]...)
	}
	return messages[len(messages)-max:]
}

func toChatMessages(messages []llm.Message) []gpt.ChatCompletionMessage {
	converted := make([]gpt.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out := gpt.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, gpt.ToolCall{
				ID:   call.ID,
				Type: gpt.ToolTypeFunction,
				Function: gpt.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		converted = append(converted, out)
	}
	return converted
}

func toChatTools(tools []llm.ToolDecl) []gpt.Tool {
	converted := make([]gpt.Tool, 0, len(tools))
	for _, tool := range tools {
		converted = append(converted, gpt.Tool{
			Type: gpt.ToolTypeFunction,
			Function: &gpt.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return converted
}

func fromChatMessage(msg gpt.ChatCompletionMessage) *llm.Message {
	out := &llm.Message{
		Role:    llm.RoleAssistant,
		Content: msg.Content,
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return out
}
