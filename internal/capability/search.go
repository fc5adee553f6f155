package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/llm"
)

const (
	defaultSearchEndpoint = "https://api.duckduckgo.com/"
	defaultSearchResults  = 10
	searchTimeout         = 15 * time.Second
)

// SearchConfig 控制网页搜索能力的行为。零值字段使用默认值。
type SearchConfig struct {
	Endpoint   string
	MaxResults int
	HTTPClient *http.Client
}

// duckResponse 只保留即时应答接口中用到的字段。
type duckResponse struct {
	Heading       string      `json:"Heading"`
	AbstractText  string      `json:"AbstractText"`
	AbstractURL   string      `json:"AbstractURL"`
	Answer        string      `json:"Answer"`
	RelatedTopics []duckTopic `json:"RelatedTopics"`
}

type duckTopic struct {
	Text     string      `json:"Text"`
	FirstURL string      `json:"FirstURL"`
	Topics   []duckTopic `json:"Topics"`
}

// NewWebSearch 构造网页搜索能力, 基于 DuckDuckGo 即时应答接口。
func NewWebSearch(cfg SearchConfig) Capability {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultSearchEndpoint
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: searchTimeout}
	}

	return newFunc(Descriptor{
		Name: "web_search",
		Description: "This tool allows users to perform accurate and targeted internet searches for specific terms " +
			"or phrases. It activates whenever the user explicitly requests a web search, seeks real-time or updated " +
			"information, or mentions terms like 'search,' 'latest,' or 'current' related to the desired topic.",
		Parameters: llm.ObjectSchema(map[string]llm.Property{
			"query": {Type: "string", Description: "Search terms to look up."},
		}, "query"),
		Effect: EffectPure,
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		var args struct {
			Query string `json:"query"`
		}
		if err := decodeArgs(inv.Args, &args); err != nil {
			return Result{}, err
		}
		if strings.TrimSpace(args.Query) == "" {
			return Result{}, agenterrors.New(agenterrors.CodeInvalidArgument, "搜索关键词不能为空")
		}

		params := url.Values{}
		params.Set("q", args.Query)
		params.Set("format", "json")
		params.Set("no_html", "1")
		params.Set("skip_disambig", "1")
		params.Set("kp", "1")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return Result{}, agenterrors.Wrap(agenterrors.CodeCapabilityFailure, err, "构造搜索请求失败")
		}
		resp, err := client.Do(req)
		if err != nil {
			return Result{}, agenterrors.Wrap(agenterrors.CodeCapabilityFailure, err, "调用搜索服务失败",
				agenterrors.WithRetryable(true))
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return Result{}, agenterrors.New(agenterrors.CodeCapabilityFailure,
				fmt.Sprintf("搜索服务返回状态码 %d", resp.StatusCode))
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return Result{}, agenterrors.Wrap(agenterrors.CodeCapabilityFailure, err, "读取搜索响应失败")
		}

		var parsed duckResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return Result{}, agenterrors.Wrap(agenterrors.CodeCapabilityFailure, err, "解析搜索响应失败")
		}
		return Result{Content: formatSearchResults(parsed, maxResults)}, nil
	})
}

// formatSearchResults 把即时应答拼成模型易读的列表。
func formatSearchResults(parsed duckResponse, maxResults int) string {
	var lines []string
	if parsed.Answer != "" {
		lines = append(lines, parsed.Answer)
	}
	if parsed.AbstractText != "" {
		line := parsed.AbstractText
		if parsed.AbstractURL != "" {
			line += " (" + parsed.AbstractURL + ")"
		}
		lines = append(lines, line)
	}
	lines = appendTopics(lines, parsed.RelatedTopics, maxResults)
	if len(lines) == 0 {
		return "No search results found."
	}
	if len(lines) > maxResults {
		lines = lines[:maxResults]
	}
	return strings.Join(lines, "\n")
}

func appendTopics(lines []string, topics []duckTopic, maxResults int) []string {
	for _, topic := range topics {
		if len(lines) >= maxResults {
			break
		}
		if topic.Text != "" {
			line := topic.Text
			if topic.FirstURL != "" {
				line += " (" + topic.FirstURL + ")"
			}
			lines = append(lines, line)
			continue
		}
		lines = appendTopics(lines, topic.Topics, maxResults)
	}
	return lines
}

// NewFallback 构造兜底能力, 在没有其他能力适用时引导用户继续互动。
func NewFallback() Capability {
	return newFunc(Descriptor{
		Name: "fallback",
		Description: "This tool activates only when the assistant has no other tool actively invoked in response " +
			"to a user query",
		Parameters: llm.ObjectSchema(nil),
		Effect:     EffectPure,
	}, func(_ context.Context, _ Invocation) (Result, error) {
		return Result{Content: "As stated above, say something friendly and invite the user to interact with you."}, nil
	})
}
