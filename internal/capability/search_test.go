package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"DeSmond-Agent/internal/transport"
)

func TestWebSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "base network" {
			t.Errorf("查询词 = %q, 期望 base network", got)
		}
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q, 期望 json", got)
		}
		json.NewEncoder(w).Encode(duckResponse{
			Heading:      "Base",
			AbstractText: "Base is an Ethereum layer 2 network.",
			AbstractURL:  "https://example.org/base",
			RelatedTopics: []duckTopic{
				{Text: "Base docs", FirstURL: "https://example.org/docs"},
				{Topics: []duckTopic{{Text: "Nested topic", FirstURL: "https://example.org/nested"}}},
			},
		})
	}))
	defer server.Close()

	tool := NewWebSearch(SearchConfig{Endpoint: server.URL, MaxResults: 10})
	result, err := tool.Invoke(context.Background(), Invocation{
		Args: json.RawMessage(`{"query":"base network"}`),
	})
	if err != nil {
		t.Fatalf("搜索失败: %v", err)
	}
	if !strings.Contains(result.Content, "Base is an Ethereum layer 2 network.") {
		t.Fatalf("摘要缺失: %s", result.Content)
	}
	if !strings.Contains(result.Content, "Base docs (https://example.org/docs)") {
		t.Fatalf("相关条目缺失: %s", result.Content)
	}
	if !strings.Contains(result.Content, "Nested topic") {
		t.Fatalf("嵌套条目缺失: %s", result.Content)
	}
}

func TestWebSearchLimitsResults(t *testing.T) {
	topics := make([]duckTopic, 8)
	for i := range topics {
		topics[i] = duckTopic{Text: "topic", FirstURL: "https://example.org"}
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(duckResponse{RelatedTopics: topics})
	}))
	defer server.Close()

	tool := NewWebSearch(SearchConfig{Endpoint: server.URL, MaxResults: 3})
	result, err := tool.Invoke(context.Background(), Invocation{
		Args: json.RawMessage(`{"query":"anything"}`),
	})
	if err != nil {
		t.Fatalf("搜索失败: %v", err)
	}
	if got := len(strings.Split(result.Content, "\n")); got != 3 {
		t.Fatalf("结果行数 = %d, 期望 3", got)
	}
}

func TestWebSearchEmptyQuery(t *testing.T) {
	tool := NewWebSearch(SearchConfig{})
	if _, err := tool.Invoke(context.Background(), Invocation{
		Args: json.RawMessage(`{"query":"  "}`),
	}); err == nil {
		t.Fatal("空查询词应当返回错误")
	}
}

func TestWebSearchNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(duckResponse{})
	}))
	defer server.Close()

	tool := NewWebSearch(SearchConfig{Endpoint: server.URL})
	result, err := tool.Invoke(context.Background(), Invocation{
		Args: json.RawMessage(`{"query":"nothing"}`),
	})
	if err != nil {
		t.Fatalf("搜索失败: %v", err)
	}
	if result.Content != "No search results found." {
		t.Fatalf("空结果文案异常: %s", result.Content)
	}
}

func TestFallback(t *testing.T) {
	tool := NewFallback()
	result, err := tool.Invoke(context.Background(), Invocation{Kind: transport.KindDirect})
	if err != nil {
		t.Fatalf("兜底能力失败: %v", err)
	}
	if !strings.Contains(result.Content, "say something friendly") {
		t.Fatalf("兜底文案异常: %s", result.Content)
	}
}
