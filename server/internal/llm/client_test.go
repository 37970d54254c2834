package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/config"
)

// TestOpenAIClientSendsSchemaAndReadsContent 验证 OpenAI 请求体包含 response_format 并正确读取回复。
func TestOpenAIClientSendsSchemaAndReadsContent(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  {\"summary\":\"ok\"}  "}}]}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL, APIKey: "sk-test", Model: "gpt-4-turbo", MaxTokens: 500, Temperature: 0.7})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.Complete(ctx, []Message{{Role: "user", Content: "hi"}}, &JSONSchema{Name: "feedback", Schema: map[string]any{"type": "object"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res != `{"summary":"ok"}` {
		t.Fatalf("unexpected content %q", res)
	}
	if _, ok := got["response_format"]; !ok {
		t.Fatalf("response_format not sent: %v", got)
	}
	if got["max_tokens"].(float64) != 500 {
		t.Fatalf("max_tokens not sent: %v", got["max_tokens"])
	}
}

// TestOpenAIClientEmptyContent 验证空回复返回 ErrEmptyContent。
func TestOpenAIClientEmptyContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":""}}]}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL})
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

// TestOpenAIClientStatusError 验证非 2xx 状态被当作传输错误返回。
func TestOpenAIClientStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL})
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

// TestAnthropicClientSplitsSystemAndExtractsJSON 验证 system 消息被单独发送，且代码块包裹的 JSON 被剥离。
func TestAnthropicClientSplitsSystemAndExtractsJSON(t *testing.T) {
	var got struct {
		System   string    `json:"system"`
		Messages []Message `json:"messages"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "ak" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte("{\"content\":[{\"type\":\"text\",\"text\":\"```json\\n{\\\"summary\\\":\\\"fine\\\"}\\n```\"}]}"))
	}))
	defer ts.Close()

	client := NewAnthropicClient(config.LLMProviderConfig{APIURL: ts.URL, APIKey: "ak", Model: "claude"})
	res, err := client.Complete(context.Background(), []Message{
		{Role: "system", Content: "be an interviewer"},
		{Role: "user", Content: "hello"},
	}, &JSONSchema{Name: "feedback", Schema: map[string]any{"type": "object"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res != `{"summary":"fine"}` {
		t.Fatalf("unexpected content %q", res)
	}
	if !strings.HasPrefix(got.System, "be an interviewer") {
		t.Fatalf("system not forwarded: %q", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

// TestNewClientRejectsUnknownProvider 验证未知提供商报错。
func TestNewClientRejectsUnknownProvider(t *testing.T) {
	if _, err := NewClient(config.LLMConfig{Provider: "mystery"}); err == nil {
		t.Fatalf("expected error")
	}
}
