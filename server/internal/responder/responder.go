package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/llm"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/prompt"
)

// Responder 是 AI 回复方：给定历史与会话配置，产出下一句回复或结构化反馈。
// 实现只负责一次调用，窗口截断、超时与兜底由 Client 统一处理。
type Responder interface {
	Respond(ctx context.Context, turns []model.ConversationTurn, cfg model.SessionConfig) (string, error)
	Feedback(ctx context.Context, turns []model.ConversationTurn, cfg model.SessionConfig) (model.Feedback, error)
}

// ErrMalformedFeedback 反馈文本无法解析为 JSON 对象
var ErrMalformedFeedback = errors.New("responder: malformed feedback")

// feedbackSchema 要求模型只输出三个字段
var feedbackSchema = &llm.JSONSchema{
	Name:   "session_feedback",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":      map[string]any{"type": "string"},
			"strengths":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"improvements": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"summary", "strengths", "improvements"},
		"additionalProperties": false,
	},
}

// LLMResponder 在本进程内拼装提示词并调用模型，/api/ai 也由它实现。
type LLMResponder struct {
	client  llm.Client
	prompts *prompt.Builder
}

// NewLLMResponder 创建本地回复方
func NewLLMResponder(client llm.Client, prompts *prompt.Builder) *LLMResponder {
	return &LLMResponder{client: client, prompts: prompts}
}

// Respond 系统指令 + 历史，返回模型原文。
func (r *LLMResponder) Respond(ctx context.Context, turns []model.ConversationTurn, cfg model.SessionConfig) (string, error) {
	system, err := r.prompts.SystemInstructions(cfg)
	if err != nil {
		return "", err
	}
	messages := append([]llm.Message{{Role: "system", Content: system}}, toMessages(turns)...)
	text, err := r.client.Complete(ctx, messages, nil)
	if err != nil {
		return "", fmt.Errorf("complete response: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Feedback 请求结构化反馈；缺失字段用默认值补齐，无法解析时返回 ErrMalformedFeedback。
func (r *LLMResponder) Feedback(ctx context.Context, turns []model.ConversationTurn, cfg model.SessionConfig) (model.Feedback, error) {
	system, request, err := r.prompts.FeedbackInstructions(cfg)
	if err != nil {
		return model.Feedback{}, err
	}
	messages := make([]llm.Message, 0, len(turns)+2)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	messages = append(messages, toMessages(turns)...)
	messages = append(messages, llm.Message{Role: "user", Content: request})

	text, err := r.client.Complete(ctx, messages, feedbackSchema)
	if err != nil {
		return model.Feedback{}, fmt.Errorf("complete feedback: %w", err)
	}
	return ParseFeedback(text)
}

// ParseFeedback 解析模型输出的反馈 JSON。
func ParseFeedback(text string) (model.Feedback, error) {
	var raw struct {
		Summary      string   `json:"summary"`
		Strengths    []string `json:"strengths"`
		Improvements []string `json:"improvements"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(text)), &raw); err != nil {
		return model.Feedback{}, fmt.Errorf("%w: %v", ErrMalformedFeedback, err)
	}

	fb := model.Feedback{Summary: raw.Summary, Strengths: raw.Strengths, Improvements: raw.Improvements}
	if strings.TrimSpace(fb.Summary) == "" {
		fb.Summary = "Session completed successfully."
	}
	// 只补齐缺失字段；显式给出的空列表保持原样
	if fb.Strengths == nil {
		fb.Strengths = []string{"Good engagement"}
	}
	if fb.Improvements == nil {
		fb.Improvements = []string{"Continue practicing"}
	}
	return fb, nil
}

func toMessages(turns []model.ConversationTurn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	return out
}
