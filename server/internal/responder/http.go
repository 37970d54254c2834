package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

const (
	ActionResponse = "response"
	ActionFeedback = "feedback"
)

// AIRequest 是 POST /api/ai 的请求体。
// messages / interviewType / details 是旧版前端使用的字段名，解码时与新字段等价。
type AIRequest struct {
	Turns         []model.ConversationTurn `json:"turns,omitempty"`
	Messages      []model.ConversationTurn `json:"messages,omitempty"`
	SessionKind   model.SessionKind        `json:"sessionKind,omitempty"`
	InterviewType string                   `json:"interviewType,omitempty"`
	Topic         string                   `json:"topic"`
	Action        string                   `json:"action"`
	Notes         string                   `json:"notes,omitempty"`
	Config        json.RawMessage          `json:"config,omitempty"`
	Details       json.RawMessage          `json:"details,omitempty"`
}

// AIResponse 是 POST /api/ai 的响应体
type AIResponse struct {
	Response string          `json:"response,omitempty"`
	Feedback *model.Feedback `json:"feedback,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// History 返回请求携带的对话历史。
func (r AIRequest) History() []model.ConversationTurn {
	if len(r.Turns) > 0 {
		return r.Turns
	}
	return r.Messages
}

// SessionConfig 还原会话配置。
func (r AIRequest) SessionConfig() (model.SessionConfig, error) {
	kind := r.SessionKind
	if kind == "" && r.InterviewType != "" {
		kind = model.SessionKind(r.InterviewType)
	}
	details := r.Config
	if len(details) == 0 {
		details = r.Details
	}
	return model.NewSessionConfig(kind, r.Topic, r.Notes, details)
}

// NewAIRequest 由历史与配置构造请求体。
func NewAIRequest(action string, turns []model.ConversationTurn, cfg model.SessionConfig) (AIRequest, error) {
	req := AIRequest{
		Turns:       turns,
		SessionKind: cfg.Kind(),
		Topic:       cfg.Topic,
		Action:      action,
		Notes:       cfg.Notes,
	}
	if cfg.Details != nil {
		raw, err := json.Marshal(cfg.Details)
		if err != nil {
			return AIRequest{}, fmt.Errorf("marshal details: %w", err)
		}
		req.Config = raw
	}
	return req, nil
}

// HTTPResponder 调用远端 /api/ai；非 2xx 或响应体不合法都视为错误。
type HTTPResponder struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPResponder 创建远端回复方
func NewHTTPResponder(endpoint string, timeout time.Duration) *HTTPResponder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPResponder{endpoint: endpoint, httpClient: &http.Client{Timeout: timeout}}
}

// Respond 请求下一句回复
func (h *HTTPResponder) Respond(ctx context.Context, turns []model.ConversationTurn, cfg model.SessionConfig) (string, error) {
	resp, err := h.call(ctx, ActionResponse, turns, cfg)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Response) == "" {
		return "", errors.New("responder: empty response field")
	}
	return resp.Response, nil
}

// Feedback 请求结构化反馈
func (h *HTTPResponder) Feedback(ctx context.Context, turns []model.ConversationTurn, cfg model.SessionConfig) (model.Feedback, error) {
	resp, err := h.call(ctx, ActionFeedback, turns, cfg)
	if err != nil {
		return model.Feedback{}, err
	}
	if resp.Feedback == nil {
		return model.Feedback{}, fmt.Errorf("%w: missing feedback field", ErrMalformedFeedback)
	}
	return *resp.Feedback, nil
}

func (h *HTTPResponder) call(ctx context.Context, action string, turns []model.ConversationTurn, cfg model.SessionConfig) (*AIResponse, error) {
	payload, err := NewAIRequest(action, turns, cfg)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ai endpoint error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out AIResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &out, nil
}
