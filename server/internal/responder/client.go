package responder

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/metrics"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

// ApologyText 回复失败时展示并朗读的固定文本
const ApologyText = "I apologize, but I'm experiencing technical difficulties. Let's try again in a moment."

const (
	DefaultWindow          = 15
	DefaultResponseTimeout = 30 * time.Second
	DefaultFeedbackTimeout = 30 * time.Second
)

// MalformedFeedback 反馈文本无法解析时的兜底
func MalformedFeedback() model.Feedback {
	return model.Feedback{
		Summary:      "Session completed successfully. The AI was unable to structure detailed feedback.",
		Strengths:    []string{"Participation in the full session"},
		Improvements: []string{"Try another session for more specific feedback"},
	}
}

// FailedFeedback 传输失败或超时时的兜底
func FailedFeedback() model.Feedback {
	return model.Feedback{
		Summary:      "Session completed. There was an issue generating detailed feedback.",
		Strengths:    []string{"Completed the interview session"},
		Improvements: []string{"Try another session"},
	}
}

// Options Client 配置
type Options struct {
	Window          int
	ResponseTimeout time.Duration
	FeedbackTimeout time.Duration
	Logger          *log.Logger
	Metrics         *metrics.Metrics
}

// Client 回复获取客户端：截断历史窗口、统一超时，并把失败折叠成固定兜底。
// 返回值总是可以直接展示；error 只用于日志与上层判断是否走了兜底。
type Client struct {
	responder Responder
	window    int
	respTO    time.Duration
	fbTO      time.Duration
	logger    *log.Logger
	metrics   *metrics.Metrics
}

// NewClient 创建回复获取客户端
func NewClient(r Responder, opts Options) *Client {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.FeedbackTimeout <= 0 {
		opts.FeedbackTimeout = DefaultFeedbackTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Client{
		responder: r,
		window:    opts.Window,
		respTO:    opts.ResponseTimeout,
		fbTO:      opts.FeedbackTimeout,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// RequestResponse 用最近 N 条历史请求下一句回复。
// 失败、超时或空输出时返回 ApologyText 与原因。
func (c *Client) RequestResponse(ctx context.Context, turns []model.ConversationTurn, cfg model.SessionConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.respTO)
	defer cancel()

	start := time.Now()
	text, err := c.responder.Respond(ctx, Window(turns, c.window), cfg)
	c.metrics.ObserveResponder(ActionResponse, time.Since(start))
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("responder: empty response")
	}
	if err != nil {
		c.logger.Printf("[Responder] response failed, using apology: topic=%q turns=%d err=%v", cfg.Topic, len(turns), err)
		c.metrics.Fallback(ActionResponse)
		return ApologyText, err
	}
	return text, nil
}

// RequestFeedback 用完整历史请求结构化反馈。
// 解析失败返回 MalformedFeedback，传输失败或超时返回 FailedFeedback。
func (c *Client) RequestFeedback(ctx context.Context, turns []model.ConversationTurn, cfg model.SessionConfig) (model.Feedback, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fbTO)
	defer cancel()

	start := time.Now()
	fb, err := c.responder.Feedback(ctx, model.CloneTurns(turns), cfg)
	c.metrics.ObserveResponder(ActionFeedback, time.Since(start))
	if err != nil {
		c.metrics.Fallback(ActionFeedback)
		if errors.Is(err, ErrMalformedFeedback) {
			c.logger.Printf("[Responder] feedback unparseable: topic=%q err=%v", cfg.Topic, err)
			return MalformedFeedback(), err
		}
		c.logger.Printf("[Responder] feedback failed: topic=%q err=%v", cfg.Topic, err)
		return FailedFeedback(), err
	}
	return fb, nil
}

// Window 返回最近 n 条历史的副本，顺序不变。
func Window(turns []model.ConversationTurn, n int) []model.ConversationTurn {
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return model.CloneTurns(turns)
}
