package turn

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/history"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/interview"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/metrics"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/speech"
)

// Status 会话当前所处阶段
type Status string

const (
	Idle         Status = "idle"
	Listening    Status = "listening"
	Transcribing Status = "transcribing"
	Thinking     Status = "thinking"
	TypingOut    Status = "typing"
	Speaking     Status = "speaking"
	Ended        Status = "ended"
)

var (
	ErrSpeaking = errors.New("turn: assistant is speaking")
	ErrBusy     = errors.New("turn: another turn is in progress")
	ErrEnded    = errors.New("turn: session has ended")
)

const (
	defaultTypingInterval = 30 * time.Millisecond
	defaultPersistTimeout = 5 * time.Second
	persistQueueSize      = 64
)

// Retriever 获取回复与反馈；失败时返回可直接使用的兜底值和原因
type Retriever interface {
	RequestResponse(ctx context.Context, turns []model.ConversationTurn, cfg model.SessionConfig) (string, error)
	RequestFeedback(ctx context.Context, turns []model.ConversationTurn, cfg model.SessionConfig) (model.Feedback, error)
}

// Speaker 语音输出；Stop 返回时必须已经停止发声
type Speaker interface {
	Speak(ctx context.Context, text string, rate float64) speech.Outcome
	Stop()
}

// Capture 语音输入
type Capture interface {
	Start()
	Stop(ctx context.Context) string
	Cancel()
}

// Listener 接收会话事件。除 TurnRevealed 外都在持有控制器锁时调用，
// 实现不能回调 Controller。
type Listener interface {
	StateChanged(s Status)
	TurnAppended(t model.ConversationTurn)
	TurnRevealed(turnID, prefix string)
	Ended(fb model.Feedback)
}

// Options 控制器依赖。Repo、History、Listener 可以为空。
type Options struct {
	InterviewID string
	BrowserID   string
	Config      model.SessionConfig
	Intro       string

	Retriever Retriever
	Speaker   Speaker
	Capture   Capture
	Listener  Listener
	Repo      interview.Repository
	History   history.Store

	TypingInterval time.Duration
	PersistTimeout time.Duration

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Controller 一次面试会话的轮次状态机。
// 方法可以并发调用；SendMessage / StopListening / EndSession 会阻塞到对应阶段结束，
// 调用方需要在独立 goroutine 中执行它们。
type Controller struct {
	opts    Options
	logger  *log.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	status     Status
	turns      []model.ConversationTurn
	started    bool
	ended      bool
	gen        uint64
	respCancel context.CancelFunc
	playCancel context.CancelFunc
	feedback   *model.Feedback
	endDone    chan struct{}

	persistCh     chan model.ConversationTurn
	persistWG     sync.WaitGroup
	persistClosed bool
}

func NewController(opts Options) *Controller {
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = defaultTypingInterval
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	c := &Controller{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		status:  Idle,
	}
	if opts.Repo != nil {
		c.persistCh = make(chan model.ConversationTurn, persistQueueSize)
		c.persistWG.Add(1)
		go c.persistLoop()
	}
	return c
}

// Status 当前阶段
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Turns 对话副本
func (c *Controller) Turns() []model.ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.CloneTurns(c.turns)
}

// Restore 载入已有对话（断线重连时），之后不再播放开场白
func (c *Controller) Restore(turns []model.ConversationTurn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = model.CloneTurns(turns)
	if len(turns) > 0 {
		c.started = true
	}
}

// Start 追加并朗读开场白，只执行一次。开场白直接完整显示，不做逐字展示。
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrEnded
	}
	if c.started || c.opts.Intro == "" {
		c.started = true
		c.mu.Unlock()
		return nil
	}
	c.started = true
	turn := c.appendLocked(model.RoleAssistant, c.opts.Intro)
	playCtx, gen := c.beginPlayLocked(ctx)
	c.mu.Unlock()

	c.play(playCtx, gen, turn, false)
	return nil
}

// StartListening 开始录音
func (c *Controller) StartListening() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case Ended:
		return ErrEnded
	case Speaking, TypingOut:
		return ErrSpeaking
	case Listening, Transcribing, Thinking:
		return ErrBusy
	}
	c.opts.Capture.Start()
	c.setStatusLocked(Listening)
	return nil
}

// StopListening 结束录音，拿到转写文本后按 SendMessage 处理
func (c *Controller) StopListening(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case Ended:
		c.mu.Unlock()
		return ErrEnded
	case Listening:
	default:
		c.mu.Unlock()
		return nil
	}
	c.setStatusLocked(Transcribing)
	gen := c.gen
	c.mu.Unlock()

	text := c.opts.Capture.Stop(ctx)

	c.mu.Lock()
	if gen != c.gen || c.status != Transcribing {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.send(ctx, text, Transcribing)
}

// SendMessage 发送一条用户消息并等待回复播放结束。空白文本不产生轮次。
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	return c.send(ctx, text, Idle)
}

func (c *Controller) send(ctx context.Context, text string, from Status) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrEnded
	}
	if c.status != from {
		err := c.busyErrLocked()
		c.mu.Unlock()
		return err
	}
	if text == "" {
		c.setStatusLocked(Idle)
		c.mu.Unlock()
		return nil
	}

	c.appendLocked(model.RoleUser, text)
	c.setStatusLocked(Thinking)
	turns := model.CloneTurns(c.turns)
	respCtx, cancel := context.WithCancel(ctx)
	c.respCancel = cancel
	gen := c.gen
	c.mu.Unlock()

	reply, err := c.opts.Retriever.RequestResponse(respCtx, turns, c.opts.Config)
	cancel()

	c.mu.Lock()
	if gen != c.gen || c.ended {
		// 会话已结束，回复作废
		c.mu.Unlock()
		return nil
	}
	c.respCancel = nil
	if err != nil {
		c.logger.Printf("[Turn] %s: response failed: %v", c.opts.InterviewID, err)
		c.appendLocked(model.RoleAssistant, reply)
		c.setStatusLocked(Idle)
		c.mu.Unlock()
		return nil
	}
	turn := c.appendLocked(model.RoleAssistant, reply)
	playCtx, gen := c.beginPlayLocked(ctx)
	c.mu.Unlock()

	c.play(playCtx, gen, turn, true)
	return nil
}

// EndSession 停止一切输出与输入，获取并保存反馈。重复调用返回同一份反馈。
func (c *Controller) EndSession(ctx context.Context) (model.Feedback, error) {
	c.mu.Lock()
	if c.ended {
		done := c.endDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return model.Feedback{}, ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return *c.feedback.Clone(), nil
	}
	c.ended = true
	c.gen++
	c.endDone = make(chan struct{})
	if c.respCancel != nil {
		c.respCancel()
		c.respCancel = nil
	}
	if c.playCancel != nil {
		c.playCancel()
		c.playCancel = nil
	}
	turns := model.CloneTurns(c.turns)
	c.setStatusLocked(Ended)
	c.mu.Unlock()

	// 先同步停止播放与录音，再请求反馈
	c.opts.Speaker.Stop()
	c.opts.Capture.Cancel()

	fb, err := c.opts.Retriever.RequestFeedback(ctx, turns, c.opts.Config)
	if err != nil {
		c.logger.Printf("[Turn] %s: feedback fallback: %v", c.opts.InterviewID, err)
	}
	c.saveFeedback(ctx, turns, fb)

	c.mu.Lock()
	c.feedback = fb.Clone()
	close(c.endDone)
	c.opts.Listener.Ended(fb)
	c.mu.Unlock()
	return fb, nil
}

// Close 等待排队中的持久化写完
func (c *Controller) Close() {
	c.mu.Lock()
	if c.persistCh != nil && !c.persistClosed {
		c.persistClosed = true
		close(c.persistCh)
	}
	c.mu.Unlock()
	c.persistWG.Wait()
}

func (c *Controller) busyErrLocked() error {
	switch c.status {
	case Speaking, TypingOut:
		return ErrSpeaking
	default:
		return ErrBusy
	}
}

func (c *Controller) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	c.opts.Listener.StateChanged(s)
}

// appendLocked 追加轮次，通知监听方并排队持久化
func (c *Controller) appendLocked(role model.Role, content string) model.ConversationTurn {
	turn := model.ConversationTurn{
		ID:        interview.NewTurnID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	c.turns = append(c.turns, turn)
	c.metrics.TurnAppended(string(role))
	c.opts.Listener.TurnAppended(turn)
	if c.persistCh != nil && !c.persistClosed {
		// 持有锁时不能阻塞；存储卡住时丢弃这次写入
		select {
		case c.persistCh <- turn:
		default:
			c.logger.Printf("[Turn] %s: persist queue full, dropping turn %s", c.opts.InterviewID, turn.ID)
			c.metrics.PersistFailed()
		}
	}
	return turn
}

func (c *Controller) beginPlayLocked(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	c.playCancel = cancel
	c.setStatusLocked(Speaking)
	return ctx, c.gen
}

// play 逐字展示与语音同时进行，两者都结束后回到 Idle
func (c *Controller) play(ctx context.Context, gen uint64, turn model.ConversationTurn, reveal bool) {
	revealDone := make(chan struct{})
	if reveal {
		go func() {
			defer close(revealDone)
			for prefix := range Reveal(turn.Content, c.opts.TypingInterval) {
				if ctx.Err() != nil {
					return
				}
				c.opts.Listener.TurnRevealed(turn.ID, prefix)
			}
		}()
	} else {
		close(revealDone)
	}

	if outcome := c.opts.Speaker.Speak(ctx, turn.Content, 0); outcome == speech.Unsupported {
		c.logger.Printf("[Turn] %s: speech unavailable, text only", c.opts.InterviewID)
	}

	select {
	case <-revealDone:
	default:
		c.mu.Lock()
		if gen == c.gen && !c.ended {
			c.setStatusLocked(TypingOut)
		}
		c.mu.Unlock()
		<-revealDone
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.ended {
		return
	}
	if c.playCancel != nil {
		c.playCancel()
		c.playCancel = nil
	}
	c.setStatusLocked(Idle)
}

func (c *Controller) persistLoop() {
	defer c.persistWG.Done()
	for turn := range c.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.PersistTimeout)
		_, err := c.opts.Repo.AppendTurn(ctx, c.opts.InterviewID, turn)
		cancel()
		if err != nil {
			c.logger.Printf("[Turn] %s: persist turn %s failed: %v", c.opts.InterviewID, turn.ID, err)
			c.metrics.PersistFailed()
		}
	}
}

func (c *Controller) saveFeedback(ctx context.Context, turns []model.ConversationTurn, fb model.Feedback) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.PersistTimeout)
	defer cancel()

	if c.opts.Repo != nil {
		if err := c.opts.Repo.SetFeedback(ctx, c.opts.InterviewID, fb); err != nil {
			c.logger.Printf("[Turn] %s: save feedback failed: %v", c.opts.InterviewID, err)
			c.metrics.PersistFailed()
		}
	}
	if c.opts.History != nil && c.opts.BrowserID != "" {
		if err := c.opts.History.Complete(ctx, c.opts.BrowserID, c.opts.InterviewID, turns, &fb); err != nil {
			c.logger.Printf("[Turn] %s: update history failed: %v", c.opts.InterviewID, err)
		}
	}
}

type nopListener struct{}

func (nopListener) StateChanged(Status)                 {}
func (nopListener) TurnAppended(model.ConversationTurn) {}
func (nopListener) TurnRevealed(string, string)         {}
func (nopListener) Ended(model.Feedback)                {}
