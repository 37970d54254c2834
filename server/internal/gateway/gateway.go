package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/config"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/history"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/interview"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/metrics"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/prompt"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/speech"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/transcribe"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/turn"
)

// EventHandler 处理一条客户端事件
type EventHandler func(ctx context.Context, event *ClientMessage) error

// Options 所有会话共享的依赖
type Options struct {
	Repo        interview.Repository
	History     history.Store
	Retriever   turn.Retriever
	Prompts     *prompt.Builder
	Transcriber transcribe.Transcriber

	Speech  config.SpeechConfig
	Session config.SessionConfig

	WriteTimeout time.Duration
	PingInterval time.Duration

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Session 一场面试的语音会话通道。
// 职责：
// 1. 维护与浏览器的 WebSocket 连接
// 2. hello 握手确定语音合成与识别能力
// 3. 客户端事件经串行队列交给 Turn Controller
// 4. 把轮次、状态、逐字展示与播放指令推给客户端
type Session struct {
	record    *model.InterviewRecord
	browserID string
	opts      Options
	logger    *log.Logger

	conn     *websocket.Conn
	connLock sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeChan chan struct{}
	tasks     sync.WaitGroup

	seqCounter int64
	seqLock    sync.Mutex

	queue      *EventQueue
	engine     *ClientEngine
	speech     *speech.Manager
	capture    *transcribe.Adapter
	controller *turn.Controller
}

func NewSession(rec *model.InterviewRecord, browserID string, conn *websocket.Conn, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Session.HelloTimeout <= 0 {
		opts.Session.HelloTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		record:    rec,
		browserID: browserID,
		opts:      opts,
		logger:    opts.Logger,
		conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
		closeChan: make(chan struct{}),
	}
}

// Run 完成握手后阻塞处理客户端消息，直到连接断开或会话关闭
func (s *Session) Run() error {
	defer s.Close()

	caps, err := s.readHello()
	if err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	s.setup(caps)

	s.opts.Metrics.SessionOpened()
	defer s.opts.Metrics.SessionClosed()

	s.queue = NewEventQueue(s.record.ID, s.handleEvent, s.logger)
	go s.pingLoop()

	ready := &ServerMessage{Type: EventTypeReady, Turns: s.controller.Turns(), State: string(s.controller.Status())}
	// 没有任何转写路径时客户端只显示文字输入
	recognition := s.capture.Available()
	ready.Recognition = &recognition
	if v, ok := s.speech.Voice(); ok {
		ready.Voice = &v
	}
	s.sendToClient(ready)
	s.logger.Printf("[Gateway] session %s started (speech=%v recognition=%v backup=%v)",
		s.record.ID, caps.Speech, caps.Recognition, s.opts.Transcriber != nil)

	s.spawn(func(ctx context.Context) {
		if err := s.controller.Start(ctx); err != nil {
			s.logger.Printf("[Gateway] session %s: intro failed: %v", s.record.ID, err)
		}
	})

	s.clientReadLoop()
	return nil
}

// readHello 第一条文本消息必须是 client.hello。没有 capabilities 字段时按纯文字会话处理。
func (s *Session) readHello() (Capabilities, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.Session.HelloTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return Capabilities{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return Capabilities{}, fmt.Errorf("unmarshal hello: %w", err)
		}
		if msg.Type != EventTypeClientHello {
			return Capabilities{}, fmt.Errorf("expected %s, got %s", EventTypeClientHello, msg.Type)
		}
		if msg.Capabilities == nil {
			return Capabilities{}, nil
		}
		return *msg.Capabilities, nil
	}
}

// setup 按握手能力组装语音合成、转写与轮次控制器
func (s *Session) setup(caps Capabilities) {
	capability := speech.Unavailable()
	if caps.Speech {
		s.engine = NewClientEngine(s.sendToClient, caps)
		capability = speech.Available(s.engine)
	}
	sc := s.opts.Speech
	s.speech = speech.NewManager(capability, speech.Options{
		Locale:          sc.Locale,
		PreferredVoices: sc.PreferredVoices,
		MaxChunk:        sc.MaxChunk,
		CompactMaxChunk: sc.CompactMaxChunk,
		ChunkDelay:      sc.ChunkDelay,
		Watchdog:        sc.WatchdogInterval,
		DefaultRate:     sc.DefaultRate,
		Logger:          s.logger,
		Metrics:         s.opts.Metrics,
	})
	s.speech.Initialize()

	s.capture = transcribe.NewAdapter(s.opts.Transcriber, s.logger, s.opts.Metrics)
	s.capture.SetLiveAvailable(caps.Recognition)

	intro := ""
	if len(s.record.Turns) == 0 && s.opts.Prompts != nil {
		intro = s.opts.Prompts.Introduction(s.record.Config)
	}
	s.controller = turn.NewController(turn.Options{
		InterviewID:    s.record.ID,
		BrowserID:      s.browserID,
		Config:         s.record.Config,
		Intro:          intro,
		History:        s.opts.History,
		Retriever:      s.opts.Retriever,
		Speaker:        s.speech,
		Capture:        s.capture,
		Listener:       s,
		Repo:           s.opts.Repo,
		TypingInterval: s.opts.Session.TypingInterval,
		PersistTimeout: s.opts.Session.PersistTimeout,
		Logger:         s.logger,
		Metrics:        s.opts.Metrics,
	})
	s.controller.Restore(s.record.Turns)
}

// clientReadLoop 读取客户端消息：文本帧是事件，二进制帧是录音
func (s *Session) clientReadLoop() {
	for {
		select {
		case <-s.closeChan:
			return
		default:
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("[Gateway] session %s: client read error: %v", s.record.ID, err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.sendError(fmt.Sprintf("invalid message: %v", err))
				continue
			}
			if msg.ClientTS.IsZero() {
				msg.ClientTS = time.Now()
			}
			if isControl(msg.Type) {
				// 控制指令等处理结果，被拒绝时把原因告诉客户端
				if err := s.queue.EnqueueSync(&msg, 0); err != nil && !errors.Is(err, ErrQueueClosed) {
					s.sendError(err.Error())
				}
				continue
			}
			if err := s.queue.Enqueue(&msg); err != nil {
				s.sendError(err.Error())
			}
		case websocket.BinaryMessage:
			if err := s.capture.WriteAudio(data); err != nil {
				s.logger.Printf("[Gateway] session %s: audio frame dropped: %v", s.record.ID, err)
			}
		}
	}
}

// handleEvent 串行处理客户端事件。
// 会阻塞到回复播放结束的操作放到独立 goroutine，队列只负责定序。
func (s *Session) handleEvent(ctx context.Context, msg *ClientMessage) error {
	switch msg.Type {
	case EventTypeListenStart:
		return s.controller.StartListening()
	case EventTypeListenStop:
		s.spawn(func(ctx context.Context) {
			if err := s.controller.StopListening(ctx); err != nil {
				s.sendError(err.Error())
			}
		})
	case EventTypeMessageSend:
		text := msg.Text
		s.spawn(func(ctx context.Context) {
			if err := s.controller.SendMessage(ctx, text); err != nil {
				s.sendError(err.Error())
			}
		})
	case EventTypeSessionEnd:
		s.spawn(func(ctx context.Context) {
			// 客户端断开后仍把反馈写完
			if _, err := s.controller.EndSession(context.WithoutCancel(ctx)); err != nil {
				s.logger.Printf("[Gateway] session %s: end failed: %v", s.record.ID, err)
			}
		})
	case EventTypeTranscriptInterim, EventTypeTranscriptFinal:
		s.capture.Push(msg.Text, msg.Type == EventTypeTranscriptFinal)
	case EventTypeSpeechEnded:
		if s.engine != nil {
			s.engine.HandleEnded(msg.UtteranceID)
		}
	case EventTypeSpeechError:
		if s.engine != nil {
			s.engine.HandleError(msg.UtteranceID, msg.Error)
		}
	case EventTypeSpeechState:
		if s.engine != nil && msg.Speaking != nil {
			s.engine.SetSpeaking(*msg.Speaking)
		}
	case EventTypeSpeechVoices:
		if s.engine != nil {
			s.engine.SetVoices(msg.Voices)
		}
	case EventTypeSpeechRate:
		s.speech.SetRate(msg.Rate)
	case EventTypeClientHello:
		// 能力在握手时已确定
	default:
		return fmt.Errorf("unknown event type: %s", msg.Type)
	}
	return nil
}

// isControl 用户发起的操作，需要向客户端反馈是否被接受
func isControl(t EventType) bool {
	switch t {
	case EventTypeListenStart, EventTypeListenStop, EventTypeMessageSend, EventTypeSessionEnd:
		return true
	}
	return false
}

// spawn 在会话生命周期内运行一个长操作
func (s *Session) spawn(fn func(ctx context.Context)) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn(s.ctx)
	}()
}

// StateChanged 等方法实现 turn.Listener

func (s *Session) StateChanged(st turn.Status) {
	s.sendToClient(&ServerMessage{Type: EventTypeState, State: string(st)})
}

func (s *Session) TurnAppended(t model.ConversationTurn) {
	s.sendToClient(&ServerMessage{Type: EventTypeTurn, TurnID: t.ID, Turn: &t})
}

func (s *Session) TurnRevealed(turnID, prefix string) {
	s.sendToClient(&ServerMessage{Type: EventTypeReveal, TurnID: turnID, Text: prefix})
}

func (s *Session) Ended(fb model.Feedback) {
	s.sendToClient(&ServerMessage{Type: EventTypeFeedback, Feedback: &fb})
}

// sendToClient 分配序号后写入连接；连接已关闭时返回错误
func (s *Session) sendToClient(msg *ServerMessage) error {
	s.seqLock.Lock()
	s.seqCounter++
	msg.Seq = s.seqCounter
	s.seqLock.Unlock()

	if msg.ServerTS.IsZero() {
		msg.ServerTS = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal server message: %w", err)
	}

	s.connLock.Lock()
	defer s.connLock.Unlock()
	if s.conn == nil {
		return errors.New("client connection is closed")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}
	return nil
}

func (s *Session) sendError(errMsg string) {
	_ = s.sendToClient(&ServerMessage{Type: EventTypeError, Error: errMsg})
}

// pingLoop 定期发送 ping 保持连接
func (s *Session) pingLoop() {
	interval := s.opts.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeChan:
			return
		case <-ticker.C:
			s.connLock.Lock()
			if s.conn != nil {
				_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			s.connLock.Unlock()
		}
	}
}

// Close 关闭会话：停止播放与录音，等待进行中的操作，写完排队的持久化
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.logger.Printf("[Gateway] closing session %s", s.record.ID)
		s.cancel()
		close(s.closeChan)

		if s.queue != nil {
			_ = s.queue.Close()
		}
		if s.speech != nil {
			s.speech.Close()
		}
		if s.capture != nil {
			s.capture.Cancel()
		}
		s.tasks.Wait()
		if s.controller != nil {
			s.controller.Close()
		}
		closeErr = s.closeClientConn()
	})
	return closeErr
}

func (s *Session) closeClientConn() error {
	s.connLock.Lock()
	defer s.connLock.Unlock()
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := s.conn.Close()
	s.conn = nil
	return err
}
