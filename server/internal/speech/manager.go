package speech

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/metrics"
)

// Outcome Speak 的结果
type Outcome int

const (
	Completed Outcome = iota
	Interrupted
	Unsupported
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	case Unsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

const (
	defaultMaxChunk        = 200
	defaultCompactMaxChunk = 150
	defaultChunkDelay      = 50 * time.Millisecond
	defaultErrorDelay      = 50 * time.Millisecond
	defaultWatchdog        = 3 * time.Second
	defaultRate            = 1.0
	maxPrimeAttempts       = 3
	eventBuffer            = 64
)

// Options Manager 参数
type Options struct {
	Locale          string
	PreferredVoices []string

	MaxChunk        int
	CompactMaxChunk int           // 引擎会截断长句时使用
	ChunkDelay      time.Duration // 引擎会截断长句时的段间停顿
	ErrorDelay      time.Duration
	Watchdog        time.Duration
	DefaultRate     float64

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

func (o *Options) applyDefaults() {
	if o.Locale == "" {
		o.Locale = "en-US"
	}
	if o.MaxChunk <= 0 {
		o.MaxChunk = defaultMaxChunk
	}
	if o.CompactMaxChunk <= 0 {
		o.CompactMaxChunk = defaultCompactMaxChunk
	}
	if o.ChunkDelay <= 0 {
		o.ChunkDelay = defaultChunkDelay
	}
	if o.ErrorDelay <= 0 {
		o.ErrorDelay = defaultErrorDelay
	}
	if o.Watchdog <= 0 {
		o.Watchdog = defaultWatchdog
	}
	if o.DefaultRate <= 0 {
		o.DefaultRate = defaultRate
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

type cmdKind int

const (
	cmdInit cmdKind = iota
	cmdSpeak
	cmdStop
	cmdCancelJob
	cmdSetRate
	cmdResetVoice
	cmdChunkEnd
	cmdChunkError
	cmdAdvance
	cmdVoicesChanged
)

type command struct {
	kind  cmdKind
	job   *job
	jobID uint64
	index int
	rate  float64
	err   error
	ack   chan struct{}
}

// job 一次 Speak 调用
type job struct {
	ctx     context.Context
	id      uint64
	chunks  []string
	index   int
	rate    float64
	done    chan struct{}
	outcome Outcome
}

// Manager 把一段回复可靠地念完。
// 所有引擎调用都在单个循环 goroutine 中串行执行，引擎回调只投递事件，
// 过期回调（旧 job 或旧分段）被忽略。
// 同一时刻最多一个 job；新的 Speak 会先取消正在播放的 job。
type Manager struct {
	engine   Engine
	opts     Options
	maxChunk int
	delay    time.Duration
	logger   *log.Logger
	metrics  *metrics.Metrics

	cmds   chan command
	events chan command
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	busy     atomic.Bool
	selected atomic.Pointer[Voice]

	// 以下字段只在循环中访问
	active         *job
	nextJobID      uint64
	rate           float64
	voiceSelected  bool
	voicesLoaded   bool
	voicesListener bool
	primed         bool
	ticker         *time.Ticker
}

// NewManager 按会话的引擎能力创建 Manager。
// 引擎不可用时所有操作都是空操作，Speak 返回 Unsupported。
func NewManager(c Capability, opts Options) *Manager {
	opts.applyDefaults()
	m := &Manager{
		opts:     opts,
		maxChunk: opts.MaxChunk,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		rate:     opts.DefaultRate,
		closed:   make(chan struct{}),
	}
	engine, ok := c.Engine()
	if !ok {
		return m
	}
	m.engine = engine
	if engine.Traits().DropsLongUtterances {
		m.maxChunk = opts.CompactMaxChunk
		m.delay = opts.ChunkDelay
	}
	m.cmds = make(chan command)
	m.events = make(chan command, eventBuffer)
	m.wg.Add(1)
	go m.loop()
	return m
}

// Supported 引擎是否可用
func (m *Manager) Supported() bool {
	return m.engine != nil
}

// Speaking 是否有 job 在播放（包括段间停顿）
func (m *Manager) Speaking() bool {
	return m.busy.Load()
}

// Voice 当前缓存的音色
func (m *Manager) Voice() (Voice, bool) {
	v := m.selected.Load()
	if v == nil {
		return Voice{}, false
	}
	return *v, true
}

// Initialize 预热引擎并加载音色，可重复调用。
// 音色已就绪时是空操作；否则注册一次音色变化回调并最多尝试 3 次静音预热。
func (m *Manager) Initialize() {
	if m.engine == nil {
		return
	}
	ack := make(chan struct{})
	if m.post(command{kind: cmdInit, ack: ack}) {
		m.wait(ack)
	}
}

// Speak 分段播放 text，直到全部播完、被 Stop / 新的 Speak 打断或 ctx 取消。
// rate <= 0 时使用当前默认语速。
func (m *Manager) Speak(ctx context.Context, text string, rate float64) Outcome {
	if m.engine == nil {
		m.logger.Printf("[Speech] engine unavailable, text only")
		return Unsupported
	}
	chunks := Split(text, m.maxChunk)
	if len(chunks) == 0 {
		return Completed
	}

	if ctx.Err() != nil {
		return Interrupted
	}
	j := &job{ctx: ctx, chunks: chunks, rate: rate, done: make(chan struct{})}
	if !m.post(command{kind: cmdSpeak, job: j}) {
		return Interrupted
	}

	select {
	case <-j.done:
		return j.outcome
	case <-m.closed:
		return Interrupted
	case <-ctx.Done():
		ack := make(chan struct{})
		if m.post(command{kind: cmdCancelJob, job: j, ack: ack}) {
			m.wait(ack)
		}
		return Interrupted
	}
}

// Stop 同步取消当前播放。返回时引擎已被取消，正在等待的 Speak 得到 Interrupted。
func (m *Manager) Stop() {
	if m.engine == nil {
		return
	}
	ack := make(chan struct{})
	if m.post(command{kind: cmdStop, ack: ack}) {
		m.wait(ack)
	}
}

// SetRate 修改默认语速，同时作用于正在播放 job 的剩余分段
func (m *Manager) SetRate(rate float64) {
	if m.engine == nil || rate <= 0 {
		return
	}
	m.post(command{kind: cmdSetRate, rate: rate})
}

// ResetVoice 清除缓存的音色，下次播放时重新选择
func (m *Manager) ResetVoice() {
	if m.engine == nil {
		return
	}
	m.post(command{kind: cmdResetVoice})
}

// Close 取消播放并停止循环
func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.closed)
	})
	m.wg.Wait()
}

func (m *Manager) post(cmd command) bool {
	select {
	case m.cmds <- cmd:
		return true
	case <-m.closed:
		return false
	}
}

func (m *Manager) wait(ack chan struct{}) {
	select {
	case <-ack:
	case <-m.closed:
	}
}

// notify 供引擎回调使用，可能在循环内被同步调用，所以不能阻塞
func (m *Manager) notify(ev command) {
	select {
	case m.events <- ev:
	default:
		go func() {
			select {
			case m.events <- ev:
			case <-m.closed:
			}
		}()
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	defer func() {
		if m.ticker != nil {
			m.ticker.Stop()
		}
	}()

	for {
		var tick <-chan time.Time
		if m.ticker != nil {
			tick = m.ticker.C
		}

		select {
		case <-m.closed:
			if m.active != nil {
				m.engine.Cancel()
				m.finish(Interrupted)
			}
			return
		case cmd := <-m.cmds:
			m.handle(cmd)
		case ev := <-m.events:
			m.handle(ev)
		case <-tick:
			m.checkStall()
		}
	}
}

func (m *Manager) handle(cmd command) {
	switch cmd.kind {
	case cmdInit:
		m.initialize()
	case cmdSpeak:
		m.start(cmd.job)
	case cmdStop:
		m.engine.Cancel()
		if m.active != nil {
			m.finish(Interrupted)
		}
	case cmdCancelJob:
		if m.active == cmd.job {
			m.engine.Cancel()
			m.finish(Interrupted)
		}
	case cmdSetRate:
		m.rate = cmd.rate
		if m.active != nil {
			m.active.rate = cmd.rate
		}
	case cmdResetVoice:
		m.voiceSelected = false
		m.selected.Store(nil)
	case cmdChunkEnd:
		if m.current(cmd.jobID, cmd.index) {
			m.metrics.SpeechChunk("ok")
			m.advance(m.delay)
		}
	case cmdChunkError:
		if m.current(cmd.jobID, cmd.index) {
			m.logger.Printf("[Speech] chunk %d of job %d failed: %v", cmd.index, cmd.jobID, cmd.err)
			m.metrics.SpeechChunk("error")
			m.engine.Cancel()
			m.advance(m.opts.ErrorDelay)
		}
	case cmdAdvance:
		if m.current(cmd.jobID, cmd.index) {
			m.play()
		}
	case cmdVoicesChanged:
		voices := m.engine.Voices()
		if len(voices) > 0 {
			m.voicesLoaded = true
			if !m.voiceSelected {
				m.selectVoice(voices)
			}
		}
	}
	if cmd.ack != nil {
		close(cmd.ack)
	}
}

func (m *Manager) initialize() {
	if m.ticker == nil {
		m.ticker = time.NewTicker(m.opts.Watchdog)
	}
	if m.voicesLoaded {
		return
	}
	if voices := m.engine.Voices(); len(voices) > 0 {
		m.voicesLoaded = true
		m.selectVoice(voices)
		return
	}
	if !m.voicesListener {
		m.voicesListener = true
		m.engine.OnVoicesChanged(func() {
			m.notify(command{kind: cmdVoicesChanged})
		})
	}
	if m.primed {
		return
	}
	m.primed = true
	// 静音空语句唤醒引擎，部分引擎在第一次 speak 之前不加载音色
	for attempt := 1; attempt <= maxPrimeAttempts; attempt++ {
		err := m.engine.Speak(Utterance{Volume: 0})
		m.engine.Cancel()
		if err == nil {
			return
		}
		m.logger.Printf("[Speech] prime attempt %d failed: %v", attempt, err)
	}
}

func (m *Manager) start(j *job) {
	if m.ticker == nil {
		m.ticker = time.NewTicker(m.opts.Watchdog)
	}
	// 排队期间已被取消（例如会话结束先于本次播放被处理）
	if j.ctx.Err() != nil {
		j.outcome = Interrupted
		close(j.done)
		return
	}
	if m.active != nil {
		m.engine.Cancel()
		m.finish(Interrupted)
	}
	if !m.voiceSelected {
		m.selectVoice(m.engine.Voices())
	}
	if j.rate <= 0 {
		j.rate = m.rate
	}
	m.nextJobID++
	j.id = m.nextJobID
	m.active = j
	m.busy.Store(true)
	m.play()
}

// play 播放 active 的当前分段，全部播完则结束 job
func (m *Manager) play() {
	j := m.active
	if j.index >= len(j.chunks) {
		m.finish(Completed)
		return
	}
	id, idx := j.id, j.index
	u := Utterance{
		ID:     fmt.Sprintf("%d-%d", id, idx),
		Text:   j.chunks[idx],
		Voice:  m.selected.Load(),
		Rate:   j.rate,
		Volume: 1,
		OnEnd: func() {
			m.notify(command{kind: cmdChunkEnd, jobID: id, index: idx})
		},
		OnError: func(err error) {
			m.notify(command{kind: cmdChunkError, jobID: id, index: idx, err: err})
		},
	}
	if err := m.engine.Speak(u); err != nil {
		m.notify(command{kind: cmdChunkError, jobID: id, index: idx, err: err})
	}
}

// advance 移到下一段；delay > 0 时经定时器投递
func (m *Manager) advance(delay time.Duration) {
	j := m.active
	j.index++
	if delay <= 0 {
		m.play()
		return
	}
	id, idx := j.id, j.index
	time.AfterFunc(delay, func() {
		m.notify(command{kind: cmdAdvance, jobID: id, index: idx})
	})
}

func (m *Manager) current(id uint64, idx int) bool {
	return m.active != nil && m.active.id == id && m.active.index == idx
}

func (m *Manager) finish(o Outcome) {
	j := m.active
	m.active = nil
	m.busy.Store(false)
	j.outcome = o
	close(j.done)
}

// checkStall 看门狗：有 job 但引擎报告未在播放时 resume
func (m *Manager) checkStall() {
	if m.active == nil || m.engine.Speaking() {
		return
	}
	m.logger.Printf("[Speech] engine stalled on job %d, resuming", m.active.id)
	m.metrics.WatchdogResume()
	m.engine.Resume()
}

func (m *Manager) selectVoice(voices []Voice) {
	v, ok := SelectVoice(voices, m.opts.Locale, m.opts.PreferredVoices)
	if !ok {
		return
	}
	m.voiceSelected = true
	m.selected.Store(&v)
	m.logger.Printf("[Speech] voice selected: %s (%s)", v.Name, v.Lang)
}
