package transcribe

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/metrics"
)

// Adapter 把实时识别与备用转写合成一个 Capture。
// 优先使用实时文本；只有实时路径没有任何文本时才调用备用服务。
// 设备或服务不可用不会向调用方报错，只会得到空串。
type Adapter struct {
	live    Live
	rec     *Recorder
	backup  Transcriber
	logger  *log.Logger
	metrics *metrics.Metrics

	mu            sync.Mutex
	listening     bool
	liveAvailable bool
}

// NewAdapter backup 可以为 nil
func NewAdapter(backup Transcriber, logger *log.Logger, m *metrics.Metrics) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{
		rec:     NewRecorder(0),
		backup:  backup,
		logger:  logger,
		metrics: m,
	}
}

// SetLiveAvailable 记录客户端是否有实时识别器
func (a *Adapter) SetLiveAvailable(ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.liveAvailable = ok
}

// Available 至少有一条转写路径
func (a *Adapter) Available() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveAvailable || a.backup != nil
}

func (a *Adapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

func (a *Adapter) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live.Reset()
	a.rec.Start()
	a.listening = true
}

// Push 收到一条实时识别结果；不在监听时丢弃
func (a *Adapter) Push(text string, final bool) {
	if !a.Listening() {
		return
	}
	a.live.Update(text, final)
}

// WriteAudio 追加一帧录音
func (a *Adapter) WriteAudio(p []byte) error {
	_, err := a.rec.Write(p)
	return err
}

// Stop 结束监听并返回最终文本
func (a *Adapter) Stop(ctx context.Context) string {
	a.mu.Lock()
	a.listening = false
	a.mu.Unlock()

	clip := a.rec.Stop()
	if text, final := a.live.Latest(); text != "" {
		if final {
			a.metrics.Transcript("live_final")
		} else {
			a.metrics.Transcript("live_interim")
		}
		return text
	}
	if a.backup == nil || len(clip) == 0 {
		a.metrics.Transcript("empty")
		return ""
	}

	text, err := a.backup.Transcribe(ctx, clip)
	if err != nil {
		a.logger.Printf("[Transcribe] backup transcription failed: %v", err)
		a.metrics.Transcript("error")
		return ""
	}
	text = strings.TrimSpace(text)
	if text == "" {
		a.metrics.Transcript("empty")
		return ""
	}
	a.metrics.Transcript("backup")
	return text
}

// Cancel 结束监听并丢弃所有结果
func (a *Adapter) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listening = false
	a.rec.Cancel()
	a.live.Reset()
}
