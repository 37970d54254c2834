package transcribe

import (
	"bytes"
	"errors"
	"sync"
)

// DefaultMaxClip 单段录音上限
const DefaultMaxClip = 25 << 20

var ErrClipTooLarge = errors.New("transcribe: audio clip too large")

// Recorder 缓存监听期间客户端发来的原始音频帧，供备用转写使用
type Recorder struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	recording bool
	max       int
}

func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = DefaultMaxClip
	}
	return &Recorder{max: max}
}

func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Reset()
	r.recording = true
}

// Write 追加一帧；未在录音时丢弃
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return len(p), nil
	}
	if r.buf.Len()+len(p) > r.max {
		return 0, ErrClipTooLarge
	}
	return r.buf.Write(p)
}

// Stop 结束录音并返回录到的音频
func (r *Recorder) Stop() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	clip := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()
	return clip
}

// Cancel 结束录音并丢弃数据
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.buf.Reset()
}
