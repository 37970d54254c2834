package gateway

import (
	"errors"
	"sync"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/speech"
)

// ClientEngine 把浏览器的 speechSynthesis 包装成 speech.Engine。
// 播放指令通过会话通道下发，结束/失败回执由客户端事件驱动。
type ClientEngine struct {
	send   func(*ServerMessage) error
	traits speech.Traits

	mu       sync.Mutex
	voices   []speech.Voice
	onVoices []func()
	pending  map[string]speech.Utterance
	speaking bool
}

var _ speech.Engine = (*ClientEngine)(nil)

func NewClientEngine(send func(*ServerMessage) error, caps Capabilities) *ClientEngine {
	return &ClientEngine{
		send:    send,
		traits:  speech.Traits{DropsLongUtterances: caps.DropsLongUtterances},
		voices:  append([]speech.Voice(nil), caps.Voices...),
		pending: make(map[string]speech.Utterance),
	}
}

func (e *ClientEngine) Voices() []speech.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]speech.Voice(nil), e.voices...)
}

func (e *ClientEngine) OnVoicesChanged(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onVoices = append(e.onVoices, fn)
}

func (e *ClientEngine) Speak(u speech.Utterance) error {
	e.mu.Lock()
	if u.ID != "" {
		e.pending[u.ID] = u
	}
	if u.Text != "" {
		e.speaking = true
	}
	e.mu.Unlock()

	err := e.send(&ServerMessage{
		Type: EventTypeSpeechSpeak,
		Utterance: &UtteranceMessage{
			ID:     u.ID,
			Text:   u.Text,
			Voice:  u.Voice,
			Rate:   u.Rate,
			Volume: u.Volume,
		},
	})
	if err != nil {
		e.mu.Lock()
		delete(e.pending, u.ID)
		e.mu.Unlock()
	}
	return err
}

func (e *ClientEngine) Cancel() {
	e.mu.Lock()
	clear(e.pending)
	e.speaking = false
	e.mu.Unlock()
	_ = e.send(&ServerMessage{Type: EventTypeSpeechCancel})
}

func (e *ClientEngine) Resume() {
	_ = e.send(&ServerMessage{Type: EventTypeSpeechResume})
}

func (e *ClientEngine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

func (e *ClientEngine) Traits() speech.Traits {
	return e.traits
}

// HandleEnded 客户端报告一段播放结束；未知或已取消的 ID 被忽略
func (e *ClientEngine) HandleEnded(id string) {
	u, ok := e.take(id)
	if ok && u.OnEnd != nil {
		u.OnEnd()
	}
}

// HandleError 客户端报告一段播放失败
func (e *ClientEngine) HandleError(id, msg string) {
	u, ok := e.take(id)
	if !ok || u.OnError == nil {
		return
	}
	if msg == "" {
		msg = "speech synthesis error"
	}
	u.OnError(errors.New(msg))
}

// SetSpeaking 客户端上报的引擎状态，供看门狗判断
func (e *ClientEngine) SetSpeaking(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speaking = v
}

// SetVoices 更新音色列表并触发回调
func (e *ClientEngine) SetVoices(voices []speech.Voice) {
	e.mu.Lock()
	e.voices = append([]speech.Voice(nil), voices...)
	listeners := append([]func(){}, e.onVoices...)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (e *ClientEngine) take(id string) (speech.Utterance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
		if len(e.pending) == 0 {
			e.speaking = false
		}
	}
	return u, ok
}
