package gateway

import (
	"time"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/speech"
)

// EventType 会话通道上的事件类型
type EventType string

const (
	// 客户端 -> 服务端
	EventTypeClientHello       EventType = "client.hello"       // 能力声明，必须是第一条消息
	EventTypeListenStart       EventType = "listen.start"       // 按下麦克风
	EventTypeListenStop        EventType = "listen.stop"        // 松开麦克风
	EventTypeMessageSend       EventType = "message.send"       // 文字输入
	EventTypeSessionEnd        EventType = "session.end"        // 结束面试
	EventTypeSpeechVoices      EventType = "speech.voices"      // 音色列表（异步加载后上报）
	EventTypeSpeechEnded       EventType = "speech.ended"       // 一段播放结束
	EventTypeSpeechError       EventType = "speech.error"       // 一段播放失败
	EventTypeSpeechState       EventType = "speech.state"       // 引擎是否在发声
	EventTypeSpeechRate        EventType = "speech.rate"        // 调整语速
	EventTypeTranscriptInterim EventType = "transcript.interim" // 实时识别中间结果
	EventTypeTranscriptFinal   EventType = "transcript.final"   // 实时识别最终结果

	// 服务端 -> 客户端
	EventTypeReady        EventType = "ready"         // 会话就绪，附带已有对话
	EventTypeState        EventType = "state"         // 轮次状态变化
	EventTypeTurn         EventType = "turn"          // 新增一轮
	EventTypeReveal       EventType = "reveal"        // 逐字展示的前缀
	EventTypeSpeechSpeak  EventType = "speech.speak"  // 播放一段
	EventTypeSpeechCancel EventType = "speech.cancel" // 取消所有播放
	EventTypeSpeechResume EventType = "speech.resume" // 恢复卡住的引擎
	EventTypeFeedback     EventType = "feedback"      // 面试反馈
	EventTypeError        EventType = "error"
)

// Capabilities 客户端在 hello 中声明的能力，整个会话期间不变
type Capabilities struct {
	Speech              bool           `json:"speech"`
	DropsLongUtterances bool           `json:"drops_long_utterances,omitempty"`
	Recognition         bool           `json:"recognition"`
	Voices              []speech.Voice `json:"voices,omitempty"`
}

// ClientMessage 客户端发送的 JSON 文本帧；录音数据走二进制帧
type ClientMessage struct {
	Type         EventType      `json:"type"`
	EventID      string         `json:"event_id,omitempty"`
	Text         string         `json:"text,omitempty"`
	UtteranceID  string         `json:"utterance_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	Speaking     *bool          `json:"speaking,omitempty"`
	Rate         float64        `json:"rate,omitempty"`
	Voices       []speech.Voice `json:"voices,omitempty"`
	Capabilities *Capabilities  `json:"capabilities,omitempty"`
	ClientTS     time.Time      `json:"client_ts,omitempty"`
}

// UtteranceMessage 交给浏览器 speechSynthesis 播放的一段
type UtteranceMessage struct {
	ID     string        `json:"id"`
	Text   string        `json:"text"`
	Voice  *speech.Voice `json:"voice,omitempty"`
	Rate   float64       `json:"rate"`
	Volume float64       `json:"volume"`
}

// ServerMessage 服务端发给客户端的消息。Recognition 与 Voice 只在 ready 中出现。
type ServerMessage struct {
	Type        EventType                `json:"type"`
	Seq         int64                    `json:"seq,omitempty"`
	TurnID      string                   `json:"turn_id,omitempty"`
	Text        string                   `json:"text,omitempty"`
	State       string                   `json:"state,omitempty"`
	Turn        *model.ConversationTurn  `json:"turn,omitempty"`
	Turns       []model.ConversationTurn `json:"turns,omitempty"`
	Utterance   *UtteranceMessage        `json:"utterance,omitempty"`
	Feedback    *model.Feedback          `json:"feedback,omitempty"`
	Recognition *bool                    `json:"recognition,omitempty"`
	Voice       *speech.Voice            `json:"voice,omitempty"`
	ServerTS    time.Time                `json:"server_ts"`
	Error       string                   `json:"error,omitempty"`
}
