package model

import (
	"slices"
	"time"
)

// Role 对话轮次的发言方
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid 只接受 user / assistant 两种发言方。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ConversationTurn 是会话中的一条发言。
// 同一会话内只追加不修改，顺序就是 AI 看到的历史顺序。
type ConversationTurn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CloneTurns 返回切片副本，调用方拿到的是快照而不是活动切片。
func CloneTurns(turns []ConversationTurn) []ConversationTurn {
	if turns == nil {
		return nil
	}
	out := make([]ConversationTurn, len(turns))
	copy(out, turns)
	return out
}

// Feedback 会话结束后的结构化评价，生成后不再修改。
type Feedback struct {
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

// Clone 深拷贝，避免存储层和调用方共享底层数组。
func (f *Feedback) Clone() *Feedback {
	if f == nil {
		return nil
	}
	out := &Feedback{Summary: f.Summary}
	out.Strengths = slices.Clone(f.Strengths)
	out.Improvements = slices.Clone(f.Improvements)
	return out
}

// InterviewRecord 一次会话的持久化记录。
type InterviewRecord struct {
	ID        string             `json:"id"`
	Owner     string             `json:"owner"`
	OwnerName string             `json:"ownerName,omitempty"`
	Config    SessionConfig      `json:"config"`
	Turns     []ConversationTurn `json:"turns"`
	Feedback  *Feedback          `json:"feedback"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Clone 返回记录的深拷贝。
func (r *InterviewRecord) Clone() *InterviewRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Turns = CloneTurns(r.Turns)
	out.Feedback = r.Feedback.Clone()
	return &out
}

// Public 面向用户的视图：去掉面试官备注。
func (r *InterviewRecord) Public() *InterviewRecord {
	out := r.Clone()
	if out != nil {
		out.Config.Notes = ""
	}
	return out
}

// HistoryEntry 浏览器会话里的最近会话条目。
type HistoryEntry struct {
	ID       string             `json:"id"`
	Kind     SessionKind        `json:"kind"`
	Topic    string             `json:"topic"`
	Date     time.Time          `json:"date"`
	Turns    []ConversationTurn `json:"turns,omitempty"`
	Feedback *Feedback          `json:"feedback,omitempty"`
}
