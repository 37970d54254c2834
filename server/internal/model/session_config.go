package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SessionKind 会话类型
type SessionKind string

const (
	KindMock     SessionKind = "mock"
	KindTopic    SessionKind = "topic"
	KindQA       SessionKind = "qa"
	KindLanguage SessionKind = "language"
)

// Valid 报告是否为已知的会话类型。
func (k SessionKind) Valid() bool {
	switch k {
	case KindMock, KindTopic, KindQA, KindLanguage:
		return true
	}
	return false
}

var (
	ErrTopicRequired = errors.New("topic is required")
	ErrUnknownKind   = errors.New("unknown session kind")
)

// Details 是按会话类型区分的配置变体，只有本包内的四种实现。
type Details interface {
	Kind() SessionKind
	sealed()
}

// MockConfig 模拟面试
type MockConfig struct {
	Role           string   `json:"role,omitempty"`
	Company        string   `json:"company,omitempty"`
	JobCategory    string   `json:"jobCategory,omitempty"`
	Experience     string   `json:"experience,omitempty"`    // entry | mid | senior
	InterviewType  string   `json:"interviewType,omitempty"` // general | system-design | coding | frontend | backend
	SpecificSkills string   `json:"specificSkills,omitempty"`
	FocusAreas     []string `json:"focusAreas,omitempty"`
}

// TopicConfig 主题讲解
type TopicConfig struct {
	Category   string `json:"category,omitempty"`
	Difficulty string `json:"difficulty,omitempty"` // beginner | intermediate | advanced
}

// QAConfig 问答练习
type QAConfig struct {
	Difficulty string `json:"difficulty,omitempty"` // basic | moderate | challenging
	Topics     string `json:"topics,omitempty"`
	Format     string `json:"format,omitempty"` // practice | quiz | flashcards
}

// LanguageConfig 外语口语练习
type LanguageConfig struct {
	Language string `json:"language,omitempty"`
	Mode     string `json:"mode,omitempty"` // job | study | custom
	Prompt   string `json:"prompt,omitempty"`
}

func (MockConfig) Kind() SessionKind     { return KindMock }
func (TopicConfig) Kind() SessionKind    { return KindTopic }
func (QAConfig) Kind() SessionKind       { return KindQA }
func (LanguageConfig) Kind() SessionKind { return KindLanguage }

func (MockConfig) sealed()     {}
func (TopicConfig) sealed()    {}
func (QAConfig) sealed()       {}
func (LanguageConfig) sealed() {}

// SessionConfig 会话开始时确定，之后不可变。
// Notes 是面试官备注，只进入提示词，不回显给用户。
type SessionConfig struct {
	Topic   string
	Notes   string
	Details Details
}

// Kind 由 Details 决定；缺省时视为 mock。
func (c SessionConfig) Kind() SessionKind {
	if c.Details == nil {
		return KindMock
	}
	return c.Details.Kind()
}

// Validate 建会话时的校验，唯一会直接展示给用户的错误。
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.Topic) == "" {
		return ErrTopicRequired
	}
	if c.Details != nil && !c.Details.Kind().Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, c.Details.Kind())
	}
	return nil
}

// NewSessionConfig 按 kind 解析 details 原始 JSON。
func NewSessionConfig(kind SessionKind, topic, notes string, details json.RawMessage) (SessionConfig, error) {
	cfg := SessionConfig{Topic: strings.TrimSpace(topic), Notes: notes}
	if kind == "" {
		kind = KindMock
	}
	d, err := decodeDetails(kind, details)
	if err != nil {
		return SessionConfig{}, err
	}
	cfg.Details = d
	return cfg, nil
}

func decodeDetails(kind SessionKind, raw json.RawMessage) (Details, error) {
	empty := len(raw) == 0 || string(raw) == "null"
	switch kind {
	case KindMock:
		var d MockConfig
		if !empty {
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("decode mock details: %w", err)
			}
		}
		return d, nil
	case KindTopic:
		var d TopicConfig
		if !empty {
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("decode topic details: %w", err)
			}
		}
		return d, nil
	case KindQA:
		var d QAConfig
		if !empty {
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("decode qa details: %w", err)
			}
		}
		return d, nil
	case KindLanguage:
		var d LanguageConfig
		if !empty {
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("decode language details: %w", err)
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

type sessionConfigJSON struct {
	Kind    SessionKind     `json:"kind"`
	Topic   string          `json:"topic"`
	Notes   string          `json:"notes,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// MarshalJSON 输出 {kind, topic, notes, details}。
func (c SessionConfig) MarshalJSON() ([]byte, error) {
	out := sessionConfigJSON{Kind: c.Kind(), Topic: c.Topic, Notes: c.Notes}
	if c.Details != nil {
		raw, err := json.Marshal(c.Details)
		if err != nil {
			return nil, err
		}
		out.Details = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON 按 kind 还原具体的 Details 变体。
func (c *SessionConfig) UnmarshalJSON(data []byte) error {
	var in sessionConfigJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	cfg, err := NewSessionConfig(in.Kind, in.Topic, in.Notes, in.Details)
	if err != nil {
		return err
	}
	*c = cfg
	return nil
}

const (
	verbalOnlyNote = "IMPORTANT: DO NOT ask the candidate to write actual code. " +
		"This interview is verbal only. Focus on algorithm descriptions, time/space complexity, " +
		"and trade-offs. Let the candidate explain approaches rather than writing code."
	systemFocusNote = "IMPORTANT: Focus the system design interview on the specific topics/applications mentioned in the skills field. " +
		"Avoid generic examples unless the candidate is struggling with the specified topics."
)

// NormalizeMock 从 specificSkills 推导 focusAreas，并把口述/系统设计约束追加到备注。
// 多次调用结果一致：已存在的 focusAreas 会被重新推导覆盖。
func NormalizeMock(d MockConfig, notes string) (MockConfig, string) {
	var parsed []string
	for _, part := range strings.FieldsFunc(strings.ToLower(d.SpecificSkills), func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	}) {
		if s := strings.TrimSpace(part); s != "" {
			parsed = append(parsed, s)
		}
	}

	graphs := anyContains(parsed, "graph", "tree", "dfs", "bfs")
	systemDesign := anyContains(parsed, "system design", "architecture", "scalability")
	coding := anyContains(parsed, "coding", "algorithm", "leetcode", "data structure")
	chat := anyContains(parsed, "chat", "messaging", "communication")

	var areas []string
	switch d.InterviewType {
	case "system-design":
		areas = append(areas, "system design")
	case "coding":
		areas = append(areas, "coding algorithms")
	case "frontend":
		areas = append(areas, "front-end development")
	case "backend":
		areas = append(areas, "back-end development")
	}
	if graphs {
		areas = append(areas, "graph algorithms")
	}
	if systemDesign {
		areas = append(areas, "system design")
	}
	if coding {
		areas = append(areas, "coding algorithms")
	}
	if chat {
		areas = append(areas, "chat application", "messaging system")
	}
	areas = append(areas, parsed...)
	d.FocusAreas = areas
	d.SpecificSkills = strings.TrimSpace(d.SpecificSkills)

	if (d.InterviewType == "coding" || coding || graphs) && !strings.Contains(notes, verbalOnlyNote) {
		notes += "\n" + verbalOnlyNote
	}
	if d.InterviewType == "system-design" && d.SpecificSkills != "" && !strings.Contains(notes, systemFocusNote) {
		notes += "\n" + systemFocusNote
	}
	return d, notes
}

func anyContains(items []string, needles ...string) bool {
	for _, item := range items {
		for _, n := range needles {
			if strings.Contains(item, n) {
				return true
			}
		}
	}
	return false
}
