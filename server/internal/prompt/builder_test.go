package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder("")
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	return b
}

// TestSystemInstructionsPerKind 验证四种会话类型都能渲染出各自的指令。
func TestSystemInstructionsPerKind(t *testing.T) {
	b := newTestBuilder(t)
	cases := []struct {
		cfg  model.SessionConfig
		want string
	}{
		{model.SessionConfig{Topic: "SRE", Details: model.MockConfig{}}, "expert interviewer for the position of SRE"},
		{model.SessionConfig{Topic: "Graphs", Details: model.TopicConfig{Difficulty: "advanced"}}, "expert educator on Graphs"},
		{model.SessionConfig{Topic: "Go", Details: model.QAConfig{Format: "quiz"}}, "as quiz"},
		{model.SessionConfig{Topic: "French", Details: model.LanguageConfig{Mode: "job"}}, "job interview held in that language"},
	}
	for _, tc := range cases {
		got, err := b.SystemInstructions(tc.cfg)
		if err != nil {
			t.Fatalf("%s: %v", tc.cfg.Kind(), err)
		}
		if !strings.Contains(got, tc.want) {
			t.Fatalf("%s: expected %q in %q", tc.cfg.Kind(), tc.want, got)
		}
	}
}

// TestSystemInstructionsMockVariants 验证模拟面试按面试类型选择模板，系统设计题目被锁定。
func TestSystemInstructionsMockVariants(t *testing.T) {
	b := newTestBuilder(t)
	got, err := b.SystemInstructions(model.SessionConfig{
		Topic:   "Backend Engineer",
		Details: model.MockConfig{InterviewType: "system-design", SpecificSkills: "chat app"},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(got, "system design interviews") || !strings.Contains(got, "CHAT APP") {
		t.Fatalf("unexpected system design prompt: %q", got)
	}

	got, err = b.SystemInstructions(model.SessionConfig{
		Topic:   "SWE",
		Notes:   "verbal only please",
		Details: model.MockConfig{FocusAreas: []string{"leetcode", "trees"}},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(got, "coding and algorithm") {
		t.Fatalf("expected coding prompt from focus areas: %q", got)
	}
	if !strings.Contains(got, "DO NOT ask them to write actual code") || !strings.Contains(got, "graph algorithms") {
		t.Fatalf("expected avoid-coding and graph focus lines: %q", got)
	}
}

// TestSystemInstructionsAppendsNotesAndFocus 验证备注与重点领域附加在指令尾部。
func TestSystemInstructionsAppendsNotesAndFocus(t *testing.T) {
	b := newTestBuilder(t)
	got, err := b.SystemInstructions(model.SessionConfig{
		Topic:   "Data Engineer",
		Notes:   "candidate struggled with joins last time",
		Details: model.MockConfig{FocusAreas: []string{"spark", "sql"}},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(got, "ADDITIONAL CONTEXT (DO NOT MENTION DIRECTLY): candidate struggled with joins last time") {
		t.Fatalf("notes missing: %q", got)
	}
	if !strings.HasSuffix(strings.TrimSpace(got), "FOCUS AREAS (PRIORITIZE THESE TOPICS): spark, sql") {
		t.Fatalf("focus areas missing: %q", got)
	}
}

// TestFeedbackInstructions 验证反馈指令含 JSON 结构说明。
func TestFeedbackInstructions(t *testing.T) {
	b := newTestBuilder(t)
	system, request, err := b.FeedbackInstructions(model.SessionConfig{Topic: "Go", Details: model.MockConfig{InterviewType: "coding"}})
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if !strings.Contains(system, "time/space complexity") {
		t.Fatalf("unexpected feedback system: %q", system)
	}
	if !strings.Contains(request, `"strengths"`) || !strings.Contains(request, "coding interview") {
		t.Fatalf("unexpected feedback request: %q", request)
	}
}

// TestIntroduction 验证开场白按会话类型生成。
func TestIntroduction(t *testing.T) {
	b := newTestBuilder(t)
	mock := b.Introduction(model.SessionConfig{Topic: "SRE", Details: model.MockConfig{Company: "Acme", Experience: "senior", SpecificSkills: "k8s"}})
	want := "Welcome to your mock interview for the SRE position at Acme. I'll be your interviewer today. I'll ask you questions related to SRE and your experience with senior positions (6+ years). I'll focus particularly on your skills with k8s. Let's begin!"
	if mock != want {
		t.Fatalf("mock intro:\nwant %q\ngot  %q", want, mock)
	}
	if got := b.Introduction(model.SessionConfig{Topic: "Rust", Details: model.QAConfig{}}); !strings.HasPrefix(got, "Welcome to your Q&A session on Rust.") {
		t.Fatalf("qa intro: %q", got)
	}
}

// TestNewBuilderOverrideDir 验证目录中的同名模板覆盖内置模板。
func TestNewBuilderOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "topic.tmpl"), []byte("Custom lecture on {{.Topic}}"), 0o600); err != nil {
		t.Fatalf("write override: %v", err)
	}
	b, err := NewBuilder(dir)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	got, err := b.SystemInstructions(model.SessionConfig{Topic: "Kafka", Details: model.TopicConfig{}})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "Custom lecture on Kafka" {
		t.Fatalf("override not applied: %q", got)
	}
}
