package responder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/llm"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/prompt"
)

type fakeLLM struct {
	messages []llm.Message
	schema   *llm.JSONSchema
	out      string
	err      error
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message, schema *llm.JSONSchema) (string, error) {
	f.messages = messages
	f.schema = schema
	return f.out, f.err
}

func newPrompts(t *testing.T) *prompt.Builder {
	t.Helper()
	b, err := prompt.NewBuilder("")
	if err != nil {
		t.Fatalf("prompt builder: %v", err)
	}
	return b
}

// TestLLMResponderRespondPrependsSystem 验证系统指令位于历史之前，历史按原序发送。
func TestLLMResponderRespondPrependsSystem(t *testing.T) {
	fake := &fakeLLM{out: " Tell me about a hard bug. "}
	r := NewLLMResponder(fake, newPrompts(t))

	turns := makeTurns(3)
	got, err := r.Respond(context.Background(), turns, model.SessionConfig{Topic: "SRE", Notes: "be tough", Details: model.MockConfig{}})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got != "Tell me about a hard bug." {
		t.Fatalf("unexpected text %q", got)
	}
	if len(fake.messages) != 4 || fake.messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %+v", fake.messages)
	}
	if !strings.Contains(fake.messages[0].Content, "be tough") {
		t.Fatalf("notes missing from system block")
	}
	for i, turn := range turns {
		if fake.messages[i+1].Content != turn.Content || fake.messages[i+1].Role != string(turn.Role) {
			t.Fatalf("history mismatch at %d", i)
		}
	}
	if fake.schema != nil {
		t.Fatalf("response request should not use a schema")
	}
}

// TestLLMResponderFeedbackParsesAndDefaults 验证反馈解析，缺失字段用默认值补齐。
func TestLLMResponderFeedbackParsesAndDefaults(t *testing.T) {
	fake := &fakeLLM{out: `{"summary":"Strong on design.","strengths":["structure"]}`}
	r := NewLLMResponder(fake, newPrompts(t))

	fb, err := r.Feedback(context.Background(), makeTurns(2), testCfg)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	want := model.Feedback{Summary: "Strong on design.", Strengths: []string{"structure"}, Improvements: []string{"Continue practicing"}}
	if !reflect.DeepEqual(fb, want) {
		t.Fatalf("want %+v got %+v", want, fb)
	}
	if fake.schema == nil || fake.schema.Name != "session_feedback" {
		t.Fatalf("feedback should request structured output")
	}
	last := fake.messages[len(fake.messages)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "Format your response as JSON") {
		t.Fatalf("feedback request message missing: %+v", last)
	}
}

// TestParseFeedbackKeepsEmptyLists 显式的空列表原样保留，缺失或 null 才补默认值。
func TestParseFeedbackKeepsEmptyLists(t *testing.T) {
	fb, err := ParseFeedback(`{"summary":"Brief.","strengths":[],"improvements":null}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fb.Strengths == nil || len(fb.Strengths) != 0 {
		t.Fatalf("explicit empty strengths should survive, got %#v", fb.Strengths)
	}
	if !reflect.DeepEqual(fb.Improvements, []string{"Continue practicing"}) {
		t.Fatalf("null improvements should default, got %#v", fb.Improvements)
	}
}

// TestLLMResponderFeedbackMalformed 验证非 JSON 输出返回 ErrMalformedFeedback。
func TestLLMResponderFeedbackMalformed(t *testing.T) {
	r := NewLLMResponder(&fakeLLM{out: "You did great!"}, newPrompts(t))
	_, err := r.Feedback(context.Background(), makeTurns(2), testCfg)
	if !errors.Is(err, ErrMalformedFeedback) {
		t.Fatalf("expected ErrMalformedFeedback, got %v", err)
	}

	// 经过 Client 后得到固定兜底
	c := NewClient(r, Options{})
	fb, _ := c.RequestFeedback(context.Background(), makeTurns(2), testCfg)
	if !reflect.DeepEqual(fb, MalformedFeedback()) {
		t.Fatalf("expected malformed fallback, got %+v", fb)
	}
}

// TestHTTPResponderRoundTrip 验证远端回复方发送的请求体与解析的响应。
func TestHTTPResponderRoundTrip(t *testing.T) {
	var got AIRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		switch got.Action {
		case ActionResponse:
			_, _ = w.Write([]byte(`{"response":"What is a goroutine?"}`))
		case ActionFeedback:
			_, _ = w.Write([]byte(`{"feedback":{"summary":"ok","strengths":["s"],"improvements":["i"]}}`))
		}
	}))
	defer ts.Close()

	h := NewHTTPResponder(ts.URL, time.Second)
	cfg := model.SessionConfig{Topic: "Go", Notes: "n", Details: model.QAConfig{Format: "quiz"}}

	text, err := h.Respond(context.Background(), makeTurns(2), cfg)
	if err != nil || text != "What is a goroutine?" {
		t.Fatalf("respond: %q err=%v", text, err)
	}
	if got.SessionKind != model.KindQA || got.Topic != "Go" || len(got.Turns) != 2 {
		t.Fatalf("unexpected request: %+v", got)
	}
	decoded, err := got.SessionConfig()
	if err != nil || !reflect.DeepEqual(decoded, cfg) {
		t.Fatalf("config did not survive the wire: %+v err=%v", decoded, err)
	}

	fb, err := h.Feedback(context.Background(), makeTurns(2), cfg)
	if err != nil || fb.Summary != "ok" {
		t.Fatalf("feedback: %+v err=%v", fb, err)
	}
}

// TestHTTPResponderNon2xx 验证非 2xx 视为错误。
func TestHTTPResponderNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Failed to process request"}`, http.StatusInternalServerError)
	}))
	defer ts.Close()

	h := NewHTTPResponder(ts.URL, time.Second)
	if _, err := h.Respond(context.Background(), makeTurns(1), testCfg); err == nil {
		t.Fatalf("expected error on 500")
	}
}

// TestAIRequestLegacyFields 验证旧版字段名同样可以解码。
func TestAIRequestLegacyFields(t *testing.T) {
	body := `{"messages":[{"role":"user","content":"hi"}],"interviewType":"topic","topic":"Kafka","action":"response","details":{"difficulty":"advanced"}}`
	var req AIRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cfg, err := req.SessionConfig()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if d, ok := cfg.Details.(model.TopicConfig); !ok || d.Difficulty != "advanced" {
		t.Fatalf("unexpected details %#v", cfg.Details)
	}
	if len(req.History()) != 1 || req.History()[0].Content != "hi" {
		t.Fatalf("unexpected history %+v", req.History())
	}
}
