package responder

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

type fakeResponder struct {
	gotTurns []model.ConversationTurn
	text     string
	fb       model.Feedback
	err      error
	block    bool
}

func (f *fakeResponder) Respond(ctx context.Context, turns []model.ConversationTurn, _ model.SessionConfig) (string, error) {
	f.gotTurns = turns
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

func (f *fakeResponder) Feedback(ctx context.Context, turns []model.ConversationTurn, _ model.SessionConfig) (model.Feedback, error) {
	f.gotTurns = turns
	if f.block {
		<-ctx.Done()
		return model.Feedback{}, ctx.Err()
	}
	return f.fb, f.err
}

func makeTurns(n int) []model.ConversationTurn {
	out := make([]model.ConversationTurn, n)
	for i := range out {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		out[i] = model.ConversationTurn{ID: fmt.Sprintf("t%d", i), Role: role, Content: fmt.Sprintf("turn %d", i)}
	}
	return out
}

var testCfg = model.SessionConfig{Topic: "Go", Details: model.MockConfig{}}

// TestRequestResponseWindowsHistory 验证只发送最近 15 条历史且顺序不变。
func TestRequestResponseWindowsHistory(t *testing.T) {
	fake := &fakeResponder{text: "next question"}
	c := NewClient(fake, Options{})

	turns := makeTurns(20)
	got, err := c.RequestResponse(context.Background(), turns, testCfg)
	if err != nil || got != "next question" {
		t.Fatalf("unexpected result %q err=%v", got, err)
	}
	if len(fake.gotTurns) != 15 {
		t.Fatalf("expected 15 turns, got %d", len(fake.gotTurns))
	}
	if !reflect.DeepEqual(fake.gotTurns, turns[5:]) {
		t.Fatalf("window is not the most recent turns in order")
	}

	// 调用方切片不能被共享
	fake.gotTurns[0].Content = "mutated"
	if turns[5].Content == "mutated" {
		t.Fatalf("responder received the live slice")
	}
}

// TestRequestResponseTransportFailure 验证传输失败时返回致歉文本并带出原因。
func TestRequestResponseTransportFailure(t *testing.T) {
	boom := errors.New("connection refused")
	c := NewClient(&fakeResponder{err: boom}, Options{})

	got, err := c.RequestResponse(context.Background(), makeTurns(2), testCfg)
	if got != ApologyText {
		t.Fatalf("expected apology, got %q", got)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected cause to be returned, got %v", err)
	}
}

// TestRequestResponseEmptyIsFailure 验证空回复按失败处理。
func TestRequestResponseEmptyIsFailure(t *testing.T) {
	c := NewClient(&fakeResponder{text: "   "}, Options{})
	got, err := c.RequestResponse(context.Background(), makeTurns(1), testCfg)
	if got != ApologyText || err == nil {
		t.Fatalf("expected apology with error, got %q err=%v", got, err)
	}
}

// TestRequestResponseTimeout 验证回复请求同样受超时约束。
func TestRequestResponseTimeout(t *testing.T) {
	c := NewClient(&fakeResponder{block: true}, Options{ResponseTimeout: 20 * time.Millisecond})

	start := time.Now()
	got, err := c.RequestResponse(context.Background(), makeTurns(1), testCfg)
	if got != ApologyText || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected apology on timeout, got %q err=%v", got, err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied")
	}
}

// TestRequestFeedbackFallbacks 验证解析失败与传输失败分别返回不同的兜底反馈。
func TestRequestFeedbackFallbacks(t *testing.T) {
	c := NewClient(&fakeResponder{err: fmt.Errorf("%w: bad json", ErrMalformedFeedback)}, Options{})
	fb, err := c.RequestFeedback(context.Background(), makeTurns(4), testCfg)
	if err == nil || !reflect.DeepEqual(fb, MalformedFeedback()) {
		t.Fatalf("expected malformed fallback, got %+v err=%v", fb, err)
	}

	c = NewClient(&fakeResponder{block: true}, Options{FeedbackTimeout: 20 * time.Millisecond})
	fb, err = c.RequestFeedback(context.Background(), makeTurns(4), testCfg)
	if err == nil || !reflect.DeepEqual(fb, FailedFeedback()) {
		t.Fatalf("expected failed fallback, got %+v err=%v", fb, err)
	}
}

// TestRequestFeedbackSendsFullHistory 验证反馈使用完整历史而不是窗口。
func TestRequestFeedbackSendsFullHistory(t *testing.T) {
	want := model.Feedback{Summary: "good", Strengths: []string{"a"}, Improvements: []string{"b"}}
	fake := &fakeResponder{fb: want}
	c := NewClient(fake, Options{})

	fb, err := c.RequestFeedback(context.Background(), makeTurns(30), testCfg)
	if err != nil || !reflect.DeepEqual(fb, want) {
		t.Fatalf("unexpected feedback %+v err=%v", fb, err)
	}
	if len(fake.gotTurns) != 30 {
		t.Fatalf("expected full history, got %d", len(fake.gotTurns))
	}
}
