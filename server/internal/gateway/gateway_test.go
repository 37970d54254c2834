package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/config"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/interview"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/prompt"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/speech"
)

type stubRetriever struct {
	mu    sync.Mutex
	reply string
	seen  [][]model.ConversationTurn
}

func (r *stubRetriever) RequestResponse(_ context.Context, turns []model.ConversationTurn, _ model.SessionConfig) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, turns)
	return r.reply, nil
}

func (r *stubRetriever) RequestFeedback(_ context.Context, _ []model.ConversationTurn, _ model.SessionConfig) (model.Feedback, error) {
	return model.Feedback{Summary: "Clear answers.", Strengths: []string{"clarity"}, Improvements: []string{"depth"}}, nil
}

type testServer struct {
	url  string
	repo *interview.InMemoryRepository
	rec  *model.InterviewRecord
	done chan struct{}
}

// newTestServer 启动一个只承载单个会话的 WebSocket 服务
func newTestServer(t *testing.T, retriever *stubRetriever) *testServer {
	t.Helper()
	repo := interview.NewInMemoryRepository()
	rec, err := repo.Create(context.Background(), &model.InterviewRecord{
		Owner:  "u1",
		Config: model.SessionConfig{Topic: "Distributed Systems", Details: model.TopicConfig{Difficulty: "advanced"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	prompts, err := prompt.NewBuilder("")
	if err != nil {
		t.Fatalf("prompts: %v", err)
	}

	ts := &testServer{repo: repo, rec: rec, done: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer close(ts.done)
		sess := NewSession(rec, "browser-1", conn, Options{
			Repo:      repo,
			Retriever: retriever,
			Prompts:   prompts,
			Speech:    config.SpeechConfig{Locale: "en-US", MaxChunk: 200},
			Session:   config.SessionConfig{TypingInterval: time.Microsecond, HelloTimeout: time.Second},
			Logger:    quietLogger(),
		})
		_ = sess.Run()
	}))
	t.Cleanup(srv.Close)
	ts.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return ts
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitFor 读取消息直到 match 命中，其余消息被跳过
func waitFor(t *testing.T, conn *websocket.Conn, what string, match func(*ServerMessage) bool) *ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(&msg) {
			return &msg
		}
	}
}

func isType(typ EventType) func(*ServerMessage) bool {
	return func(m *ServerMessage) bool { return m.Type == typ }
}

func isState(state string) func(*ServerMessage) bool {
	return func(m *ServerMessage) bool { return m.Type == EventTypeState && m.State == state }
}

// TestSessionVoiceRoundTrip 覆盖握手、开场白播放、一轮问答与结束反馈。
func TestSessionVoiceRoundTrip(t *testing.T) {
	retriever := &stubRetriever{reply: "How does Raft elect a leader?"}
	ts := newTestServer(t, retriever)
	conn := dial(t, ts.url)

	hello := ClientMessage{Type: EventTypeClientHello, Capabilities: &Capabilities{
		Speech:      true,
		Recognition: true,
		Voices:      []speech.Voice{{Name: "Google US English", Lang: "en-US"}},
	}}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	ready := waitFor(t, conn, "ready", isType(EventTypeReady))
	if ready.Recognition == nil || !*ready.Recognition {
		t.Fatalf("expected recognition to be available")
	}
	if ready.Voice == nil || ready.Voice.Name != "Google US English" {
		t.Fatalf("expected selected voice in ready, got %+v", ready.Voice)
	}

	intro := waitFor(t, conn, "intro turn", isType(EventTypeTurn))
	if intro.Turn.Role != model.RoleAssistant || !strings.Contains(intro.Turn.Content, "Distributed Systems") {
		t.Fatalf("unexpected intro %+v", intro.Turn)
	}
	speak := waitFor(t, conn, "intro speech", isType(EventTypeSpeechSpeak))
	if speak.Utterance.Voice == nil || speak.Utterance.Voice.Name != "Google US English" {
		t.Fatalf("expected preferred voice, got %+v", speak.Utterance.Voice)
	}
	// 逐段回执直到回到 idle
	ackUntilIdle(t, conn, speak)

	// 语音回答：实时识别结果 + 松开麦克风
	for _, msg := range []ClientMessage{
		{Type: EventTypeListenStart},
		{Type: EventTypeTranscriptInterim, Text: "a randomized"},
		{Type: EventTypeTranscriptFinal, Text: "With randomized election timeouts."},
		{Type: EventTypeListenStop},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write %s: %v", msg.Type, err)
		}
	}
	user := waitFor(t, conn, "user turn", isType(EventTypeTurn))
	if user.Turn.Role != model.RoleUser || user.Turn.Content != "With randomized election timeouts." {
		t.Fatalf("unexpected user turn %+v", user.Turn)
	}
	reply := waitFor(t, conn, "assistant turn", isType(EventTypeTurn))
	if reply.Turn.Content != "How does Raft elect a leader?" {
		t.Fatalf("unexpected reply %+v", reply.Turn)
	}
	speak = waitFor(t, conn, "reply speech", isType(EventTypeSpeechSpeak))
	ackUntilIdle(t, conn, speak)

	if err := conn.WriteJSON(ClientMessage{Type: EventTypeSessionEnd}); err != nil {
		t.Fatalf("end: %v", err)
	}
	fb := waitFor(t, conn, "feedback", isType(EventTypeFeedback))
	if fb.Feedback == nil || fb.Feedback.Summary != "Clear answers." {
		t.Fatalf("unexpected feedback %+v", fb.Feedback)
	}

	_ = conn.Close()
	select {
	case <-ts.done:
	case <-time.After(3 * time.Second):
		t.Fatalf("session did not shut down")
	}
	rec, err := ts.repo.Get(context.Background(), ts.rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(rec.Turns) != 3 || rec.Feedback == nil {
		t.Fatalf("expected 3 persisted turns and feedback, got %d turns, feedback %v", len(rec.Turns), rec.Feedback)
	}
}

// ackUntilIdle 对每段 speech.speak 回 speech.ended，直到状态回到 idle
func ackUntilIdle(t *testing.T, conn *websocket.Conn, first *ServerMessage) {
	t.Helper()
	pending := first
	for {
		if pending != nil {
			if err := conn.WriteJSON(ClientMessage{Type: EventTypeSpeechEnded, UtteranceID: pending.Utterance.ID}); err != nil {
				t.Fatalf("ack: %v", err)
			}
			pending = nil
		}
		msg := waitFor(t, conn, "speech or idle", func(m *ServerMessage) bool {
			return m.Type == EventTypeSpeechSpeak || (m.Type == EventTypeState && m.State == "idle")
		})
		if msg.Type == EventTypeState {
			return
		}
		pending = msg
	}
}

// TestSessionTextOnly 验证没有语音能力时只显示文字。
func TestSessionTextOnly(t *testing.T) {
	ts := newTestServer(t, &stubRetriever{reply: "Next question."})
	conn := dial(t, ts.url)

	if err := conn.WriteJSON(ClientMessage{Type: EventTypeClientHello}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	ready := waitFor(t, conn, "ready", isType(EventTypeReady))
	if ready.Recognition == nil || *ready.Recognition || ready.Voice != nil {
		t.Fatalf("text-only session should report no recognition and no voice, got %+v", ready)
	}
	waitFor(t, conn, "intro turn", isType(EventTypeTurn))
	waitFor(t, conn, "idle after intro", isState("idle"))

	if err := conn.WriteJSON(ClientMessage{Type: EventTypeMessageSend, Text: "Typed answer"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, conn, "user turn", isType(EventTypeTurn))
	reply := waitFor(t, conn, "assistant turn", isType(EventTypeTurn))
	reveal := waitFor(t, conn, "full reveal", func(m *ServerMessage) bool {
		return m.Type == EventTypeReveal && m.Text == "Next question."
	})
	if reveal.TurnID != reply.TurnID {
		t.Fatalf("reveal for wrong turn")
	}
	waitFor(t, conn, "idle after reply", isState("idle"))
}

// TestSessionRejectsListenWhileSpeaking 验证播放中按麦克风返回错误。
func TestSessionRejectsListenWhileSpeaking(t *testing.T) {
	ts := newTestServer(t, &stubRetriever{reply: "ok"})
	conn := dial(t, ts.url)

	if err := conn.WriteJSON(ClientMessage{Type: EventTypeClientHello, Capabilities: &Capabilities{Speech: true}}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	waitFor(t, conn, "speaking", isState("speaking"))

	if err := conn.WriteJSON(ClientMessage{Type: EventTypeListenStart}); err != nil {
		t.Fatalf("listen: %v", err)
	}
	msg := waitFor(t, conn, "error", isType(EventTypeError))
	if !strings.Contains(msg.Error, "speaking") {
		t.Fatalf("unexpected error %q", msg.Error)
	}
}

// TestSessionRequiresHello 验证第一条消息不是 hello 时关闭会话。
func TestSessionRequiresHello(t *testing.T) {
	ts := newTestServer(t, &stubRetriever{})
	conn := dial(t, ts.url)

	if err := conn.WriteJSON(ClientMessage{Type: EventTypeListenStart}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-ts.done:
	case <-time.After(3 * time.Second):
		t.Fatalf("session should close without hello")
	}
}
