package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestHandlerExposesCounters 验证计数器出现在 /metrics 输出中。
func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.TurnAppended("user")
	m.Fallback("response")
	m.WatchdogResume()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`knowledgeai_turns_total{role="user"} 1`,
		`knowledgeai_responder_fallbacks_total{action="response"} 1`,
		`knowledgeai_speech_watchdog_resumes_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

// TestNilMetricsIsSafe 验证未注入指标时调用不会 panic。
func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.TurnAppended("assistant")
	m.SpeechChunk("ok")
	m.SessionOpened()
	m.SessionClosed()
}
