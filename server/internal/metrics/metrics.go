package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "knowledgeai"

// Metrics 汇总语音面试管线的计数器。
// 所有方法对 nil 接收者安全，组件可以不注入指标。
type Metrics struct {
	registry *prometheus.Registry

	turns           *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	aiLatency       *prometheus.HistogramVec
	speechChunks    *prometheus.CounterVec
	watchdogResumes prometheus.Counter
	transcripts     *prometheus.CounterVec
	persistFailures prometheus.Counter
	activeSessions  prometheus.Gauge
}

// New 创建独立的 registry，避免测试之间重复注册。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "turns_total",
			Help: "Conversation turns appended, by role.",
		}, []string{"role"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "responder_fallbacks_total",
			Help: "Fixed fallback texts returned instead of AI output, by action.",
		}, []string{"action"}),
		aiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "responder_duration_seconds",
			Help:    "Latency of AI responder calls, by action.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"action"}),
		speechChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "speech_chunks_total",
			Help: "Speech chunks handed to the engine, by result.",
		}, []string{"result"}),
		watchdogResumes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "speech_watchdog_resumes_total",
			Help: "Times the watchdog resumed a stalled speech engine.",
		}),
		transcripts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transcripts_total",
			Help: "Final transcripts produced, by source (live, backup, none).",
		}, []string{"source"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "persist_failures_total",
			Help: "Repository writes that failed and were skipped.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Voice sessions with an open channel.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.turns, m.fallbacks, m.aiLatency, m.speechChunks,
		m.watchdogResumes, m.transcripts, m.persistFailures, m.activeSessions,
	)
	return m
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 registry，测试里用来读取数值。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) TurnAppended(role string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(role).Inc()
}

func (m *Metrics) Fallback(action string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveResponder(action string, d time.Duration) {
	if m == nil {
		return
	}
	m.aiLatency.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) SpeechChunk(result string) {
	if m == nil {
		return
	}
	m.speechChunks.WithLabelValues(result).Inc()
}

func (m *Metrics) WatchdogResume() {
	if m == nil {
		return
	}
	m.watchdogResumes.Inc()
}

func (m *Metrics) Transcript(source string) {
	if m == nil {
		return
	}
	m.transcripts.WithLabelValues(source).Inc()
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}
