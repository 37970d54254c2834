package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/config"
)

// fakeAssemblyAI 模拟上传、创建与轮询三个端点
func fakeAssemblyAI(t *testing.T, final transcriptResponse, pendingPolls int32) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "audio-bytes" {
			t.Errorf("unexpected upload body %q", body)
		}
		_ = json.NewEncoder(w).Encode(uploadResponse{UploadURL: "https://cdn.example/clip"})
	})
	mux.HandleFunc("/transcript", func(w http.ResponseWriter, r *http.Request) {
		var req transcriptRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.AudioURL != "https://cdn.example/clip" {
			t.Errorf("unexpected audio_url %q", req.AudioURL)
		}
		_ = json.NewEncoder(w).Encode(transcriptResponse{ID: "tr-1", Status: "queued"})
	})
	mux.HandleFunc("/transcript/tr-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) <= pendingPolls {
			_ = json.NewEncoder(w).Encode(transcriptResponse{ID: "tr-1", Status: "processing"})
			return
		}
		_ = json.NewEncoder(w).Encode(final)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestAssemblyAI(url string) *AssemblyAI {
	return NewAssemblyAI(config.TranscriptionConfig{
		Provider:     "assemblyai",
		APIKey:       "secret",
		BaseURL:      url,
		PollInterval: 5 * time.Millisecond,
		Timeout:      2 * time.Second,
	})
}

func TestAssemblyAICompleted(t *testing.T) {
	ts := fakeAssemblyAI(t, transcriptResponse{ID: "tr-1", Status: "completed", Text: "Use a bloom filter."}, 2)

	text, err := newTestAssemblyAI(ts.URL).Transcribe(context.Background(), []byte("audio-bytes"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "Use a bloom filter." {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestAssemblyAIError(t *testing.T) {
	ts := fakeAssemblyAI(t, transcriptResponse{ID: "tr-1", Status: "error", Error: "audio too short"}, 0)

	_, err := newTestAssemblyAI(ts.URL).Transcribe(context.Background(), []byte("audio-bytes"))
	if !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
}

func TestAssemblyAIUnauthorized(t *testing.T) {
	ts := fakeAssemblyAI(t, transcriptResponse{}, 0)
	a := newTestAssemblyAI(ts.URL)
	a.apiKey = "wrong"

	if _, err := a.Transcribe(context.Background(), []byte("audio-bytes")); err == nil {
		t.Fatalf("expected error for non-2xx upload")
	}
}

func TestAssemblyAITimeout(t *testing.T) {
	ts := fakeAssemblyAI(t, transcriptResponse{}, 1<<30)
	a := newTestAssemblyAI(ts.URL)
	a.timeout = 50 * time.Millisecond

	_, err := a.Transcribe(context.Background(), []byte("audio-bytes"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewTranscriber(t *testing.T) {
	tr, err := NewTranscriber(config.TranscriptionConfig{})
	if err != nil || tr != nil {
		t.Fatalf("expected disabled transcriber, got %v %v", tr, err)
	}
	if _, err := NewTranscriber(config.TranscriptionConfig{Provider: "whisper"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
