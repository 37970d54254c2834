package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/config"
)

// Transcriber 备用转写服务
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

var ErrTranscriptionFailed = errors.New("transcribe: transcription failed")

// NewTranscriber 按配置创建备用转写服务；未配置时返回 nil
func NewTranscriber(cfg config.TranscriptionConfig) (Transcriber, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "assemblyai":
		return NewAssemblyAI(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported transcription provider: %s", cfg.Provider)
	}
}

// AssemblyAI REST 客户端：上传音频，创建转写任务，轮询直到 completed 或 error
type AssemblyAI struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
}

func NewAssemblyAI(cfg config.TranscriptionConfig) *AssemblyAI {
	a := &AssemblyAI{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	if a.baseURL == "" {
		a.baseURL = "https://api.assemblyai.com/v2"
	}
	if a.pollInterval <= 0 {
		a.pollInterval = time.Second
	}
	if a.timeout <= 0 {
		a.timeout = 60 * time.Second
	}
	return a
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL string `json:"audio_url"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Transcribe 整个流程受 timeout 限制
func (a *AssemblyAI) Transcribe(ctx context.Context, audio []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var up uploadResponse
	if err := a.do(ctx, http.MethodPost, "/upload", "application/octet-stream", bytes.NewReader(audio), &up); err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	if up.UploadURL == "" {
		return "", fmt.Errorf("upload audio: empty upload_url")
	}

	body, err := json.Marshal(transcriptRequest{AudioURL: up.UploadURL})
	if err != nil {
		return "", err
	}
	var tr transcriptResponse
	if err := a.do(ctx, http.MethodPost, "/transcript", "application/json", bytes.NewReader(body), &tr); err != nil {
		return "", fmt.Errorf("create transcript: %w", err)
	}

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		switch tr.Status {
		case "completed":
			return tr.Text, nil
		case "error":
			return "", fmt.Errorf("%w: %s", ErrTranscriptionFailed, tr.Error)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("poll transcript %s: %w", tr.ID, ctx.Err())
		case <-ticker.C:
		}

		id := tr.ID
		if err := a.do(ctx, http.MethodGet, "/transcript/"+id, "", nil, &tr); err != nil {
			return "", fmt.Errorf("poll transcript %s: %w", id, err)
		}
	}
}

func (a *AssemblyAI) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", a.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
