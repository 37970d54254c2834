package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/api"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/config"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/history"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/interview"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/llm"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/metrics"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/prompt"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/responder"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/transcribe"
)

func main() {
	// 密钥放 .env 或环境变量，其余走配置文件
	configPath := flag.String("config", "", "path to config yaml (optional)")
	envFile := flag.String("env", ".env", "dotenv file, ignored when missing")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Main] load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("[Main] %v", err)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeRepo()

	hist, closeHist, err := openHistory(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer closeHist()

	prompts, err := prompt.NewBuilder(cfg.Paths.Prompts)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	m := metrics.New()

	// 本地模型同时服务 /api/ai；配置了远端 endpoint 时会话改走远端
	var local responder.Responder
	if cfg.Responder.Endpoint == "" || cfg.ActiveProvider().APIKey != "" {
		client, err := llm.NewClient(cfg.LLM)
		if err != nil {
			return fmt.Errorf("init llm: %w", err)
		}
		local = responder.NewLLMResponder(client, prompts)
	}
	sessionResponder := local
	if cfg.Responder.Endpoint != "" {
		sessionResponder = responder.NewHTTPResponder(cfg.Responder.Endpoint, cfg.Responder.ResponseTimeout)
		logger.Printf("[Main] session responses via %s", cfg.Responder.Endpoint)
	}
	if local == nil {
		local = sessionResponder
	}
	retriever := responder.NewClient(sessionResponder, responder.Options{
		Window:          cfg.Responder.Window,
		ResponseTimeout: cfg.Responder.ResponseTimeout,
		FeedbackTimeout: cfg.Responder.FeedbackTimeout,
		Logger:          logger,
		Metrics:         m,
	})

	transcriber, err := transcribe.NewTranscriber(cfg.Transcription)
	if err != nil {
		return fmt.Errorf("init transcription: %w", err)
	}

	server := api.NewServer(api.Deps{
		Config:      cfg,
		Repo:        repo,
		History:     hist,
		Responder:   local,
		Retriever:   retriever,
		Prompts:     prompts,
		Transcriber: transcriber,
		Logger:      logger,
		Metrics:     m,
	})

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     server.Routes(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// WebSocket 长连接不能设整体写超时，单条消息的写超时在会话里控制
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("[Main] knowledge.ai server listening on %s", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Printf("[Main] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openRepository(cfg config.StorageConfig) (interview.Repository, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		repo, err := interview.NewSQLiteRepository(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		return interview.NewInMemoryRepository(), func() {}, nil
	}
}

func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, func(), error) {
	switch cfg.Driver {
	case "redis":
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := history.NewRedisClient(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return history.NewRedisStore(client, cfg.Limit, cfg.TTL), func() { _ = client.Close() }, nil
	default:
		return history.NewInMemoryStore(cfg.Limit), func() {}, nil
	}
}

// newLogger 按配置选择输出位置
func newLogger(cfg config.LoggingConfig) (*log.Logger, func(), error) {
	flags := log.LstdFlags | log.Lmicroseconds
	var out io.Writer
	closer := func() {}
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closer = func() { _ = f.Close() }
	}
	logger := log.New(out, "", flags)
	log.SetOutput(out)
	log.SetFlags(flags)
	return logger, closer, nil
}
