package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/config"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/gateway"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/history"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/interview"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/metrics"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/prompt"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/responder"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/transcribe"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/turn"
)

// Deps 服务依赖，由 cmd 组装
type Deps struct {
	Config      *config.Config
	Repo        interview.Repository
	History     history.Store
	Responder   responder.Responder
	Retriever   turn.Retriever
	Prompts     *prompt.Builder
	Transcriber transcribe.Transcriber
	Logger      *log.Logger
	Metrics     *metrics.Metrics
}

type Server struct {
	config      *config.Config
	repo        interview.Repository
	history     history.Store
	responder   responder.Responder
	retriever   turn.Retriever
	prompts     *prompt.Builder
	transcriber transcribe.Transcriber
	logger      *log.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	upgrader websocket.Upgrader
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
	s := &Server{
		config:      d.Config,
		repo:        d.Repo,
		history:     d.History,
		responder:   d.Responder,
		retriever:   d.Retriever,
		prompts:     d.Prompts,
		transcriber: d.Transcriber,
		logger:      d.Logger,
		metrics:     d.Metrics,
		now:         time.Now,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware(), identityMiddleware(), browserSessionMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := engine.Group("/api")
	api.POST("/ai", s.handleAI)
	api.POST("/create-interview", s.handleCreateInterview)
	api.POST("/save-message", s.handleSaveMessage)
	api.POST("/save-feedback", s.handleSaveFeedback)
	api.GET("/interviews/:id", s.handleGetInterview)
	api.GET("/interviews/:id/stream", s.handleInterviewStream)
	api.GET("/db-status", s.handleDBStatus)
	api.GET("/history", s.handleHistory)
	api.POST("/transcribe", s.handleTranscribe)
	return engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleAI 生成下一句回复或会话反馈
func (s *Server) handleAI(c *gin.Context) {
	var req responder.AIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Action != responder.ActionResponse && req.Action != responder.ActionFeedback {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
		return
	}
	cfg, err := req.SessionConfig()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	start := s.now()
	defer func() { s.metrics.ObserveResponder(req.Action, s.now().Sub(start)) }()

	if req.Action == responder.ActionFeedback {
		fb, err := s.responder.Feedback(ctx, req.History(), cfg)
		if errors.Is(err, responder.ErrMalformedFeedback) {
			s.logger.Printf("[API] feedback not parseable, using default: %v", err)
			fb, err = responder.MalformedFeedback(), nil
		}
		if err != nil {
			s.logger.Printf("[API] feedback failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process AI request"})
			return
		}
		c.JSON(http.StatusOK, responder.AIResponse{Feedback: &fb})
		return
	}

	text, err := s.responder.Respond(ctx, req.History(), cfg)
	if err != nil {
		s.logger.Printf("[API] response failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process AI request"})
		return
	}
	c.JSON(http.StatusOK, responder.AIResponse{Response: text})
}

// handleGetInterview 返回去掉备注的公开记录，只对所有者可见
func (s *Server) handleGetInterview(c *gin.Context) {
	rec, ok := s.loadOwned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec.Public())
}

// handleInterviewStream 升级为 WebSocket 并运行语音会话，直到连接关闭
func (s *Server) handleInterviewStream(c *gin.Context) {
	rec, ok := s.loadOwned(c)
	if !ok {
		return
	}
	if rec.Feedback != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "interview already ended"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("[API] websocket upgrade failed for %s: %v", rec.ID, err)
		return
	}
	s.logger.Printf("[API] stream opened interview=%s user=%s remote=%s", rec.ID, currentUser(c).ID, c.Request.RemoteAddr)

	sess := gateway.NewSession(rec, browserID(c), conn, gateway.Options{
		Repo:         s.repo,
		History:      s.history,
		Retriever:    s.retriever,
		Prompts:      s.prompts,
		Transcriber:  s.transcriber,
		Speech:       s.config.Speech,
		Session:      s.config.Session,
		WriteTimeout: s.config.Server.WriteTimeout,
		PingInterval: s.config.Server.PingInterval,
		Logger:       s.logger,
		Metrics:      s.metrics,
	})
	if err := sess.Run(); err != nil {
		s.logger.Printf("[API] stream for %s ended: %v", rec.ID, err)
		return
	}
	s.logger.Printf("[API] stream closed interview=%s", rec.ID)
}

// handleDBStatus 存储连通性检查，附带最近几条记录
func (s *Server) handleDBStatus(c *gin.Context) {
	ctx := c.Request.Context()
	count, err := s.repo.Count(ctx)
	if err != nil {
		s.logger.Printf("[API] db status failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	recent, err := s.repo.List(ctx, "", 3)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	sample := make([]*model.InterviewRecord, 0, len(recent))
	for _, rec := range recent {
		sample = append(sample, rec.Public())
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "connected",
		"storage":        s.config.Storage.Driver,
		"interviewCount": count,
		"sampleData":     sample,
	})
}

// handleHistory 当前浏览器会话的最近会话，最新的在前
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, []model.HistoryEntry{})
		return
	}
	list, err := s.history.List(c.Request.Context(), browserID(c))
	if err != nil {
		s.logger.Printf("[API] history failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load history failed"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// handleTranscribe 把请求体当作一段录音交给备用转写服务
func (s *Server) handleTranscribe(c *gin.Context) {
	if s.transcriber == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transcription is not configured"})
		return
	}
	audio, err := io.ReadAll(io.LimitReader(c.Request.Body, transcribe.DefaultMaxClip+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read audio failed"})
		return
	}
	if len(audio) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No audio file provided"})
		return
	}
	if len(audio) > transcribe.DefaultMaxClip {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": transcribe.ErrClipTooLarge.Error()})
		return
	}

	text, err := s.transcriber.Transcribe(c.Request.Context(), audio)
	if err != nil {
		s.logger.Printf("[API] transcription failed: %v", err)
		s.metrics.Transcript("error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Transcription failed"})
		return
	}
	s.metrics.Transcript("backup")
	c.JSON(http.StatusOK, gin.H{"status": "completed", "text": text})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.config.Server.AllowedOrigins, "*") ||
		slices.Contains(s.config.Server.AllowedOrigins, strings.TrimSuffix(origin, "/"))
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-User-Name")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
