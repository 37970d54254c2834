package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/interview"
	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

// createInterviewRequest type / details 是旧版字段名
type createInterviewRequest struct {
	Owner       string            `json:"owner"`
	SessionKind model.SessionKind `json:"sessionKind"`
	Type        string            `json:"type"`
	Topic       string            `json:"topic"`
	Notes       string            `json:"notes"`
	Config      json.RawMessage   `json:"config"`
	Details     json.RawMessage   `json:"details"`
}

type saveMessageRequest struct {
	InterviewID string     `json:"interviewId"`
	Content     string     `json:"content"`
	Role        model.Role `json:"role"`
}

type saveFeedbackRequest struct {
	InterviewID string          `json:"interviewId"`
	Feedback    *model.Feedback `json:"feedback"`
}

// handleCreateInterview 创建记录并放进当前浏览器会话的最近列表
func (s *Server) handleCreateInterview(c *gin.Context) {
	var req createInterviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	kind := req.SessionKind
	if kind == "" {
		kind = model.SessionKind(req.Type)
	}
	details := req.Config
	if len(details) == 0 {
		details = req.Details
	}
	cfg, err := model.NewSessionConfig(kind, req.Topic, req.Notes, details)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if mock, ok := cfg.Details.(model.MockConfig); ok {
		cfg.Details, cfg.Notes = model.NormalizeMock(mock, cfg.Notes)
	}

	// 已登录用户总是自己的记录所有者，请求体里的 owner 只对匿名请求生效
	user := currentUser(c)
	owner := user.ID
	if owner == anonymousUser {
		if o := strings.TrimSpace(req.Owner); o != "" {
			owner = o
		}
	}
	rec, err := s.repo.Create(c.Request.Context(), &model.InterviewRecord{
		Owner:     owner,
		OwnerName: user.Name,
		Config:    cfg,
	})
	if err != nil {
		s.logger.Printf("[API] create interview failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create interview"})
		return
	}

	if s.history != nil {
		entry := model.HistoryEntry{ID: rec.ID, Kind: cfg.Kind(), Topic: cfg.Topic, Date: rec.CreatedAt}
		if _, err := s.history.Add(c.Request.Context(), browserID(c), entry); err != nil {
			s.logger.Printf("[API] history add failed for %s: %v", rec.ID, err)
		}
	}
	s.logger.Printf("[API] interview created id=%s kind=%s owner=%s", rec.ID, cfg.Kind(), owner)
	c.JSON(http.StatusOK, gin.H{"interviewId": rec.ID, "success": true})
}

// handleSaveMessage 追加一条发言
func (s *Server) handleSaveMessage(c *gin.Context) {
	var req saveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.InterviewID == "" || req.Content == "" || !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	stored, err := s.repo.AppendTurn(c.Request.Context(), req.InterviewID, model.ConversationTurn{
		Role:    req.Role,
		Content: req.Content,
	})
	if errors.Is(err, interview.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Interview not found"})
		return
	}
	if err != nil {
		s.logger.Printf("[API] save message failed for %s: %v", req.InterviewID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}
	s.metrics.TurnAppended(string(stored.Role))
	c.JSON(http.StatusOK, gin.H{"messageId": stored.ID, "success": true})
}

// handleSaveFeedback 写入反馈，并同步到最近会话列表
func (s *Server) handleSaveFeedback(c *gin.Context) {
	var req saveFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.InterviewID == "" || req.Feedback == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	ctx := c.Request.Context()
	err := s.repo.SetFeedback(ctx, req.InterviewID, *req.Feedback)
	if errors.Is(err, interview.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Interview not found"})
		return
	}
	if err != nil {
		s.logger.Printf("[API] save feedback failed for %s: %v", req.InterviewID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save feedback"})
		return
	}

	if s.history != nil {
		if rec, err := s.repo.Get(ctx, req.InterviewID); err == nil {
			if err := s.history.Complete(ctx, browserID(c), rec.ID, rec.Turns, req.Feedback); err != nil {
				s.logger.Printf("[API] history complete failed for %s: %v", rec.ID, err)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// loadOwned 读取记录并校验所有者；失败时已写好响应
func (s *Server) loadOwned(c *gin.Context) (*model.InterviewRecord, bool) {
	rec, err := s.repo.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, interview.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Interview not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Printf("[API] load interview %s failed: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load interview"})
		return nil, false
	}
	if rec.Owner != currentUser(c).ID {
		// 不区分不存在与无权访问
		c.JSON(http.StatusNotFound, gin.H{"error": "Interview not found"})
		return nil, false
	}
	return rec, true
}
