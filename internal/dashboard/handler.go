// handler.go: Dashboard REST API handlers。
package dashboard

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/multi-agent/agent-sync/internal/store"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/state", s.getState)
	api.POST("/messages", s.sendMessage)
	api.POST("/session", s.subscribeSession)
	api.DELETE("/session", s.unsubscribeSession)
	api.GET("/transcript", s.listTranscript)
	api.GET("/events", s.sseHandler)

	if s.opts.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

// ========================================
// 辅助: 从 query 读分页参数
// ========================================

func queryLimit(c *gin.Context, def int) int {
	v, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if v < 1 {
		return def
	}
	if v > 500 {
		return 500
	}
	return v
}

// ========================================
// State
// ========================================

func (s *Server) getState(c *gin.Context) {
	data := gin.H{"client": s.opts.Client.Snapshot()}
	if s.opts.Stores != nil {
		data["stores"] = s.opts.Stores.Snapshot()
	}
	success(c, data)
}

// ========================================
// Messages / Session
// ========================================

func (s *Server) sendMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.opts.Client.SendMessage(req.Content); err != nil {
		clientError(c, err)
		return
	}
	accepted(c, gin.H{"sent": true})
}

func (s *Server) subscribeSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	sid := strings.TrimSpace(req.SessionID)
	if err := s.opts.Client.SubscribeToSession(sid); err != nil {
		clientError(c, err)
		return
	}
	accepted(c, gin.H{"session_id": sid})
}

func (s *Server) unsubscribeSession(c *gin.Context) {
	if err := s.opts.Client.UnsubscribeFromSession(); err != nil {
		clientError(c, err)
		return
	}
	success(c, gin.H{"unsubscribed": true})
}

// ========================================
// Transcript (归档)
// ========================================

func (s *Server) listTranscript(c *gin.Context) {
	if s.opts.Transcripts == nil {
		notFound(c, "transcript archive disabled")
		return
	}
	sid := c.Query("session_id")
	if sid == "" {
		sid = s.opts.Client.Snapshot().SessionID
	}
	if sid == "" {
		badRequest(c, "invalid_request", "session_id is required")
		return
	}
	before, _ := strconv.ParseInt(c.Query("before"), 10, 64)
	items, err := s.opts.Transcripts.ListMessages(c.Request.Context(), store.TranscriptFilter{
		SessionID: sid,
		Role:      c.Query("role"),
		Keyword:   c.Query("keyword"),
		Before:    before,
		Limit:     queryLimit(c, 100),
	})
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}
