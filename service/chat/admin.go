package chat

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PetChat/logger"
)

// serveAdmin runs the health and metrics endpoint. It stays up until the
// process exits; a dead admin listener never takes the chat server with it.
func (s *Server) serveAdmin() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	if s.store != nil {
		r.GET("/history", s.handleHistory)
		r.GET("/memories", s.handleMemories)
	}

	addr := fmt.Sprintf("%s:%d", s.conf.Host, s.conf.AdminPort)
	logger.Infof("[Admin] listening on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Errorf("[Admin] server exited: %v", err)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	resp := gin.H{
		"status":         "ok",
		"online_users":   s.registry.Count(),
		"messages_total": s.msgCount.Load(),
		"ai_requests":    s.aiReqCount.Load(),
	}
	if d := s.aiPool.dispatcher; d != nil {
		resp["ai"] = d.Health()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := s.store.RecentMessages(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleMemories(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	items, err := s.store.Memories(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": items})
}
