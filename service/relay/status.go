package relay

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"PetChat/logger"
)

// serveStatus exposes a small JSON status endpoint for operators.
func (s *Server) serveStatus() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/status", func(c *gin.Context) {
		active, rooms := s.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":             "running",
			"host":               s.conf.Host,
			"port":               s.conf.Port,
			"active_connections": active,
			"rooms":              rooms,
		})
	})

	addr := fmt.Sprintf("%s:%d", s.conf.Host, s.conf.StatusPort)
	logger.Infof("[Relay] status endpoint on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Errorf("[Relay] status server exited: %v", err)
	}
}
