package chat

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"PetChat/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 桌面客户端没有 Origin 校验需求
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StartWebSocket exposes the same protocol over WebSocket on /ws. Each
// binary message carries one full frame (header + payload); the session then
// goes through the exact same read loop as a TCP connection.
func (s *Server) StartWebSocket(port int) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warnf("[WS] upgrade failed: %v", err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(newWSFrameConn(conn))
		}()
	})

	addr := fmt.Sprintf("%s:%d", s.conf.Host, port)
	logger.Infof("[WS] listening on %s", addr)
	go func() {
		if err := r.Run(addr); err != nil {
			logger.Errorf("[WS] server exited: %v", err)
		}
	}()
	return nil
}
