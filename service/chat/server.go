// Package chat implements the PetChat server core: it accepts connections,
// maintains the session registry, routes chat / typing / AI traffic and
// reports lifecycle events to the application layer.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"PetChat/logger"
	"PetChat/protocol"
	"PetChat/service/ai"
	"PetChat/tools/errs"
)

// Config holds listener and worker pool settings.
type Config struct {
	Host      string
	Port      int
	AdminPort int // 0 disables the admin endpoint

	FanoutWorkers int
	FanoutQueue   int
	AIWorkers     int
	AIQueue       int
}

func (c *Config) norm() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	// Port 0 asks the kernel for an ephemeral port.
	if c.AIWorkers <= 0 {
		c.AIWorkers = 4
	}
	if c.AIQueue <= 0 {
		c.AIQueue = 64
	}
}

type handlerFunc func(s *Server, state *connState, env protocol.Envelope)

// HistoryStore is the slice of the persistence layer the server itself uses:
// extracted memories are written through it and the admin endpoint reads
// recent history from it.
type HistoryStore interface {
	RecentMessages(ctx context.Context, limit int) ([]protocol.ChatMessage, error)
	SaveMemory(ctx context.Context, item protocol.MemoryItem) error
	Memories(ctx context.Context, limit int) ([]protocol.MemoryItem, error)
}

// Server owns the registry, the fanout pool and the AI worker pool. One
// goroutine per accepted connection; no ambient static state.
type Server struct {
	conf     Config
	registry *Registry
	fanout   *Fanout
	aiPool   *aiPool
	events   multiEvents
	metrics  *Metrics
	handlers map[protocol.Kind]handlerFunc
	store    HistoryStore // nil means no persistence

	listener net.Listener
	running  atomic.Bool
	conns    sync.Map // FrameConn -> struct{}, includes pre-register conns
	wg       sync.WaitGroup

	msgCount   atomic.Int64
	aiReqCount atomic.Int64
}

// NewServer wires a server. dispatcher may be nil: AI requests are then
// dropped and every other feature keeps working.
func NewServer(conf Config, dispatcher *ai.Dispatcher, observers ...ServerEvents) *Server {
	conf.norm()
	s := &Server{
		conf:     conf,
		registry: NewRegistry(),
		fanout:   NewFanout(conf.FanoutWorkers, conf.FanoutQueue),
		events:   append(multiEvents{LoggingEvents{}}, observers...),
		metrics:  NewMetrics(),
	}
	s.aiPool = newAIPool(s, dispatcher, conf.AIWorkers, conf.AIQueue)
	s.handlers = map[protocol.Kind]handlerFunc{
		protocol.KindRegister:          (*Server).handleRegister,
		protocol.KindChatMessage:       (*Server).handleChat,
		protocol.KindTypingStatus:      (*Server).handleTyping,
		protocol.KindPing:              (*Server).handlePing,
		protocol.KindAIAnalysisRequest: (*Server).handleAIRequest,
	}
	return s
}

// AttachStore wires persistence reads and memory writes. Call before Start.
func (s *Server) AttachStore(store HistoryStore) { s.store = store }

// Registry exposes the session registry (admin endpoint, tests).
func (s *Server) Registry() *Registry { return s.registry }

// Dispatcher returns the AI dispatcher, if one is wired.
func (s *Server) Dispatcher() *ai.Dispatcher { return s.aiPool.dispatcher }

// Addr returns the bound listener address once Start succeeded.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Start binds the listener and begins accepting. Non-blocking.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port))
	if err != nil {
		s.running.Store(false)
		return errs.Wrap(err, "listen")
	}
	s.listener = ln
	logger.Infof("[Server] listening on %s", ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop()

	if s.conf.AdminPort > 0 {
		go s.serveAdmin()
	}
	return nil
}

// Stop closes the listener and every live session.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.conns.Range(func(key, _ any) bool {
		_ = key.(FrameConn).Close()
		return true
	})
	// Connection goroutines drain first; they are the only producers for the
	// fanout and AI pools.
	s.wg.Wait()
	s.aiPool.close()
	s.fanout.Close()
	logger.Info("[Server] stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				logger.Errorf("[Server] accept error: %v", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(newTCPFrameConn(conn))
		}()
	}
}

// connState tracks one connection's progress through
// AwaitingRegister → Registered → Closed.
type connState struct {
	conn FrameConn
	sess *Session // nil until registered
}

// serveConn is the per-connection read loop, shared by TCP and WebSocket
// transports.
func (s *Server) serveConn(conn FrameConn) {
	state := &connState{conn: conn}
	s.conns.Store(conn, struct{}{})
	s.metrics.ConnectionsOpened.Inc()

	for {
		payload, err := conn.ReadPayload()
		if err == errs.ErrChecksum {
			// Integrity failure: drop the frame, keep the stream. The
			// heartbeat catches a truly broken peer.
			s.metrics.FramesDropped.Inc()
			continue
		}
		if err != nil {
			break
		}

		env, err := protocol.Decode(payload)
		if err != nil {
			// Unknown/invalid envelopes are ignored, never fatal.
			s.metrics.FramesDropped.Inc()
			logger.Debugf("[Server] dropping frame: %v", err)
			continue
		}

		// Before registration only register is accepted; anything else is
		// tolerated silently (out-of-order arrival is not an error).
		if state.sess == nil && env.Kind() != protocol.KindRegister {
			continue
		}

		if h, ok := s.handlers[env.Kind()]; ok {
			h(s, state, env)
		}
	}

	s.cleanup(state)
}

// cleanup runs once per connection: read error, zero-length read and peer
// close all land here. The rest of the system only learns "gone".
func (s *Server) cleanup(state *connState) {
	_ = state.conn.Close()
	s.conns.Delete(state.conn)
	s.metrics.ConnectionsClosed.Inc()

	sess := state.sess
	if sess == nil {
		return
	}
	if !s.registry.RemoveIfConn(sess.UserID, sess.ConnID) {
		// Superseded by a newer registration; the user is still online.
		return
	}
	s.metrics.ActiveSessions.Dec()
	s.events.OnClientDisconnected(sess.UserID)
	s.broadcast(protocol.NewUserLeft(sess.UserID), "")
}

func (s *Server) handleRegister(state *connState, env protocol.Envelope) {
	reg := env.(*protocol.Register)
	if reg.UserID == "" {
		return
	}

	sess := &Session{
		ConnID:   uuid.NewString(),
		UserID:   reg.UserID,
		UserName: reg.UserName,
		Avatar:   reg.Avatar,
		conn:     state.conn,
		remote:   state.conn.RemoteAddr().String(),
	}

	old := s.registry.Put(sess)
	state.sess = sess
	if old != nil {
		// Explicit takeover: close the superseded socket instead of leaving
		// it orphaned. Its read loop exits without touching the registry.
		logger.Warnf("[Server] user %s re-registered, closing previous connection %s", sess.UserID, old.Remote())
		_ = old.conn.Close()
	} else {
		s.metrics.ActiveSessions.Inc()
	}

	s.events.OnClientConnected(sess.UserID, sess.UserName, sess.remote)
	s.broadcast(protocol.NewUserJoined(sess.UserID, sess.UserName, sess.Avatar), sess.UserID)
	if err := sess.send(protocol.NewOnlineUsers(s.registry.Users(sess.UserID))); err != nil {
		logger.Debugf("[Server] online_users to %s failed: %v", sess.UserID, err)
	}
}

func (s *Server) handleChat(state *connState, env protocol.Envelope) {
	msg := env.(*protocol.ChatMessage)
	s.msgCount.Add(1)
	s.metrics.MessagesRouted.Inc()
	s.events.OnChatMessage(msg)
	s.events.OnStats(s.msgCount.Load(), s.aiReqCount.Load())

	if msg.Target == protocol.TargetPublic {
		s.broadcast(msg, msg.SenderID)
		return
	}
	// Unicast; offline targets are a silent drop, nothing is queued.
	if target := s.registry.Get(msg.Target); target != nil {
		if err := target.send(msg); err != nil {
			logger.Debugf("[Server] unicast to %s failed: %v", msg.Target, err)
		}
	}
}

func (s *Server) handleTyping(state *connState, env protocol.Envelope) {
	ts := env.(*protocol.TypingStatus)
	s.broadcast(ts, ts.SenderID)
}

func (s *Server) handlePing(state *connState, _ protocol.Envelope) {
	if err := state.sess.send(protocol.NewPong()); err != nil {
		logger.Debugf("[Server] pong to %s failed: %v", state.sess.UserID, err)
	}
}

func (s *Server) handleAIRequest(state *connState, env protocol.Envelope) {
	req := env.(*protocol.AIAnalysisRequest)
	s.aiReqCount.Add(1)
	s.metrics.AIRequests.Inc()
	s.events.OnAIRequest(state.sess.UserID, req)
	s.events.OnStats(s.msgCount.Load(), s.aiReqCount.Load())
	s.aiPool.submit(state.sess.UserID, req)
}

// broadcast sends env to every session except excludeUser. The recipient
// snapshot is taken under the registry lock, writes happen on the fanout pool.
func (s *Server) broadcast(env protocol.Envelope, excludeUser string) {
	payload, err := json.Marshal(env)
	if err != nil {
		logger.Errorf("[Server] broadcast marshal: %v", err)
		return
	}
	s.metrics.Broadcasts.Inc()
	s.fanout.Broadcast(s.registry.Snapshot(excludeUser), payload)
}

// sendToUser delivers env to one user if still online; a missing session is a
// silent drop (the AI pool relies on this after long-running calls).
func (s *Server) sendToUser(userID string, env protocol.Envelope) {
	if sess := s.registry.Get(userID); sess != nil {
		if err := sess.send(env); err != nil {
			logger.Debugf("[Server] send to %s failed: %v", userID, err)
		}
	}
}
