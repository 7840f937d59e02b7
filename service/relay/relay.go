// Package relay implements the frame relay used when two clients cannot
// reach each other directly. A room pairs one host with one guest; frames
// are forwarded verbatim, the relay never inspects chat payloads.
package relay

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"PetChat/logger"
	"PetChat/protocol"
	"PetChat/tools/errs"
)

// Relay error codes sent inside relay_error envelopes.
const (
	CodeInvalidJSON    = "INVALID_JSON"
	CodeInvalidRole    = "INVALID_ROLE"
	CodeInvalidRoom    = "INVALID_ROOM"
	CodeRegisterFailed = "REGISTER_FAILED"
)

const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// Config holds relay listener and liveness settings.
type Config struct {
	Host       string
	Port       int
	StatusPort int // 0 disables the status endpoint

	// StaleAfter drops members that sent nothing for this long.
	StaleAfter    time.Duration
	MonitorPeriod time.Duration
}

func (c *Config) norm() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.MonitorPeriod <= 0 {
		c.MonitorPeriod = 30 * time.Second
	}
}

type member struct {
	conn     net.Conn
	role     string
	writeMu  sync.Mutex
	lastSeen atomic.Int64 // unix nanos
}

func (m *member) touch() { m.lastSeen.Store(time.Now().UnixNano()) }

func (m *member) write(frame []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = m.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := m.conn.Write(frame)
	return err
}

type room struct {
	members map[string]*member // role -> member
}

// Server is the relay. State is the room table; everything else is
// per-connection goroutines.
type Server struct {
	conf  Config
	mu    sync.Mutex
	rooms map[string]*room

	listener net.Listener
	running  atomic.Bool
	conns    sync.Map // net.Conn -> struct{}
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewServer(conf Config) *Server {
	conf.norm()
	return &Server{
		conf:  conf,
		rooms: make(map[string]*room),
		stop:  make(chan struct{}),
	}
}

// Addr returns the bound listener address once Start succeeded.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port))
	if err != nil {
		s.running.Store(false)
		return errs.Wrap(err, "relay listen")
	}
	s.listener = ln
	logger.Infof("[Relay] listening on %s", ln.Addr())

	s.wg.Add(2)
	go s.acceptLoop()
	go s.monitor()

	if s.conf.StatusPort > 0 {
		go s.serveStatus()
	}
	return nil
}

func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stop)
	_ = s.listener.Close()

	s.conns.Range(func(key, _ any) bool {
		_ = key.(net.Conn).Close()
		return true
	})
	s.mu.Lock()
	s.rooms = make(map[string]*room)
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("[Relay] stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				logger.Errorf("[Relay] accept error: %v", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// serveConn drives one relay connection: one relay_register, then pure
// forwarding until the stream dies.
func (s *Server) serveConn(conn net.Conn) {
	s.conns.Store(conn, struct{}{})
	defer func() {
		_ = conn.Close()
		s.conns.Delete(conn)
	}()

	m, roomID, err := s.register(conn)
	if err != nil {
		logger.Debugf("[Relay] registration from %s rejected: %v", conn.RemoteAddr(), err)
		return
	}
	logger.Infof("[Relay] %s joined room %s as %s", conn.RemoteAddr(), roomID, m.role)
	defer s.leave(roomID, m)

	for {
		payload, err := protocol.ReadFrame(conn)
		if err == errs.ErrChecksum {
			continue
		}
		if err != nil {
			return
		}
		m.touch()
		// 原样转发，不解析聊天内容
		s.forward(roomID, m, protocol.Frame(payload))
	}
}

// register reads the opening relay_register and claims the requested role.
// Every rejection sends one relay_error before the connection is dropped.
func (s *Server) register(conn net.Conn) (*member, string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	payload, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, "", errs.Wrap(err, "read register frame")
	}
	_ = conn.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(payload)
	if err != nil {
		s.sendError(conn, CodeInvalidJSON, "first frame must be relay_register")
		return nil, "", err
	}
	reg, ok := env.(*protocol.RelayRegister)
	if !ok {
		s.sendError(conn, CodeInvalidJSON, "first frame must be relay_register")
		return nil, "", errs.ErrInvalidPayload
	}
	if reg.Role != RoleHost && reg.Role != RoleGuest {
		s.sendError(conn, CodeInvalidRole, fmt.Sprintf("role must be %q or %q", RoleHost, RoleGuest))
		return nil, "", errs.Wrapf(errs.ErrInvalidPayload, "role=%q", reg.Role)
	}
	if reg.RoomID == "" {
		s.sendError(conn, CodeInvalidRoom, "room_id is required")
		return nil, "", errs.Wrap(errs.ErrInvalidPayload, "empty room_id")
	}

	m := &member{conn: conn, role: reg.Role}
	m.touch()

	s.mu.Lock()
	rm := s.rooms[reg.RoomID]
	if rm == nil {
		rm = &room{members: make(map[string]*member)}
		s.rooms[reg.RoomID] = rm
	}
	if _, occupied := rm.members[reg.Role]; occupied {
		s.mu.Unlock()
		s.sendError(conn, CodeRegisterFailed, fmt.Sprintf("role %q already taken in room %q", reg.Role, reg.RoomID))
		return nil, "", errs.Wrapf(errs.ErrInvalidPayload, "role %q occupied", reg.Role)
	}
	rm.members[reg.Role] = m
	inRoom := len(rm.members)
	total := s.totalLocked()
	s.mu.Unlock()

	ack := &protocol.RelayAck{
		Type:         protocol.KindRelayAck,
		RoomID:       reg.RoomID,
		Role:         reg.Role,
		ActiveInRoom: inRoom,
		ActiveTotal:  total,
	}
	raw, _ := json.Marshal(ack)
	if err := m.write(protocol.Frame(raw)); err != nil {
		s.leave(reg.RoomID, m)
		return nil, "", errs.Wrap(err, "write relay_ack")
	}
	return m, reg.RoomID, nil
}

// forward delivers frame to every other member of the room.
func (s *Server) forward(roomID string, from *member, frame []byte) {
	s.mu.Lock()
	rm := s.rooms[roomID]
	var peers []*member
	if rm != nil {
		for _, m := range rm.members {
			if m != from {
				peers = append(peers, m)
			}
		}
	}
	s.mu.Unlock()

	for _, p := range peers {
		if err := p.write(frame); err != nil {
			logger.Debugf("[Relay] forward in room %s failed: %v", roomID, err)
		}
	}
}

func (s *Server) leave(roomID string, m *member) {
	s.mu.Lock()
	if rm := s.rooms[roomID]; rm != nil && rm.members[m.role] == m {
		delete(rm.members, m.role)
		if len(rm.members) == 0 {
			delete(s.rooms, roomID)
		}
	}
	s.mu.Unlock()
	logger.Infof("[Relay] %s left room %s", m.role, roomID)
}

func (s *Server) sendError(conn net.Conn, code, msg string) {
	e := &protocol.RelayError{Type: protocol.KindRelayError, Code: code, Message: msg}
	raw, _ := json.Marshal(e)
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, _ = conn.Write(protocol.Frame(raw))
}

// monitor drops members that have been silent past StaleAfter.
func (s *Server) monitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.conf.MonitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.dropStale()
		}
	}
}

func (s *Server) dropStale() {
	cutoff := time.Now().Add(-s.conf.StaleAfter).UnixNano()
	var stale []*member

	s.mu.Lock()
	for roomID, rm := range s.rooms {
		for role, m := range rm.members {
			if m.lastSeen.Load() < cutoff {
				delete(rm.members, role)
				stale = append(stale, m)
				logger.Warnf("[Relay] dropping stale %s from room %s", role, roomID)
			}
		}
		if len(rm.members) == 0 {
			delete(s.rooms, roomID)
		}
	}
	s.mu.Unlock()

	for _, m := range stale {
		_ = m.conn.Close()
	}
}

// totalLocked counts members across all rooms; caller holds s.mu.
func (s *Server) totalLocked() int {
	total := 0
	for _, rm := range s.rooms {
		total += len(rm.members)
	}
	return total
}

// Stats returns a status snapshot for the HTTP endpoint.
func (s *Server) Stats() (active int, rooms map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms = make(map[string]int, len(s.rooms))
	for id, rm := range s.rooms {
		rooms[id] = len(rm.members)
		active += len(rm.members)
	}
	return active, rooms
}
