// Package client implements the PetChat connection manager: dial, register,
// heartbeat, and automatic reconnection with exponential backoff.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"PetChat/logger"
	"PetChat/protocol"
	"PetChat/tools/errs"
)

// State is the connection lifecycle phase.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Config holds dial target, identity and timing knobs.
type Config struct {
	Host     string
	Port     int
	UserID   string
	UserName string
	Avatar   string

	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	RegisterTimeout   time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
}

func (c *Config) norm() error {
	if c.UserID == "" {
		return errs.Configf("user_id is required")
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 8888
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 3 * c.HeartbeatInterval
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = 10 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	return nil
}

// Manager owns one logical connection to the server. Start spins up the run
// loop; Stop tears it down for good, Stop is terminal.
type Manager struct {
	conf   Config
	events Events

	mu      sync.Mutex
	state   State
	conn    net.Conn
	writeMu sync.Mutex

	attempt  int
	lastPong atomic.Int64
	stopped  atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewManager(conf Config, events Events) (*Manager, error) {
	if err := conf.norm(); err != nil {
		return nil, err
	}
	if events == nil {
		events = NopEvents{}
	}
	return &Manager{
		conf:   conf,
		events: events,
		state:  StateDisconnected,
		stopCh: make(chan struct{}),
	}, nil
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the run loop. It returns immediately; connection progress
// arrives through OnConnectionStateChanged.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop closes the connection and ends reconnection permanently.
func (m *Manager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	close(m.stopCh)
	m.mu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.setState(StateDisconnected)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.events.OnConnectionStateChanged(s)
	}
}

// run is the connect/serve/backoff loop. It exits only on Stop.
func (m *Manager) run() {
	defer m.wg.Done()
	for {
		if m.stopped.Load() {
			return
		}
		if m.attempt == 0 {
			m.setState(StateConnecting)
		} else {
			m.setState(StateReconnecting)
		}

		conn, err := m.connect()
		if err != nil {
			m.attempt++
			delay := m.reconnectDelay(m.attempt)
			logger.Warnf("[Client] connect attempt %d failed: %v, retrying in %s", m.attempt, err, delay)
			select {
			case <-m.stopCh:
				return
			case <-time.After(delay):
			}
			continue
		}

		// 注册成功，重置退避
		m.attempt = 0
		m.mu.Lock()
		if m.stopped.Load() {
			// Stop 在 connect 期间到达，此时它看不到这条连接
			m.mu.Unlock()
			_ = conn.Close()
			return
		}
		m.conn = conn
		m.mu.Unlock()
		m.lastPong.Store(time.Now().UnixNano())
		m.setState(StateConnected)

		hbDone := make(chan struct{})
		go m.heartbeat(conn, hbDone)
		m.receiveLoop(conn)
		close(hbDone)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		_ = conn.Close()

		if m.stopped.Load() {
			return
		}
		m.setState(StateReconnecting)
		m.attempt++
		delay := m.reconnectDelay(m.attempt)
		logger.Infof("[Client] connection lost, reconnecting in %s", delay)
		select {
		case <-m.stopCh:
			return
		case <-time.After(delay):
		}
	}
}

// connect dials and registers. Registration is synchronous: the connection
// only counts once the server answers with the online_users snapshot.
func (m *Manager) connect() (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", m.conf.Host, m.conf.Port)
	conn, err := net.DialTimeout("tcp", addr, m.conf.RegisterTimeout)
	if err != nil {
		return nil, errs.Wrap(err, "dial")
	}

	reg, err := protocol.Encode(protocol.NewRegister(m.conf.UserID, m.conf.UserName, m.conf.Avatar))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(m.conf.RegisterTimeout))
	if _, err := conn.Write(reg); err != nil {
		_ = conn.Close()
		return nil, errs.Wrap(err, "send register")
	}

	// 其他用户的广播可能先于快照到达，跳过直到拿到 online_users
	_ = conn.SetReadDeadline(time.Now().Add(m.conf.RegisterTimeout))
	for {
		payload, err := protocol.ReadFrame(conn)
		if err == errs.ErrChecksum {
			continue
		}
		if err != nil {
			_ = conn.Close()
			return nil, errs.Wrap(err, "await registration")
		}
		env, err := protocol.Decode(payload)
		if err != nil {
			continue
		}
		if ou, ok := env.(*protocol.OnlineUsers); ok {
			_ = conn.SetReadDeadline(time.Time{})
			_ = conn.SetWriteDeadline(time.Time{})
			m.events.OnOnlineUsers(ou.Users)
			return conn, nil
		}
	}
}

// reconnectDelay is min(max, base * 1.5^(attempt-1)): the first retry after a
// successful registration waits exactly the base delay.
func (m *Manager) reconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(m.conf.ReconnectBase) * math.Pow(1.5, float64(attempt-1)))
	if d > m.conf.ReconnectMax || d <= 0 {
		return m.conf.ReconnectMax
	}
	return d
}

// receiveLoop reads frames until the connection dies.
func (m *Manager) receiveLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		payload, err := protocol.ReadFrame(r)
		if err == errs.ErrChecksum {
			logger.Debug("[Client] dropping corrupt frame")
			continue
		}
		if err != nil {
			return
		}
		env, err := protocol.Decode(payload)
		if err != nil {
			continue
		}
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env protocol.Envelope) {
	switch e := env.(type) {
	case *protocol.ChatMessage:
		m.events.OnMessage(e)
	case *protocol.UserJoined:
		m.events.OnUserJoined(protocol.UserInfo{UserID: e.UserID, UserName: e.UserName, Avatar: e.Avatar})
	case *protocol.UserLeft:
		m.events.OnUserLeft(e.UserID)
	case *protocol.OnlineUsers:
		m.events.OnOnlineUsers(e.Users)
	case *protocol.TypingStatus:
		m.events.OnTyping(e)
	case *protocol.AIEmotion:
		m.events.OnAIEmotion(e)
	case *protocol.AIMemory:
		m.events.OnAIMemory(e)
	case *protocol.AISuggestion:
		m.events.OnAISuggestion(e)
	case *protocol.Pong:
		m.lastPong.Store(time.Now().UnixNano())
	case *protocol.Ping:
		_ = m.send(protocol.NewPong())
	}
}

// heartbeat sends pings and kills the connection when pongs stop coming;
// the run loop then reconnects.
func (m *Manager) heartbeat(conn net.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.conf.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, m.lastPong.Load())) > m.conf.PongTimeout {
				logger.Warn("[Client] heartbeat timed out, dropping connection")
				_ = conn.Close()
				return
			}
			if err := m.send(protocol.NewPing()); err != nil {
				return
			}
		}
	}
}

// send serializes and writes one envelope. Anything but Connected is a drop
// with errs.ErrNotConnected; callers decide whether that matters.
func (m *Manager) send(env protocol.Envelope) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()
	if state != StateConnected || conn == nil {
		logger.Debugf("[Client] dropping %s while %s", env.Kind(), state)
		return errs.ErrNotConnected
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(err, "marshal envelope")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return errs.Wrap(protocol.WriteFrame(conn, payload), "write frame")
}

// SendChat sends a chat message to target ("public" or a user_id).
func (m *Manager) SendChat(target, content string) error {
	return m.send(&protocol.ChatMessage{
		Type:         protocol.KindChatMessage,
		SenderID:     m.conf.UserID,
		SenderName:   m.conf.UserName,
		SenderAvatar: m.conf.Avatar,
		Target:       target,
		Content:      content,
	})
}

// SendTyping broadcasts the typing indicator.
func (m *Manager) SendTyping(isTyping bool) error {
	return m.send(&protocol.TypingStatus{
		Type:       protocol.KindTypingStatus,
		SenderID:   m.conf.UserID,
		SenderName: m.conf.UserName,
		IsTyping:   isTyping,
	})
}

// RequestAIAnalysis submits a context snapshot for the three analyses.
func (m *Manager) RequestAIAnalysis(conversationID string, snapshot []protocol.ContextMessage) error {
	return m.send(&protocol.AIAnalysisRequest{
		Type:            protocol.KindAIAnalysisRequest,
		ConversationID:  conversationID,
		SenderID:        m.conf.UserID,
		SenderName:      m.conf.UserName,
		ContextSnapshot: snapshot,
	})
}
