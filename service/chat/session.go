package chat

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"PetChat/protocol"
	"PetChat/tools/errs"
)

const writeDeadline = 10 * time.Second

// FrameConn carries whole protocol frames over some transport. The server
// treats TCP and WebSocket sessions identically behind it.
type FrameConn interface {
	// ReadPayload blocks for one frame and returns its payload. A CRC
	// mismatch returns errs.ErrChecksum with the stream still usable.
	ReadPayload() ([]byte, error)
	// WritePayload frames payload and writes it. Safe for concurrent use.
	WritePayload(payload []byte) error
	Close() error
	RemoteAddr() net.Addr
}

type tcpFrameConn struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
}

func newTCPFrameConn(conn net.Conn) *tcpFrameConn {
	return &tcpFrameConn{conn: conn, r: bufio.NewReaderSize(conn, 4096)}
}

func (c *tcpFrameConn) ReadPayload() ([]byte, error) {
	return protocol.ReadFrame(c.r)
}

func (c *tcpFrameConn) WritePayload(payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return protocol.WriteFrame(c.conn, payload)
}

func (c *tcpFrameConn) Close() error        { return c.conn.Close() }
func (c *tcpFrameConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// wsFrameConn carries one full frame (header + payload) per binary message.
type wsFrameConn struct {
	conn *websocket.Conn

	wmu sync.Mutex
}

func newWSFrameConn(conn *websocket.Conn) *wsFrameConn {
	return &wsFrameConn{conn: conn}
}

func (c *wsFrameConn) ReadPayload() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if len(data) < protocol.HeaderSize {
			return nil, errs.Wrap(errs.ErrInvalidPayload, "short ws frame")
		}
		length, sum := protocol.UnpackHeader(data[:protocol.HeaderSize])
		payload := data[protocol.HeaderSize:]
		if uint32(len(payload)) != length {
			return nil, errs.Wrap(errs.ErrInvalidPayload, "ws frame length mismatch")
		}
		if !protocol.VerifyCRC(payload, sum) {
			return payload, errs.ErrChecksum
		}
		return payload, nil
	}
}

func (c *wsFrameConn) WritePayload(payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteMessage(websocket.BinaryMessage, protocol.Frame(payload))
}

func (c *wsFrameConn) Close() error        { return c.conn.Close() }
func (c *wsFrameConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Session binds a registered user_id to a live connection. One session per
// connection; the registry owns the user_id → session mapping.
type Session struct {
	ConnID   string
	UserID   string
	UserName string
	Avatar   string

	conn   FrameConn
	remote string
}

func (s *Session) Remote() string { return s.remote }

func (s *Session) Info() protocol.UserInfo {
	return protocol.UserInfo{UserID: s.UserID, UserName: s.UserName, Avatar: s.Avatar}
}

func (s *Session) send(e protocol.Envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.conn.WritePayload(payload)
}

func (s *Session) sendPayload(payload []byte) error {
	return s.conn.WritePayload(payload)
}
