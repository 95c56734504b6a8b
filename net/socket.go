// Original code derived from https://github.com/ortuman/jackal

package net

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const maxMessageSize = 64 * 1024

type socketTransport struct {
	conn         *websocket.Conn
	keepAlive    time.Duration
	writeTimeout time.Duration
	wmu          sync.Mutex
	closed       atomic.Bool
}

// NewSocketTransport wraps an upgraded websocket connection. With a non-zero
// keepAlive, reads fail once the peer stays silent (no message, no pong) for
// that long.
func NewSocketTransport(conn *websocket.Conn, keepAlive time.Duration, writeTimeout time.Duration) Transport {
	s := &socketTransport{
		conn:         conn,
		keepAlive:    keepAlive,
		writeTimeout: writeTimeout,
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})
	return s
}

func (s *socketTransport) extendReadDeadline() {
	if s.keepAlive > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.keepAlive))
	}
}

func (s *socketTransport) ReadMessage() ([]byte, error) {
	s.extendReadDeadline()
	for {
		kind, msg, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (s *socketTransport) deadline() time.Time {
	if s.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.writeTimeout)
}

func (s *socketTransport) WriteMessage(msg []byte) error {
	if s.Closed() {
		return ErrTransportClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.conn.SetWriteDeadline(s.deadline())
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *socketTransport) Ping() error {
	if s.Closed() {
		return ErrTransportClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, s.deadline())
}

func (s *socketTransport) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		// Don't try and close again if something already closed the socket.
		return nil
	}

	s.wmu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.conn.Close()
}

func (s *socketTransport) Closed() bool {
	return s.closed.Load()
}

func (s *socketTransport) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
