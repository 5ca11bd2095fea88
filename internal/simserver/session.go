package simserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const sessionQueue = 64

// session owns the write side of one client connection.
type session struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn: conn,
		out:  make(chan []byte, sessionQueue),
		done: make(chan struct{}),
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case b := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.close()
				return
			}
		}
	}
}

// send queues a frame, blocking until there is room. It reports false once
// the session is closed.
func (s *session) send(b []byte) bool {
	select {
	case s.out <- b:
		return true
	case <-s.done:
		return false
	}
}

// trySend queues a frame unless the queue is full. Slow clients miss ticks.
func (s *session) trySend(b []byte) {
	select {
	case s.out <- b:
	case <-s.done:
	default:
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
