package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSSession wraps a gorilla websocket connection as a hub Session. Gorilla
// connections allow only one concurrent writer, so all sends serialize on
// an internal mutex: the connection's own reply path and broadcast fan-out
// can race on the same conn.
type WSSession struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWSSession wraps an upgraded websocket connection.
func NewWSSession(conn *websocket.Conn) *WSSession {
	return &WSSession{
		id:   uuid.NewString(),
		conn: conn,
	}
}

// ID implements Session.
func (s *WSSession) ID() string { return s.id }

// Send implements Session. Frames are written as single JSON text messages.
func (s *WSSession) Send(frame Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close implements Session.
func (s *WSSession) Close() error {
	return s.conn.Close()
}

// ReadMessage reads the next inbound text message. Blocks until a frame
// arrives, the peer disconnects, or the connection errors.
func (s *WSSession) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}
