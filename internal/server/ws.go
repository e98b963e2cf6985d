package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/hub"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/recognizer"
)

// upgrader accepts any origin: the daemon already serves CORS to all
// origins and the protocol carries no credentials.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// inboundFrame is the generic inbound message envelope. Data stays raw
// until the type discriminator selects a payload shape.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Inbound frame types.
const (
	frameTypePing     = "ping"
	frameTypeFaceData = "face_data"
)

// handleWS runs the recognition session protocol for one connection.
//
// The session state machine is Connecting -> Open -> Closed. Registration
// with the hub happens on upgrade; unregistration is deferred so it runs on
// every exit path, including errors; a dead session must never linger in
// the broadcast set. Within the session, frames are processed strictly in
// arrival order and each produces at most one reply before the next read.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn(c.Request().Context(), "websocket upgrade failed", zap.Error(err))
		return nil
	}

	session := hub.NewWSSession(conn)
	ctx := logging.ContextWithSessionID(context.Background(), session.ID())

	h := s.registry.Hub()
	h.Register(ctx, session)
	defer func() {
		h.Unregister(ctx, session)
		_ = session.Close()
	}()

	for {
		raw, err := session.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn(ctx, "session read error", zap.Error(err))
			}
			return nil
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Malformed input is dropped, not fatal to the session.
			continue
		}

		switch frame.Type {
		case frameTypePing:
			h.Unicast(ctx, session, hub.Pong())

		case frameTypeFaceData:
			var fd recognizer.FaceData
			if err := json.Unmarshal(frame.Data, &fd); err != nil {
				continue
			}
			result, ok := s.registry.Recognizer().Recognize(ctx, fd)
			if !ok {
				continue
			}
			h.Unicast(ctx, session, hub.Frame{
				Type: hub.TypeRecognitionResult,
				Data: result,
			})

		default:
			// Unrecognized types are ignored with no reply.
		}
	}
}
