package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/voice-agent/internal/pipeline"
	"github.com/loqalabs/voice-agent/internal/protocol"
)

const (
	wsReadTimeout  = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleStream accepts one process request per connection and streams answer
// deltas followed by a single result or error frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slogError(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		s.logger.Warn("websocket read failed", slogError(err))
		return
	}
	req, err := decodeProcessRequest(s.schema, raw)
	if err != nil {
		s.send(conn, protocol.StreamEvent{Type: protocol.StreamError, Detail: err.Error()})
		s.close(conn, websocket.CloseInvalidFramePayloadData)
		return
	}

	// Deltas are written from the completion goroutine while Process runs and
	// the final frame after it returns, so writes never overlap.
	writeFailed := false
	resp, err := s.pipeline.Process(r.Context(), pipeline.FromWire(req), func(delta string) {
		if writeFailed {
			return
		}
		if !s.send(conn, protocol.StreamEvent{Type: protocol.StreamDelta, Content: delta}) {
			writeFailed = true
		}
	})
	if err != nil {
		s.send(conn, protocol.StreamEvent{Type: protocol.StreamError, Detail: err.Error()})
		s.close(conn, websocket.CloseInternalServerErr)
		return
	}
	result := resp.Wire()
	s.send(conn, protocol.StreamEvent{Type: protocol.StreamResult, Result: &result})
	s.close(conn, websocket.CloseNormalClosure)
}

func (s *Server) send(conn *websocket.Conn, evt protocol.StreamEvent) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(evt); err != nil {
		s.logger.Debug("websocket write failed", slog.String("type", evt.Type), slogError(err))
		return false
	}
	return true
}

func (s *Server) close(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
