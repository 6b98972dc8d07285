package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

const writeTimeout = 5 * time.Second

// streamEvents forwards the decision's bus events to a WebSocket client as
// JSON messages until either side goes away. Client messages are ignored.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		Error(w, http.StatusServiceUnavailable, "event stream is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetDecision(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}

	// Subscribe before the upgrade so nothing published after the handshake is missed.
	sub := s.bus.Subscribe(id)
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("server: websocket accept failed", "decision_id", id, "error", err)
		return
	}
	defer conn.CloseNow()

	s.logger.Debug("server: event stream opened", "decision_id", id)
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("server: event stream closed by client", "decision_id", id)
			return
		case ev, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				s.logger.Debug("server: event stream write failed", "decision_id", id, "error", err)
				return
			}
		}
	}
}
