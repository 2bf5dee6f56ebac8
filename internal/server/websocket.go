package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lucaszengool/puppydiary-sub001/internal/auth"
	"github.com/lucaszengool/puppydiary-sub001/internal/hub"
	"github.com/lucaszengool/puppydiary-sub001/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = ratelimit.MaxFeedMessageSize
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "", "Balance feed unavailable")
		return
	}
	userID := auth.FromContext(r.Context()).UserID()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("ws upgrade error", zap.Error(err))
		return
	}

	conn := hub.NewConnection(ws, userID, ratelimit.NewFeedLimiter())
	if err := s.deps.Hub.SubscribeWithSnapshot(r.Context(), s.deps.Ledger, conn); err != nil {
		s.log.Error("balance snapshot failed", zap.String("user", userID), zap.Error(err))
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "balance unavailable"),
			time.Now().Add(writeWait))
		ws.Close()
		return
	}

	go HandleConnection(s.deps.Hub, conn, s.log)
}

// HandleConnection runs the pumps of a subscribed feed connection and
// unsubscribes it when the socket closes.
func HandleConnection(h *hub.Hub, conn *hub.Connection, log *zap.Logger) {
	ws := conn.WS
	defer ws.Close()
	defer h.Unsubscribe(conn)

	ws.SetReadLimit(int64(maxMessageSize))
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go writePump(conn)

	readPump(h, conn, log)
}

func readPump(h *hub.Hub, conn *hub.Connection, log *zap.Logger) {
	for {
		_, raw, err := conn.WS.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("ws read error", zap.String("user", conn.UserID), zap.Error(err))
			}
			return
		}
		conn.WS.SetReadDeadline(time.Now().Add(pongWait))

		if err := h.HandleMessage(conn, raw); err != nil {
			log.Warn("ws message error", zap.String("user", conn.UserID), zap.Error(err))
		}
	}
}

// writePump owns all writes to the socket. Closing Done makes it send a close
// frame, which unblocks the read pump.
func writePump(conn *hub.Connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-conn.Send:
			conn.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WS.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.WS.Close()
				return
			}

		case <-ticker.C:
			conn.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.WS.Close()
				return
			}

		case <-conn.Done:
			conn.WS.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(writeWait))
			conn.WS.Close()
			return
		}
	}
}
