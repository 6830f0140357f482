package api

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/easeaico/soullink/internal/auth"
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(s.opts.AllowedOrigins) == 0 {
				return true
			}
			return slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin)
		},
	}
}

// handleWebSocket upgrades first and authenticates after, so a bad token is
// reported with a close frame the client can read.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = auth.BearerToken(r)
	}

	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	user, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			closeSocket(ws, websocket.ClosePolicyViolation, "Invalid authentication token")
			return
		}
		slog.Error("websocket authentication failed", "error", err)
		closeSocket(ws, websocket.CloseInternalServerErr, "Internal error")
		return
	}

	conn, err := s.hub.Register(user.ID, ws)
	if err != nil {
		closeSocket(ws, websocket.CloseGoingAway, "Server shutting down")
		return
	}
	s.hub.Serve(conn)
}

func (s *Server) handleWebSocketStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"total_connections": s.hub.ConnectionCount(),
		"unique_users":      s.hub.UserCount(),
	})
}

func closeSocket(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = ws.Close()
}
