package api

import (
	"context"
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	database := "connected"
	if err := s.store.Ping(ctx); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
		database = "unreachable"
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"version":  s.opts.Version,
		"database": database,
		"cache": map[string]any{
			"world_state_entries": s.resolver.CacheLen(),
		},
		"websocket": map[string]any{
			"connections":  s.hub.ConnectionCount(),
			"unique_users": s.hub.UserCount(),
		},
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// handleReady reports overloaded once live sockets pass MaxConnections.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	conns := s.hub.ConnectionCount()
	if conns > s.opts.MaxConnections {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":      "overloaded",
			"connections": conns,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"connections": conns,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"requests_total":      s.metrics.Requests.Load(),
		"client_errors_total": s.metrics.ClientErrors.Load(),
		"server_errors_total": s.metrics.ServerErrors.Load(),
		"rate_limited_total":  s.metrics.RateLimited.Load(),
		"ws_connections":      s.hub.ConnectionCount(),
		"ws_unique_users":     s.hub.UserCount(),
		"uptime_seconds":      int64(time.Since(s.started).Seconds()),
	}
	for k, v := range s.chat.Stats().Snapshot() {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCoreConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":          s.opts.Version,
		"maintenance_mode": false,
		"features": map[string]bool{
			"chronicle":     true,
			"soul_memory":   s.memory != nil,
			"rewarded_ads":  s.opts.Ads.AppLovinSDKKey != "" || s.opts.Ads.TapjoySDKKey != "",
			"realtime_push": true,
		},
	})
}
