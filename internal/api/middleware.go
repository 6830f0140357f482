package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/easeaico/soullink/internal/auth"
)

// SecurityHeaders wraps a handler with standard security headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// LimitBody caps request bodies; decode reports the overflow as 413.
func LimitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
					"error":          "Payload too large",
					"max_size_bytes": limit,
				})
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS allows the configured origins. An empty list allows none.
func CORS(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (slices.Contains(origins, "*") || slices.Contains(origins, origin)) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request and feeds the request counters.
func RequestLogger(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.observe(status)
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Metrics counts requests by outcome.
type Metrics struct {
	Requests     atomic.Int64
	ClientErrors atomic.Int64
	ServerErrors atomic.Int64
	RateLimited  atomic.Int64
}

func (m *Metrics) observe(status int) {
	m.Requests.Add(1)
	switch {
	case status == http.StatusTooManyRequests:
		m.RateLimited.Add(1)
		m.ClientErrors.Add(1)
	case status >= 500:
		m.ServerErrors.Add(1)
	case status >= 400:
		m.ClientErrors.Add(1)
	}
}

// RateLimiter tracks request counts per IP within a fixed window.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rateBucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a limiter with the given request limit per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*rateBucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether the request from ip is within the limit. When it is
// not, retryAfter is the time left in the window.
func (rl *RateLimiter) Allow(ip string) (ok bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, found := rl.clients[ip]
	if !found || !now.Before(bucket.resetAt) {
		rl.clients[ip] = &rateBucket{count: 1, resetAt: now.Add(rl.window)}
		rl.sweepLocked(now)
		return true, 0
	}
	bucket.count++
	if bucket.count <= rl.limit {
		return true, 0
	}
	return false, bucket.resetAt.Sub(now)
}

// sweepLocked drops expired buckets once the map grows large.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if len(rl.clients) < 10000 {
		return
	}
	for ip, b := range rl.clients {
		if !now.Before(b.resetAt) {
			delete(rl.clients, ip)
		}
	}
}

// RateLimits are per-minute request budgets by endpoint group.
var RateLimits = struct {
	Chat, Read, Write, Map, Souls, Time int
}{
	Chat:  30,
	Read:  100,
	Write: 10,
	Map:   60,
	Souls: 40,
	Time:  10,
}

// limit wraps a handler with rl; a nil limiter disables the check.
func limit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retry := rl.Allow(clientIP(r))
			if !ok {
				secs := max(1, int(retry.Round(time.Second)/time.Second))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				slog.Warn("rate limit exceeded", "ip", clientIP(r), "path", r.URL.Path)
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":       "Neural Link Overloaded. Too many requests. Please slow down.",
					"retry_after": secs,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	} else if xr := r.Header.Get("X-Real-IP"); xr != "" {
		ip = xr
	}
	// Strip port from RemoteAddr (e.g. "127.0.0.1:54321" -> "127.0.0.1")
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ip
}

// requireUser resolves the bearer token to a local user, provisioning it on
// first sight.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Missing bearer token.")
			return
		}
		user, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "Invalid or expired token.")
				return
			}
			slog.Error("authentication failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
			writeError(w, http.StatusServiceUnavailable, "Authentication service unavailable.")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}
