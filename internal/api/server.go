// Package api exposes SoulLink over HTTP and WebSocket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/easeaico/soullink/internal/auth"
	"github.com/easeaico/soullink/internal/chat"
	"github.com/easeaico/soullink/internal/linkstate"
	"github.com/easeaico/soullink/internal/location"
	"github.com/easeaico/soullink/internal/memory"
	"github.com/easeaico/soullink/internal/realtime"
	"github.com/easeaico/soullink/internal/stability"
	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

// Store is the persistence the handlers read directly.
type Store interface {
	Ping(ctx context.Context) error
	GetSoul(ctx context.Context, soulID string) (*types.Soul, error)
	ListSouls(ctx context.Context) ([]types.Soul, error)
	GetDefinition(ctx context.Context, soulID string) (*types.SoulDefinition, error)
	GetLocation(ctx context.Context, locationID string) (*types.Location, error)
	ListLinksForUser(ctx context.Context, userID string) ([]types.LinkState, error)
	UpdateTimeSlot(ctx context.Context, userID string, slot types.TimeSlot) error
	GetActivePersona(ctx context.Context, userID string) (*types.UserPersona, error)
	ListPersonas(ctx context.Context, userID string) ([]types.UserPersona, error)
	CreatePersona(ctx context.Context, persona types.UserPersona) (*types.UserPersona, error)
	ActivatePersona(ctx context.Context, userID string, personaID uint) (*types.UserPersona, error)
	UpdateProfile(ctx context.Context, userID string, patch storage.ProfilePatch) (*types.UserPersona, error)
}

// AdKeys are the ad SDK identifiers served to clients.
type AdKeys struct {
	AppLovinSDKKey string
	TapjoySDKKey   string
	TapjoyAppID    string
}

// Options tunes the server.
type Options struct {
	Production     bool
	Version        string
	ArchitectUUID  string
	RateLimit      bool
	AllowedOrigins []string
	Ads            AdKeys
	// MaxConnections marks the server overloaded in /health/ready.
	MaxConnections int
}

// Deps wires a Server.
type Deps struct {
	Store     Store
	Auth      *auth.Authenticator
	Links     *linkstate.Service
	Chat      *chat.Pipeline
	Resolver  *location.Resolver
	World     *location.World
	Stability *stability.Engine
	Hub       *realtime.Hub
	Memory    *memory.Summarizer
}

// Server holds the handlers' dependencies.
type Server struct {
	store     Store
	auth      *auth.Authenticator
	links     *linkstate.Service
	chat      *chat.Pipeline
	resolver  *location.Resolver
	world     *location.World
	stability *stability.Engine
	hub       *realtime.Hub
	memory    *memory.Summarizer
	opts      Options
	metrics   *Metrics
	started   time.Time
	now       func() time.Time
}

// NewServer creates a Server.
func NewServer(d Deps, opts Options) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 500
	}
	return &Server{
		store:     d.Store,
		auth:      d.Auth,
		links:     d.Links,
		chat:      d.Chat,
		resolver:  d.Resolver,
		world:     d.World,
		stability: d.Stability,
		hub:       d.Hub,
		memory:    d.Memory,
		opts:      opts,
		metrics:   &Metrics{},
		started:   time.Now(),
		now:       time.Now,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.metrics))
	r.Use(SecurityHeaders)
	r.Use(CORS(s.opts.AllowedOrigins))
	r.Use(LimitBody(MaxBodyBytes))

	chatLimit := s.limiter(RateLimits.Chat)
	readLimit := s.limiter(RateLimits.Read)
	writeLimit := s.limiter(RateLimits.Write)
	mapLimit := s.limiter(RateLimits.Map)
	soulsLimit := s.limiter(RateLimits.Souls)
	timeLimit := s.limiter(RateLimits.Time)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/health/metrics", s.handleMetrics)
	r.Get("/core/config", s.handleCoreConfig)
	r.Get("/ws/connect", s.handleWebSocket)
	r.Get("/ws/stats", s.handleWebSocketStats)
	r.With(soulsLimit).Get("/souls/{soulID}", s.handleSoulProfile)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.With(chatLimit).Post("/chat/send", s.handleChatSend)
		r.With(readLimit).Get("/chat/history", s.handleChatHistory)
		r.With(readLimit).Get("/chat/memory", s.handleChatMemory)

		r.With(soulsLimit).Get("/souls/explore", s.handleExplore)
		r.With(writeLimit).Post("/souls/{soulID}/link", s.handleLink)
		r.With(readLimit).Get("/souls/{soulID}/relationship", s.handleRelationship)
		r.With(readLimit).Get("/souls/{soulID}/memories", s.handleSoulMemories)
		r.With(writeLimit).Post("/souls/{soulID}/relocate", s.handleRelocate)

		r.With(mapLimit).Get("/map/locations", s.handleMapLocations)
		r.With(mapLimit).Post("/map/move", s.handleMapMove)
		r.With(timeLimit).Post("/time/advance", s.handleTimeAdvance)

		r.With(writeLimit).Post("/ads/reward", s.handleAdReward)
		r.With(readLimit).Get("/ads/config", s.handleAdConfig)
		r.With(readLimit).Get("/user/stability", s.handleUserStability)
		r.With(writeLimit).Post("/user/nsfw-toggle", s.handleNSFWToggle)

		r.With(readLimit).Get("/users/me", s.handleMe)
		r.With(readLimit).Get("/users/personas", s.handleListPersonas)
		r.With(writeLimit).Post("/users/personas", s.handleCreatePersona)
		r.With(writeLimit).Post("/users/personas/{personaID}/activate", s.handleActivatePersona)
		r.With(writeLimit).Patch("/users/update", s.handleUpdateProfile)

		r.With(readLimit).Get("/sync/dashboard", s.handleDashboard)
	})
	return r
}

func (s *Server) limiter(perMinute int) func(http.Handler) http.Handler {
	if !s.opts.RateLimit {
		return limit(nil)
	}
	return limit(NewRateLimiter(perMinute, time.Minute))
}

// Metrics exposes the request counters.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) currentUser(r *http.Request) *types.User {
	return auth.UserFrom(r.Context())
}

func (s *Server) isGlobalArchitect(userID string) bool {
	return s.opts.ArchitectUUID != "" && userID == s.opts.ArchitectUUID
}
