// Package stability meters chat usage through signal stability and redeems
// verified ad rewards.
package stability

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/easeaico/soullink/internal/gatekeeper"
	"github.com/easeaico/soullink/internal/linkstate"
	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

var (
	// ErrDepleted is returned when a link has no stability left.
	ErrDepleted = errors.New("signal stability depleted")
	// ErrInvalidSignature is returned for SSV payloads that fail verification.
	ErrInvalidSignature = errors.New("invalid reward signature")
	// ErrDuplicateReward is returned when a network event was already redeemed.
	ErrDuplicateReward = errors.New("reward already redeemed")
	// ErrIdentityMismatch is returned when the caller claims another user's reward.
	ErrIdentityMismatch = errors.New("reward identity mismatch")
	// ErrNoLink is returned when a stability reward targets a missing link.
	ErrNoLink = errors.New("no active soul link")
	// ErrUnknownReward is returned for unsupported reward types.
	ErrUnknownReward = errors.New("unknown reward type")
)

// Reward types.
const (
	RewardStabilityBoost = "stability_boost"
	RewardOverdrive      = "overdrive"
)

// Store is the persistence the engine needs.
type Store interface {
	GetLink(ctx context.Context, userID, soulID string) (*types.LinkState, error)
	GrantOverdrive(ctx context.Context, imp *types.AdImpression, until time.Time) error
}

// Crediter credits a link's stability together with its audit row.
type Crediter interface {
	CreditStability(ctx context.Context, link *types.LinkState, amount float64, reason string, opts ...linkstate.CreditOption) (*types.LinkState, error)
}

// Config tunes the engine.
type Config struct {
	DecayRate        float64
	Secret           string
	OverdriveWindow  time.Duration
	BoostAmount      float64
	WarningThreshold float64
	Cooldown         time.Duration
	// MaxAge rejects signed payloads older than this. Zero disables the check.
	MaxAge time.Duration
}

// Engine applies decay policy and redeems rewards.
type Engine struct {
	store Store
	links Crediter
	cfg   Config
	now   func() time.Time
}

// NewEngine creates an Engine with defaults for unset values.
func NewEngine(store Store, links Crediter, cfg Config) *Engine {
	if cfg.DecayRate < 0 {
		cfg.DecayRate = 0
	}
	if cfg.OverdriveWindow <= 0 {
		cfg.OverdriveWindow = 10 * time.Minute
	}
	if cfg.BoostAmount <= 0 || cfg.BoostAmount > 100 {
		cfg.BoostAmount = 100
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 20
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Engine{store: store, links: links, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Check rejects a turn when the link has no budget left.
func (e *Engine) Check(link *types.LinkState) error {
	if !gatekeeper.CanChat(link) {
		return ErrDepleted
	}
	return nil
}

// DecayFor returns how much stability a turn costs. Architects and users in
// overdrive pay nothing.
func (e *Engine) DecayFor(link *types.LinkState, user *types.User, now time.Time) float64 {
	if link.IsArchitect {
		return 0
	}
	if user.OverdriveActive(now) {
		return 0
	}
	return e.cfg.DecayRate
}

// SSVPayload is the server-side verification callback of an ad network.
type SSVPayload struct {
	UserID         string `json:"user_id"`
	SoulID         string `json:"soul_id,omitempty"`
	Network        string `json:"network"`
	NetworkEventID string `json:"network_event_id"`
	RewardType     string `json:"reward_type"`
	Placement      string `json:"placement,omitempty"`
	Timestamp      int64  `json:"timestamp"`
	Signature      string `json:"signature"`
}

// CanonicalString is the message covered by the signature.
func (p SSVPayload) CanonicalString() string {
	return strings.Join([]string{
		p.UserID,
		p.Network,
		p.NetworkEventID,
		p.RewardType,
		strconv.FormatInt(p.Timestamp, 10),
	}, "|")
}

// Sign computes the hex HMAC-SHA256 of the payload.
func Sign(secret string, p SSVPayload) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(p.CanonicalString()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature and freshness of p.
func (e *Engine) Verify(p SSVPayload) error {
	if e.cfg.Secret == "" || p.Signature == "" {
		return ErrInvalidSignature
	}
	expected := Sign(e.cfg.Secret, p)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(p.Signature))) {
		return ErrInvalidSignature
	}
	if e.cfg.MaxAge > 0 {
		issued := time.Unix(p.Timestamp, 0)
		if e.now().Sub(issued) > e.cfg.MaxAge {
			return fmt.Errorf("%w: payload expired", ErrInvalidSignature)
		}
	}
	return nil
}

// Redemption is the effect of a redeemed reward.
type Redemption struct {
	RewardType     string
	Link           *types.LinkState
	OverdriveUntil *time.Time
}

// Redeem verifies p on behalf of callerID and applies the reward atomically
// with its audit row.
func (e *Engine) Redeem(ctx context.Context, callerID string, p SSVPayload) (*Redemption, error) {
	if p.UserID != callerID {
		slog.Warn("reward identity mismatch", "caller", callerID, "claimed", p.UserID)
		return nil, ErrIdentityMismatch
	}
	if err := e.Verify(p); err != nil {
		slog.Warn("invalid ssv signature", "user_id", p.UserID, "network", p.Network)
		return nil, err
	}

	now := e.now().UTC()
	imp := types.AdImpression{
		UserID:         p.UserID,
		SoulID:         p.SoulID,
		Network:        p.Network,
		NetworkEventID: p.NetworkEventID,
		Placement:      p.Placement,
		RewardType:     p.RewardType,
		SSVVerified:    true,
		CreatedAt:      now,
	}
	if imp.Placement == "" {
		imp.Placement = p.RewardType
	}
	result := &Redemption{RewardType: p.RewardType}

	var err error
	switch p.RewardType {
	case RewardStabilityBoost:
		var link *types.LinkState
		link, err = e.store.GetLink(ctx, p.UserID, p.SoulID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ErrNoLink
			}
			return nil, err
		}
		imp.Type = "rewarded"
		result.Link, err = e.links.CreditStability(ctx, link, e.cfg.BoostAmount, linkstate.ReasonRewardedAd, linkstate.WithImpression(imp))
	case RewardOverdrive:
		until := now.Add(e.cfg.OverdriveWindow)
		imp.Type = "billboard"
		imp.RewardAmount = e.cfg.OverdriveWindow.Minutes()
		err = e.store.GrantOverdrive(ctx, &imp, until)
		result.OverdriveUntil = &until
	default:
		return nil, ErrUnknownReward
	}
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			return nil, ErrDuplicateReward
		case errors.Is(err, linkstate.ErrNoLink):
			return nil, ErrNoLink
		}
		return nil, fmt.Errorf("failed to redeem reward: %w", err)
	}
	slog.Info("reward granted", "user_id", p.UserID, "soul_id", p.SoulID, "reward_type", p.RewardType, "network", p.Network)
	return result, nil
}
