package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucaszengool/puppydiary-sub001/internal/auth"
	"github.com/lucaszengool/puppydiary-sub001/internal/metrics"
	"github.com/lucaszengool/puppydiary-sub001/internal/protocol"
	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

const (
	MaxAnonymousGenerations = 2
	AnonymousWindow         = 24 * time.Hour
)

// ErrQuotaExceeded means the anonymous caller must register to continue.
var ErrQuotaExceeded = errors.New("generation limit reached")

// QuotaConfig is the anonymous generation policy.
type QuotaConfig struct {
	MaxGenerations int
	Window         time.Duration
}

func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{MaxGenerations: MaxAnonymousGenerations, Window: AnonymousWindow}
}

// Status is the quota state of one identity.
type Status struct {
	Allowed    bool
	Registered bool
	Used       int
	// Max is protocol.UnlimitedGenerations for registered users.
	Max     int
	ResetAt time.Time
}

// QuotaGuard caps anonymous generations per IP in a fixed, non-sliding
// window. Registered identities are never counted; the ledger gates them.
// The check-and-increment happens inside the store, so guards in separate
// processes sharing a store share one budget.
type QuotaGuard struct {
	store   store.QuotaStore
	cfg     QuotaConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewQuotaGuard(s store.QuotaStore, cfg QuotaConfig, opts ...Option) *QuotaGuard {
	o := buildOptions(opts)
	return &QuotaGuard{
		store:   s,
		cfg:     cfg,
		log:     o.log,
		metrics: o.metrics,
		now:     o.now,
	}
}

func registeredStatus() Status {
	return Status{Allowed: true, Registered: true, Max: protocol.UnlimitedGenerations}
}

// expired reports whether entry's window has fully elapsed at now.
func (g *QuotaGuard) expired(entry store.QuotaEntry, now time.Time) bool {
	return now.Sub(entry.WindowStart) > g.cfg.Window
}

// Check reports the identity's quota without changing it.
func (g *QuotaGuard) Check(ctx context.Context, id auth.Identity) (Status, error) {
	if id.IsRegistered() {
		g.metrics.QuotaDecision("check", "registered")
		return registeredStatus(), nil
	}

	now := g.now()
	st := Status{Max: g.cfg.MaxGenerations, ResetAt: now.Add(g.cfg.Window)}

	entry, err := g.store.LoadQuota(ctx, id.Key())
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return Status{}, fmt.Errorf("quota: load %s: %w", id.Key(), err)
	case !g.expired(entry, now):
		st.Used = entry.Count
		st.ResetAt = entry.WindowStart.Add(g.cfg.Window)
	}

	st.Allowed = st.Used < st.Max
	if st.Allowed {
		g.metrics.QuotaDecision("check", "allowed")
	} else {
		g.metrics.QuotaDecision("check", "denied")
	}
	return st, nil
}

// Record consumes one anonymous generation. When the window is exhausted it
// returns ErrQuotaExceeded with the current status and leaves the count alone.
func (g *QuotaGuard) Record(ctx context.Context, id auth.Identity) (Status, error) {
	if id.IsRegistered() {
		g.metrics.QuotaDecision("record", "registered")
		return registeredStatus(), nil
	}

	entry, counted, err := g.store.IncrementQuota(ctx, id.Key(), g.cfg.MaxGenerations, g.cfg.Window, g.now())
	if err != nil {
		return Status{}, fmt.Errorf("quota: record %s: %w", id.Key(), err)
	}

	st := Status{
		Allowed: counted,
		Used:    entry.Count,
		Max:     g.cfg.MaxGenerations,
		ResetAt: entry.WindowStart.Add(g.cfg.Window),
	}
	if !counted {
		g.metrics.QuotaDecision("record", "denied")
		g.log.Info("anonymous quota exhausted", zap.String("ip", id.Key()), zap.Int("used", entry.Count))
		return st, ErrQuotaExceeded
	}

	g.metrics.QuotaDecision("record", "allowed")
	return st, nil
}

// Sweep deletes entries whose window has expired. It uses the same expiry
// predicate as Record, so it never removes a live window.
func (g *QuotaGuard) Sweep(ctx context.Context) (int, error) {
	removed, err := g.store.DeleteExpiredQuotas(ctx, g.now().Add(-g.cfg.Window))
	if err != nil {
		return 0, fmt.Errorf("quota: sweep: %w", err)
	}
	if removed > 0 {
		g.log.Info("swept expired quota entries", zap.Int("removed", removed))
	}
	return removed, nil
}

// Run sweeps every interval until ctx is cancelled.
func (g *QuotaGuard) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := g.Sweep(ctx); err != nil {
				g.log.Warn("quota sweep failed", zap.Error(err))
			}
		}
	}
}
