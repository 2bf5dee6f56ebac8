// Package ledger tracks per-user bones balances.
//
// Every mutation of one user's account runs under that user's lock, so the
// read-compare-write in Consume and AwardShareReward is atomic with respect to
// other ledger calls in this process. Durable stores add persistence, not
// cross-process locking.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/lucaszengool/puppydiary-sub001/internal/keylock"
	"github.com/lucaszengool/puppydiary-sub001/internal/metrics"
	"github.com/lucaszengool/puppydiary-sub001/internal/protocol"
	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

const (
	DefaultStartingBones = 5
	DefaultShareReward   = 1
	DefaultRewardWindow  = 24 * time.Hour
)

// Config holds ledger policy.
type Config struct {
	StartingBones int64
	ShareReward   int64
	RewardWindow  time.Duration
	// PublicBaseURL is the origin share links are built on.
	PublicBaseURL string
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		StartingBones: DefaultStartingBones,
		ShareReward:   DefaultShareReward,
		RewardWindow:  DefaultRewardWindow,
		PublicBaseURL: "http://localhost:3000",
	}
}

// Store is the persistence the ledger needs.
type Store interface {
	store.AccountStore
	store.ShareStore
}

// BalanceEvent describes a committed balance change.
type BalanceEvent struct {
	UserID string
	Bones  int64
	Reason string
	At     time.Time
}

// Notifier receives balance events after they are persisted.
type Notifier interface {
	Publish(ev BalanceEvent)
}

// Result is the outcome of a balance mutation.
type Result struct {
	Success bool
	Bones   int64
	Message string
	Code    string
}

// Ledger is the bones credit ledger.
type Ledger struct {
	store    Store
	cfg      Config
	locks    *keylock.Map
	log      *zap.Logger
	metrics  *metrics.Metrics
	notifier Notifier
	now      func() time.Time
}

type Option func(*Ledger)

func WithLogger(l *zap.Logger) Option { return func(lg *Ledger) { lg.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(lg *Ledger) { lg.metrics = m } }

func WithNotifier(n Notifier) Option { return func(lg *Ledger) { lg.notifier = n } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(lg *Ledger) { lg.now = now } }

func New(s Store, cfg Config, opts ...Option) *Ledger {
	l := &Ledger{
		store: s,
		cfg:   cfg,
		locks: keylock.New(),
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetBalance returns the user's account, creating it with the starting
// balance on first access.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (store.Account, error) {
	if userID == "" {
		return store.Account{}, NewValidationError("userId", "is required")
	}
	unlock := l.locks.Lock(userID)
	defer unlock()
	return l.loadOrCreate(ctx, userID)
}

// LookupAccount returns an existing account without creating one.
func (l *Ledger) LookupAccount(ctx context.Context, userID string) (store.Account, error) {
	acct, err := l.store.LoadAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return store.Account{}, fmt.Errorf("ledger: load account %s: %w", userID, err)
	}
	return acct, nil
}

// Snapshot calls fn with the user's account while holding the user's lock.
// Balance changes publish under the same lock, so none is delivered while fn
// runs.
func (l *Ledger) Snapshot(ctx context.Context, userID string, fn func(store.Account)) error {
	if userID == "" {
		return NewValidationError("userId", "is required")
	}
	unlock := l.locks.Lock(userID)
	defer unlock()
	acct, err := l.loadOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	fn(acct)
	return nil
}

// Consume debits amount bones. A debit larger than the balance fails with
// ErrInsufficientBalance and leaves the balance untouched.
func (l *Ledger) Consume(ctx context.Context, userID string, amount int64) (Result, error) {
	if userID == "" {
		return Result{}, NewValidationError("userId", "is required")
	}
	if amount < 1 {
		return Result{}, NewValidationError("amount", "must be at least 1")
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	acct, err := l.loadOrCreate(ctx, userID)
	if err != nil {
		l.metrics.LedgerOp("consume", "error")
		return Result{}, err
	}

	if acct.Bones < amount {
		l.metrics.LedgerOp("consume", "insufficient")
		return Result{
			Success: false,
			Bones:   acct.Bones,
			Message: "Insufficient bones",
			Code:    protocol.ErrInsufficientBones,
		}, ErrInsufficientBalance
	}

	acct.Bones -= amount
	acct.UpdatedAt = l.now()
	if err := l.store.SaveAccount(ctx, acct); err != nil {
		l.metrics.LedgerOp("consume", "error")
		return Result{}, fmt.Errorf("ledger: save account %s: %w", userID, err)
	}

	l.metrics.LedgerOp("consume", "ok")
	l.publish(acct, protocol.ReasonConsume)
	l.log.Debug("bones consumed", zap.String("user", userID), zap.Int64("amount", amount), zap.Int64("bones", acct.Bones))

	return Result{
		Success: true,
		Bones:   acct.Bones,
		Message: fmt.Sprintf("Consumed %d bone(s)", amount),
	}, nil
}

// AwardShareReward grants the share bonus at most once per reward window.
// A repeat claim inside the window is reported through Result, not an error.
func (l *Ledger) AwardShareReward(ctx context.Context, userID string) (Result, error) {
	if userID == "" {
		return Result{}, NewValidationError("userId", "is required")
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	acct, err := l.loadOrCreate(ctx, userID)
	if err != nil {
		l.metrics.LedgerOp("share_reward", "error")
		return Result{}, err
	}

	now := l.now()
	if acct.LastShareReward != nil {
		if elapsed := now.Sub(*acct.LastShareReward); elapsed < l.cfg.RewardWindow {
			l.metrics.LedgerOp("share_reward", "already_claimed")
			hours := int(math.Ceil((l.cfg.RewardWindow - elapsed).Hours()))
			return Result{
				Success: false,
				Bones:   acct.Bones,
				Message: fmt.Sprintf("Share reward already claimed, try again in %dh", hours),
				Code:    protocol.ErrRewardAlreadyClaimed,
			}, nil
		}
	}

	acct.Bones += l.cfg.ShareReward
	acct.LastShareReward = &now
	acct.UpdatedAt = now
	if err := l.store.SaveAccount(ctx, acct); err != nil {
		l.metrics.LedgerOp("share_reward", "error")
		return Result{}, fmt.Errorf("ledger: save account %s: %w", userID, err)
	}

	l.metrics.LedgerOp("share_reward", "ok")
	l.publish(acct, protocol.ReasonShareReward)
	l.log.Info("share reward granted", zap.String("user", userID), zap.Int64("bones", acct.Bones))

	return Result{
		Success: true,
		Bones:   acct.Bones,
		Message: fmt.Sprintf("Thanks for sharing! +%d bone(s)", l.cfg.ShareReward),
	}, nil
}

// loadOrCreate must be called with the user's lock held.
func (l *Ledger) loadOrCreate(ctx context.Context, userID string) (store.Account, error) {
	acct, err := l.store.LoadAccount(ctx, userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Account{}, fmt.Errorf("ledger: load account %s: %w", userID, err)
	}

	now := l.now()
	acct = store.Account{
		UserID:    userID,
		Bones:     l.cfg.StartingBones,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.SaveAccount(ctx, acct); err != nil {
		return store.Account{}, fmt.Errorf("ledger: create account %s: %w", userID, err)
	}
	l.log.Info("account created", zap.String("user", userID), zap.Int64("bones", acct.Bones))
	return acct, nil
}

func (l *Ledger) publish(acct store.Account, reason string) {
	if l.notifier == nil {
		return
	}
	l.notifier.Publish(BalanceEvent{
		UserID: acct.UserID,
		Bones:  acct.Bones,
		Reason: reason,
		At:     acct.UpdatedAt,
	})
}
