// Package hub fans committed balance changes out to users' live WebSocket
// connections.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lucaszengool/puppydiary-sub001/internal/ledger"
	"github.com/lucaszengool/puppydiary-sub001/internal/metrics"
	"github.com/lucaszengool/puppydiary-sub001/internal/protocol"
	"github.com/lucaszengool/puppydiary-sub001/internal/ratelimit"
	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

const (
	// IdleSubscriptionTimeout is how long a subscription with no connections stays in memory.
	IdleSubscriptionTimeout = 30 * time.Minute
	// DefaultCleanupInterval is how often Run scans for idle subscriptions.
	DefaultCleanupInterval = 5 * time.Minute
)

// Hub tracks feed subscriptions and implements ledger.Notifier.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	connCount atomic.Int64
	startTime time.Time

	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option { return func(h *Hub) { h.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(h *Hub) { h.metrics = m } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(h *Hub) { h.now = now } }

var _ ledger.Notifier = (*Hub)(nil)

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs: make(map[string]*Subscription),
		log:  zap.NewNop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startTime = h.now()
	return h
}

func (h *Hub) ConnectionCount() int64 {
	return h.connCount.Load()
}

// StartTime returns when the hub was created.
func (h *Hub) StartTime() time.Time {
	return h.startTime
}

// SubscriptionCount returns the number of users with a subscription.
func (h *Hub) SubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Subscribe attaches conn to its user's subscription.
func (h *Hub) Subscribe(conn *Connection) *Subscription {
	now := h.now()
	h.mu.Lock()
	sub, ok := h.subs[conn.UserID]
	if !ok {
		sub = newSubscription(conn.UserID, now)
		h.subs[conn.UserID] = sub
	}
	sub.add(conn, now)
	h.mu.Unlock()

	h.connCount.Add(1)
	h.metrics.FeedConnected()
	h.log.Debug("feed subscribed", zap.String("user", conn.UserID), zap.Int("connections", sub.Len()))
	return sub
}

// SubscribeWithSnapshot subscribes conn and queues the current balance as its
// first message. Changes committed before the snapshot are folded into it;
// later ones follow it in order.
func (h *Hub) SubscribeWithSnapshot(ctx context.Context, l *ledger.Ledger, conn *Connection) error {
	return l.Snapshot(ctx, conn.UserID, func(acct store.Account) {
		h.Subscribe(conn)
		data, err := protocol.EncodeEnvelope(protocol.TypeBalance, protocol.BalancePayload{
			Bones:  acct.Bones,
			Reason: protocol.ReasonSnapshot,
		})
		if err != nil {
			h.log.Error("encode snapshot", zap.Error(err))
			return
		}
		conn.Enqueue(data)
	})
}

// Unsubscribe detaches conn and closes its Done channel.
func (h *Hub) Unsubscribe(conn *Connection) {
	if conn == nil {
		return
	}
	h.mu.RLock()
	sub, ok := h.subs[conn.UserID]
	h.mu.RUnlock()
	conn.CloseDone()
	if !ok || !sub.remove(conn, h.now()) {
		return
	}
	h.connCount.Add(-1)
	h.metrics.FeedDisconnected()
	h.log.Debug("feed unsubscribed", zap.String("user", conn.UserID))
}

// Publish delivers a balance envelope to every connection of ev.UserID.
func (h *Hub) Publish(ev ledger.BalanceEvent) {
	h.mu.RLock()
	sub, ok := h.subs[ev.UserID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	conns := sub.Connections()
	if len(conns) == 0 {
		return
	}

	env, err := protocol.NewEnvelope(protocol.TypeBalance, protocol.BalancePayload{Bones: ev.Bones, Reason: ev.Reason})
	if err != nil {
		h.log.Error("encode balance envelope", zap.Error(err))
		return
	}
	if !ev.At.IsZero() {
		env.TS = ev.At.UnixMilli()
	}
	data, err := env.Marshal()
	if err != nil {
		h.log.Error("marshal balance envelope", zap.Error(err))
		return
	}
	for _, c := range conns {
		if !c.Enqueue(data) {
			h.log.Warn("balance update dropped", zap.String("user", ev.UserID))
		}
	}
}

// HandleMessage processes one inbound frame from conn.
func (h *Hub) HandleMessage(conn *Connection, raw []byte) error {
	if len(raw) > ratelimit.MaxFeedMessageSize {
		return h.sendError(conn, protocol.ErrInvalidMessage, "Message too large", 0)
	}
	if conn.Limiter != nil && !conn.Limiter.Allow() {
		return h.sendError(conn, protocol.ErrRateLimited, "Rate limit exceeded", 2000)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return h.sendError(conn, protocol.ErrInvalidMessage, "Invalid JSON message")
	}

	switch env.Type {
	case protocol.TypePing:
		data, err := protocol.EncodeEnvelope(protocol.TypePong, nil)
		if err != nil {
			return err
		}
		conn.Enqueue(data)
		return nil
	default:
		return h.sendError(conn, protocol.ErrInvalidMessage, "Unsupported message type", 0)
	}
}

func (h *Hub) sendError(conn *Connection, code, message string, retryMs ...int64) error {
	payload := protocol.ErrorPayload{Code: code, Message: message}
	if len(retryMs) > 0 {
		payload.RetryAfterMs = retryMs[0]
	}
	data, err := protocol.EncodeEnvelope(protocol.TypeError, payload)
	if err != nil {
		h.log.Error("encode error envelope", zap.Error(err))
		return err
	}
	conn.Enqueue(data)
	return nil
}

// CloseUser drops every connection of userID.
func (h *Hub) CloseUser(userID string) int {
	h.mu.Lock()
	sub, ok := h.subs[userID]
	delete(h.subs, userID)
	h.mu.Unlock()
	if !ok {
		return 0
	}
	conns := sub.Connections()
	for _, c := range conns {
		c.CloseDone()
		h.metrics.FeedDisconnected()
	}
	h.connCount.Add(-int64(len(conns)))
	return len(conns)
}

// CloseAll drops every connection, for shutdown.
func (h *Hub) CloseAll() int {
	h.mu.RLock()
	users := make([]string, 0, len(h.subs))
	for userID := range h.subs {
		users = append(users, userID)
	}
	h.mu.RUnlock()

	var closed int
	for _, userID := range users {
		closed += h.CloseUser(userID)
	}
	return closed
}

// Run removes idle subscriptions every interval until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.cleanIdle()
		}
	}
}

func (h *Hub) cleanIdle() int {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed int
	for userID, sub := range h.subs {
		if sub.IsIdle(now, IdleSubscriptionTimeout) {
			delete(h.subs, userID)
			removed++
		}
	}
	if removed > 0 {
		h.log.Info("cleaned idle subscriptions", zap.Int("removed", removed), zap.Int("remaining", len(h.subs)))
	}
	return removed
}
