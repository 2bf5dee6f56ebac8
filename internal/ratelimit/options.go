package ratelimit

import (
	"time"

	"go.uber.org/zap"

	"github.com/lucaszengool/puppydiary-sub001/internal/metrics"
)

type options struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a QuotaGuard or Throttle.
type Option func(*options)

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
