package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucaszengool/puppydiary-sub001/internal/auth"
	"github.com/lucaszengool/puppydiary-sub001/internal/config"
	"github.com/lucaszengool/puppydiary-sub001/internal/favorites"
	"github.com/lucaszengool/puppydiary-sub001/internal/hub"
	"github.com/lucaszengool/puppydiary-sub001/internal/ledger"
	"github.com/lucaszengool/puppydiary-sub001/internal/metrics"
	"github.com/lucaszengool/puppydiary-sub001/internal/orders"
	"github.com/lucaszengool/puppydiary-sub001/internal/ratelimit"
	"github.com/lucaszengool/puppydiary-sub001/internal/server"
	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and balance feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err = buildLogger(cfg.Log)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var validator auth.TokenValidator
	if cfg.Auth.JWKSURL != "" {
		v, err := auth.NewJWTValidator(ctx, cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			return err
		}
		validator = v
	} else {
		log.Warn("no jwks_url configured, every caller is anonymous")
	}

	proxies, err := auth.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	h := hub.NewHub(hub.WithLogger(log.Named("hub")), hub.WithMetrics(m))
	led := ledger.New(st, ledger.Config{
		StartingBones: cfg.Ledger.StartingBones,
		ShareReward:   cfg.Ledger.ShareReward,
		RewardWindow:  cfg.Ledger.RewardWindow,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	}, ledger.WithLogger(log.Named("ledger")), ledger.WithMetrics(m), ledger.WithNotifier(h))
	quota := ratelimit.NewQuotaGuard(st, ratelimit.QuotaConfig{
		MaxGenerations: cfg.Quota.MaxGenerations,
		Window:         cfg.Quota.Window,
	}, ratelimit.WithLogger(log.Named("quota")), ratelimit.WithMetrics(m))
	throttle := ratelimit.NewThrottle(cfg.Throttle.PerMinute, cfg.Throttle.Burst,
		ratelimit.WithLogger(log.Named("throttle")), ratelimit.WithMetrics(m))

	srv := server.New(server.Deps{
		Ledger:    led,
		Quota:     quota,
		Throttle:  throttle,
		Favorites: favorites.New(st, favorites.WithLogger(log.Named("favorites"))),
		Orders:    orders.New(st, orders.WithLogger(log.Named("orders"))),
		Hub:       h,
		Validator: validator,
		Metrics:   m,
		Gatherer:  reg,
		Log:       log.Named("http"),
	}, server.Config{
		Addr:           cfg.Server.Addr,
		TLSDomain:      cfg.Server.TLSDomain,
		AdminKey:       cfg.Server.AdminKey,
		TrustedProxies: proxies,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error { return quota.Run(gctx, cfg.Quota.SweepInterval) })
	g.Go(func() error { return throttle.Run(gctx, cfg.Throttle.SweepInterval) })
	g.Go(func() error { return h.Run(gctx, hub.DefaultCleanupInterval) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore picks the durable store from config and, when Redis is
// configured, moves anonymous quotas there.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	var base store.Store
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("using in-memory store, state is lost on restart")
		base = store.NewMemoryStore()
	default:
		s, err := store.OpenSQL(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
		}
		base = s
	}

	if cfg.Redis.Addr == "" {
		return base, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		base.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	log.Info("anonymous quotas stored in redis", zap.String("addr", cfg.Redis.Addr))
	return store.WithQuotaStore(base, store.NewRedisQuotaStore(rdb, cfg.Redis.Prefix, cfg.Quota.Window)), nil
}
