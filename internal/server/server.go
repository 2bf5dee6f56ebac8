package server

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/lucaszengool/puppydiary-sub001/internal/auth"
	"github.com/lucaszengool/puppydiary-sub001/internal/favorites"
	"github.com/lucaszengool/puppydiary-sub001/internal/hub"
	"github.com/lucaszengool/puppydiary-sub001/internal/ledger"
	"github.com/lucaszengool/puppydiary-sub001/internal/metrics"
	"github.com/lucaszengool/puppydiary-sub001/internal/orders"
	"github.com/lucaszengool/puppydiary-sub001/internal/ratelimit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config holds server configuration.
type Config struct {
	Addr      string
	TLSDomain string
	// AdminKey guards /api/admin. Empty disables the admin routes.
	AdminKey    string
	AutocertDir string
	// TrustedProxies may set X-Forwarded-For. Empty means the peer address
	// identifies anonymous callers.
	TrustedProxies auth.TrustedProxies
}

// Deps are the components the handlers call into.
type Deps struct {
	Ledger    *ledger.Ledger
	Quota     *ratelimit.QuotaGuard
	Throttle  *ratelimit.Throttle
	Favorites *favorites.Service
	Orders    *orders.Service
	Hub       *hub.Hub
	// Validator may be nil, in which case every caller is anonymous.
	Validator auth.TokenValidator
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Log       *zap.Logger
}

// Server is the bones HTTP/WebSocket server.
type Server struct {
	deps      Deps
	config    Config
	log       *zap.Logger
	http      *http.Server
	challenge *http.Server
}

func New(deps Deps, cfg Config) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if cfg.AutocertDir == "" {
		cfg.AutocertDir = ".autocert-cache"
	}
	s := &Server{
		deps:   deps,
		config: cfg,
		log:    deps.Log,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.deps.Validator, s.config.TrustedProxies, s.log))

		r.Route("/api", func(r chi.Router) {
			r.Get("/user-limits", s.handleQuotaCheck)
			r.Post("/user-limits", s.handleQuotaRecord)
			r.Post("/share", s.handleCreateShare)
			r.Get("/share/{shareId}", s.handleGetShare)
			r.Post("/generations/authorize", s.handleAuthorize)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRegistered)
				r.Get("/bones", s.handleGetBones)
				r.Post("/bones", s.handlePostBones)
				r.Get("/favorites", s.handleListFavorites)
				r.Post("/favorites", s.handleUpdateFavorites)
				r.Get("/orders", s.handleListOrders)
				r.Post("/orders", s.handlePlaceOrder)
			})

			r.Get("/admin/accounts/{userId}", s.handleAdminAccount)
			r.Get("/admin/orders", s.handleAdminOrders)
			r.Put("/admin/orders/{orderId}", s.handleAdminUpdateOrder)
		})

		r.With(auth.RequireRegistered).Get("/ws", s.handleWS)
	})

	return r
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("bones server starting", zap.String("addr", s.config.Addr), zap.Bool("tls", s.config.TLSDomain != ""))

	var err error
	if s.config.TLSDomain != "" {
		m := &autocert.Manager{
			Cache:      autocert.DirCache(s.config.AutocertDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.config.TLSDomain),
		}

		// HTTP challenge server on :80
		s.challenge = &http.Server{Addr: ":80", Handler: m.HTTPHandler(nil), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			s.log.Info("ACME HTTP challenge server on :80")
			if err := s.challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("challenge server error", zap.Error(err))
			}
		}()

		s.http.TLSConfig = &tls.Config{GetCertificate: m.GetCertificate}
		err = s.http.ListenAndServeTLS("", "")
	} else {
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and drops feed connections, which
// http.Server does not track once hijacked.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("graceful shutdown initiated")
	if s.deps.Hub != nil {
		if n := s.deps.Hub.CloseAll(); n > 0 {
			s.log.Info("closed feed connections", zap.Int("count", n))
		}
	}
	var errs []error
	if s.challenge != nil {
		errs = append(errs, s.challenge.Shutdown(ctx))
	}
	errs = append(errs, s.http.Shutdown(ctx))
	return errors.Join(errs...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	body := map[string]interface{}{
		"status":     "ok",
		"alloc_mb":   float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":     float64(memStats.Sys) / 1024 / 1024,
		"goroutines": runtime.NumGoroutine(),
	}
	if h := s.deps.Hub; h != nil {
		body["connections"] = h.ConnectionCount()
		body["subscriptions"] = h.SubscriptionCount()
		body["uptime_sec"] = int64(time.Since(h.StartTime()).Seconds())
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) checkAdmin(r *http.Request) bool {
	if s.config.AdminKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Key")), []byte(s.config.AdminKey)) == 1
}

// instrument records request metrics under the matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.deps.Metrics.HTTPRequest(r.Method, route, status, elapsed)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
