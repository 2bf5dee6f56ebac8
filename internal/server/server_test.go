package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaszengool/puppydiary-sub001/internal/auth"
	"github.com/lucaszengool/puppydiary-sub001/internal/favorites"
	"github.com/lucaszengool/puppydiary-sub001/internal/hub"
	"github.com/lucaszengool/puppydiary-sub001/internal/ledger"
	"github.com/lucaszengool/puppydiary-sub001/internal/metrics"
	"github.com/lucaszengool/puppydiary-sub001/internal/orders"
	"github.com/lucaszengool/puppydiary-sub001/internal/protocol"
	"github.com/lucaszengool/puppydiary-sub001/internal/ratelimit"
	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

const testAdminKey = "admin-secret"

// tokenValidator accepts "tok-<userID>" bearer tokens.
type tokenValidator struct{}

func (tokenValidator) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	if sub, ok := strings.CutPrefix(token, "tok-"); ok && sub != "" {
		return &auth.Claims{Subject: sub}, nil
	}
	return nil, errors.New("bad token")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	clock    *fakeClock
	registry *prometheus.Registry
	hub      *hub.Hub
}

type envOption func(*Deps, *store.MemoryStore)

func withThrottle(perMinute, burst int) envOption {
	return func(d *Deps, _ *store.MemoryStore) {
		d.Throttle = ratelimit.NewThrottle(perMinute, burst)
	}
}

func withLedgerStore(s ledger.Store) envOption {
	return func(d *Deps, _ *store.MemoryStore) {
		d.Ledger = ledger.New(s, ledger.DefaultConfig())
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mem := store.NewMemoryStore()
	h := hub.NewHub(hub.WithMetrics(m))

	cfg := ledger.DefaultConfig()
	cfg.PublicBaseURL = "https://petpo.example"
	deps := Deps{
		Ledger:    ledger.New(mem, cfg, ledger.WithClock(clock.Now), ledger.WithNotifier(h), ledger.WithMetrics(m)),
		Quota:     ratelimit.NewQuotaGuard(mem, ratelimit.DefaultQuotaConfig(), ratelimit.WithClock(clock.Now), ratelimit.WithMetrics(m)),
		Throttle:  ratelimit.NewThrottle(100, 100),
		Favorites: favorites.New(mem, favorites.WithClock(clock.Now)),
		Orders:    orders.New(mem, orders.WithClock(clock.Now)),
		Hub:       h,
		Validator: tokenValidator{},
		Metrics:   m,
		Gatherer:  reg,
	}
	for _, opt := range opts {
		opt(&deps, mem)
	}
	// httptest requests come from 192.0.2.1.
	proxies, err := auth.ParseTrustedProxies([]string{"192.0.2.0/24"})
	require.NoError(t, err)
	srv := New(deps, Config{Addr: ":0", AdminKey: testAdminKey, TrustedProxies: proxies})
	return &testEnv{srv: srv, handler: srv.Routes(), clock: clock, registry: reg, hub: h}
}

type call struct {
	method string
	path   string
	user   string
	ip     string
	peer   string
	body   interface{}
	header map[string]string
}

func (e *testEnv) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	if c.user != "" {
		req.Header.Set("Authorization", "Bearer tok-"+c.user)
	}
	if c.ip != "" {
		req.Header.Set("X-Forwarded-For", c.ip)
	}
	if c.peer != "" {
		req.RemoteAddr = c.peer
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestBonesRequiresRegistration(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, call{method: http.MethodGet, path: "/api/bones"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())

	rec = env.do(t, call{method: http.MethodGet, path: "/api/bones", header: map[string]string{"Authorization": "Bearer nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBonesConsumeFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, call{method: http.MethodGet, path: "/api/bones", user: "user_1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bones":5,"lastShareReward":null}`, rec.Body.String())

	three := int64(3)
	rec = env.do(t, call{method: http.MethodPost, path: "/api/bones", user: "user_1", body: protocol.BonesRequest{Action: "consume", Amount: &three}})
	require.Equal(t, http.StatusOK, rec.Code)
	var ok protocol.BonesResponse
	decodeBody(t, rec, &ok)
	assert.True(t, ok.Success)
	assert.Equal(t, int64(2), ok.Bones)
	assert.Equal(t, "Consumed 3 bone(s)", ok.Message)

	rec = env.do(t, call{method: http.MethodPost, path: "/api/bones", user: "user_1", body: protocol.BonesRequest{Action: "consume", Amount: &three}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var failed protocol.BonesError
	decodeBody(t, rec, &failed)
	assert.Equal(t, "INSUFFICIENT_BONES", failed.Code)
	assert.Equal(t, int64(2), failed.Bones)
	assert.NotEmpty(t, failed.Error)

	rec = env.do(t, call{method: http.MethodPost, path: "/api/bones", user: "user_1", body: map[string]string{"action": "consume"}})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &ok)
	assert.Equal(t, int64(1), ok.Bones)
}

func TestBonesRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	zero := int64(0)
	rec := env.do(t, call{method: http.MethodPost, path: "/api/bones", user: "user_1", body: protocol.BonesRequest{Action: "consume", Amount: &zero}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), protocol.ErrValidation)

	rec = env.do(t, call{method: http.MethodPost, path: "/api/bones", user: "user_1", body: map[string]string{"action": "steal"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid action"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/api/bones", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer tok-user_1")
	bad := httptest.NewRecorder()
	env.handler.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestAwardShareOncePerWindow(t *testing.T) {
	env := newTestEnv(t)
	award := map[string]string{"action": "award_share"}

	rec := env.do(t, call{method: http.MethodPost, path: "/api/bones", user: "user_1", body: award})
	require.Equal(t, http.StatusOK, rec.Code)
	var ok protocol.BonesResponse
	decodeBody(t, rec, &ok)
	assert.Equal(t, int64(6), ok.Bones)

	rec = env.do(t, call{method: http.MethodPost, path: "/api/bones", user: "user_1", body: award})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var failed map[string]interface{}
	decodeBody(t, rec, &failed)
	assert.Equal(t, float64(6), failed["bones"])
	assert.NotEmpty(t, failed["error"])

	rec = env.do(t, call{method: http.MethodGet, path: "/api/bones", user: "user_1"})
	var bal protocol.BalanceResponse
	decodeBody(t, rec, &bal)
	require.NotNil(t, bal.LastShareReward)
	assert.Equal(t, "2026-03-01T12:00:00Z", *bal.LastShareReward)

	env.clock.Advance(24 * time.Hour)
	rec = env.do(t, call{method: http.MethodPost, path: "/api/bones", user: "user_1", body: award})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &ok)
	assert.Equal(t, int64(7), ok.Bones)
}

func TestUserLimitsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	ip := "1.2.3.4"

	rec := env.do(t, call{method: http.MethodGet, path: "/api/user-limits", ip: ip})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"canGenerate":true,"isRegistered":false,"generationsUsed":0,"maxGenerations":2}`, rec.Body.String())

	for want := 1; want <= 2; want++ {
		rec = env.do(t, call{method: http.MethodPost, path: "/api/user-limits", ip: ip})
		require.Equal(t, http.StatusOK, rec.Code)
		var res protocol.QuotaRecordResponse
		decodeBody(t, rec, &res)
		assert.True(t, res.Success)
		assert.Equal(t, want, res.GenerationsUsed)
		assert.Equal(t, 2, res.MaxGenerations)
	}

	rec = env.do(t, call{method: http.MethodPost, path: "/api/user-limits", ip: ip})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var denied protocol.QuotaExceededResponse
	decodeBody(t, rec, &denied)
	assert.True(t, denied.RequiresRegistration)
	assert.Equal(t, 2, denied.GenerationsUsed)
	assert.Equal(t, 2, denied.MaxGenerations)
	assert.NotEmpty(t, denied.Error)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/user-limits", ip: ip})
	assert.JSONEq(t, `{"canGenerate":false,"isRegistered":false,"generationsUsed":2,"maxGenerations":2}`, rec.Body.String())

	// A different IP has its own budget.
	rec = env.do(t, call{method: http.MethodPost, path: "/api/user-limits", ip: "5.6.7.8"})
	assert.Equal(t, http.StatusOK, rec.Code)

	env.clock.Advance(24*time.Hour + time.Millisecond)
	rec = env.do(t, call{method: http.MethodGet, path: "/api/user-limits", ip: ip})
	assert.JSONEq(t, `{"canGenerate":true,"isRegistered":false,"generationsUsed":0,"maxGenerations":2}`, rec.Body.String())
}

func TestUserLimitsIgnoreForwardingFromUntrustedPeer(t *testing.T) {
	env := newTestEnv(t)
	peer := "203.0.113.9:4000"

	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2"} {
		rec := env.do(t, call{method: http.MethodPost, path: "/api/user-limits", ip: spoofed, peer: peer})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(t, call{method: http.MethodPost, path: "/api/user-limits", ip: "3.3.3.3", peer: peer})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestUserLimitsRegistered(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, call{method: http.MethodGet, path: "/api/user-limits", user: "user_1"})
	assert.JSONEq(t, `{"canGenerate":true,"isRegistered":true,"generationsUsed":0,"maxGenerations":-1}`, rec.Body.String())

	for i := 0; i < 3; i++ {
		rec = env.do(t, call{method: http.MethodPost, path: "/api/user-limits", user: "user_1"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestShareFlow(t *testing.T) {
	env := newTestEnv(t)
	body := protocol.ShareRequest{ImageURL: "https://cdn.example/rex.png", Title: "Rex", Style: "monet"}

	rec := env.do(t, call{method: http.MethodPost, path: "/api/share", body: body})
	require.Equal(t, http.StatusOK, rec.Code)
	var guest protocol.ShareResponse
	decodeBody(t, rec, &guest)
	assert.Len(t, guest.ShareID, 24)
	assert.Equal(t, "https://petpo.example/share/"+guest.ShareID, guest.ShareLink)
	assert.False(t, guest.BoneReward.Awarded)
	assert.Equal(t, "Guest user", guest.BoneReward.Message)

	for want := int64(1); want <= 2; want++ {
		rec = env.do(t, call{method: http.MethodGet, path: "/api/share/" + guest.ShareID})
		require.Equal(t, http.StatusOK, rec.Code)
		var shared protocol.ShareRecord
		decodeBody(t, rec, &shared)
		assert.Equal(t, want, shared.ViewCount)
		assert.Equal(t, "monet pet portrait", shared.Description)
		assert.True(t, strings.HasPrefix(shared.UserID, "guest_"), shared.UserID)
	}

	rec = env.do(t, call{method: http.MethodPost, path: "/api/share", user: "user_1", body: body})
	require.Equal(t, http.StatusOK, rec.Code)
	var owned protocol.ShareResponse
	decodeBody(t, rec, &owned)
	assert.True(t, owned.BoneReward.Awarded)
	assert.Equal(t, int64(6), owned.BoneReward.Bones)

	rec = env.do(t, call{method: http.MethodPost, path: "/api/share", user: "user_1", body: body})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &owned)
	assert.False(t, owned.BoneReward.Awarded)
	assert.Equal(t, int64(6), owned.BoneReward.Bones)
}

func TestShareErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, call{method: http.MethodPost, path: "/api/share", body: protocol.ShareRequest{ImageURL: "x", Title: "Rex"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing required fields")

	rec = env.do(t, call{method: http.MethodGet, path: "/api/share/does-not-exist"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), protocol.ErrNotFound)
}

func TestFavorites(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, call{method: http.MethodGet, path: "/api/favorites", user: "user_1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"favorites":[]}`, rec.Body.String())

	for _, id := range []string{"art_1", "art_2", "art_1"} {
		rec = env.do(t, call{method: http.MethodPost, path: "/api/favorites", user: "user_1", body: protocol.FavoritesRequest{ArtworkID: id, Action: "add"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String())
		env.clock.Advance(time.Second)
	}
	rec = env.do(t, call{method: http.MethodPost, path: "/api/favorites", user: "user_1", body: protocol.FavoritesRequest{ArtworkID: "art_1", Action: "remove"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/favorites", user: "user_1"})
	assert.JSONEq(t, `{"favorites":["art_2"]}`, rec.Body.String())

	rec = env.do(t, call{method: http.MethodPost, path: "/api/favorites", user: "user_1", body: protocol.FavoritesRequest{Action: "add"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, call{method: http.MethodPost, path: "/api/favorites", user: "user_1", body: protocol.FavoritesRequest{ArtworkID: "art_1", Action: "toggle"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/favorites"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthorizeAnonymous(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		rec := env.do(t, call{method: http.MethodPost, path: "/api/generations/authorize", ip: "9.9.9.9"})
		require.Equal(t, http.StatusOK, rec.Code)
		var res protocol.AuthorizeResponse
		decodeBody(t, rec, &res)
		assert.True(t, res.Allowed)
		require.NotNil(t, res.GenerationsUsed)
		assert.Equal(t, i+1, *res.GenerationsUsed)
	}

	rec := env.do(t, call{method: http.MethodPost, path: "/api/generations/authorize", ip: "9.9.9.9"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var res protocol.AuthorizeResponse
	decodeBody(t, rec, &res)
	assert.False(t, res.Allowed)
	assert.Equal(t, protocol.ErrQuotaExceeded, res.Code)
}

func TestAuthorizeRegisteredSpendsBones(t *testing.T) {
	env := newTestEnv(t)

	for want := int64(4); want >= 0; want-- {
		rec := env.do(t, call{method: http.MethodPost, path: "/api/generations/authorize", user: "user_1"})
		require.Equal(t, http.StatusOK, rec.Code)
		var res protocol.AuthorizeResponse
		decodeBody(t, rec, &res)
		assert.True(t, res.Allowed)
		assert.True(t, res.IsRegistered)
		require.NotNil(t, res.Bones)
		assert.Equal(t, want, *res.Bones)
	}

	rec := env.do(t, call{method: http.MethodPost, path: "/api/generations/authorize", user: "user_1"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var res protocol.AuthorizeResponse
	decodeBody(t, rec, &res)
	assert.False(t, res.Allowed)
	assert.Equal(t, protocol.ErrInsufficientBones, res.Code)
}

func TestAuthorizeThrottled(t *testing.T) {
	env := newTestEnv(t, withThrottle(1, 1))

	rec := env.do(t, call{method: http.MethodPost, path: "/api/generations/authorize", user: "user_1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, call{method: http.MethodPost, path: "/api/generations/authorize", user: "user_1"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	var res protocol.AuthorizeResponse
	decodeBody(t, rec, &res)
	assert.Equal(t, protocol.ErrRateLimited, res.Code)
	assert.Greater(t, res.RetryAfter, int64(0))

	// Throttling happens before spending, so the balance is untouched.
	rec = env.do(t, call{method: http.MethodGet, path: "/api/bones", user: "user_1"})
	assert.JSONEq(t, `{"bones":4,"lastShareReward":null}`, rec.Body.String())
}

func TestAdminAccount(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, call{method: http.MethodGet, path: "/api/admin/accounts/user_1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/admin/accounts/user_1", header: map[string]string{"X-Admin-Key": testAdminKey + "x"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Looking up an unknown user must not open an account for them.
	admin := map[string]string{"X-Admin-Key": testAdminKey}
	rec = env.do(t, call{method: http.MethodGet, path: "/api/admin/accounts/user_1", header: admin})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, call{method: http.MethodGet, path: "/api/admin/accounts/user_1", header: admin})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/bones", user: "user_1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/admin/accounts/user_1", header: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	var acct protocol.AccountResponse
	decodeBody(t, rec, &acct)
	assert.Equal(t, "user_1", acct.UserID)
	assert.Equal(t, int64(5), acct.Bones)
	assert.Equal(t, "2026-03-01T12:00:00Z", acct.CreatedAt)
}

func orderRequest(price float64) protocol.OrderRequest {
	return protocol.OrderRequest{
		ProductID:   "canvas-30",
		ProductName: "Canvas print",
		Size:        "30x40",
		Price:       price,
		CustomerInfo: protocol.CustomerInfo{
			Name:    "Ann",
			Phone:   "555-0100",
			Address: "1 Bark Street",
		},
	}
}

func TestOrdersFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, call{method: http.MethodPost, path: "/api/orders", body: orderRequest(199)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, call{method: http.MethodPost, path: "/api/orders", user: "user_1", body: orderRequest(199.99)})
	require.Equal(t, http.StatusOK, rec.Code)
	var placed protocol.PlaceOrderResponse
	decodeBody(t, rec, &placed)
	assert.True(t, placed.Success)
	assert.NotEmpty(t, placed.OrderID)

	bad := orderRequest(10)
	bad.CustomerInfo.Phone = ""
	rec = env.do(t, call{method: http.MethodPost, path: "/api/orders", user: "user_1", body: bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "customerInfo.phone is required")

	rec = env.do(t, call{method: http.MethodPost, path: "/api/orders", user: "user_1", body: orderRequest(-1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/orders", user: "user_1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var mine protocol.OrdersResponse
	decodeBody(t, rec, &mine)
	require.Len(t, mine.Orders, 1)
	assert.Equal(t, 1, mine.Total)
	got := mine.Orders[0]
	assert.Equal(t, placed.OrderID, got.OrderID)
	assert.Equal(t, 199.99, got.Price)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, "2026-03-01T12:00:00Z", got.CreatedAt)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/orders", user: "user_2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"orders":[],"total":0}`, rec.Body.String())
}

func TestAdminOrders(t *testing.T) {
	env := newTestEnv(t)
	admin := map[string]string{"X-Admin-Key": testAdminKey}

	var ids []string
	for _, price := range []float64{10, 20.5, 30} {
		rec := env.do(t, call{method: http.MethodPost, path: "/api/orders", user: "user_1", body: orderRequest(price)})
		require.Equal(t, http.StatusOK, rec.Code)
		var placed protocol.PlaceOrderResponse
		decodeBody(t, rec, &placed)
		ids = append(ids, placed.OrderID)
		env.clock.Advance(time.Second)
	}

	rec := env.do(t, call{method: http.MethodGet, path: "/api/admin/orders"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, call{method: http.MethodPut, path: "/api/admin/orders/" + ids[0], body: protocol.OrderStatusRequest{Status: orders.StatusShipped}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, call{method: http.MethodPut, path: "/api/admin/orders/" + ids[0], header: admin, body: protocol.OrderStatusRequest{Status: orders.StatusShipped}})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated protocol.OrderStatusResponse
	decodeBody(t, rec, &updated)
	assert.Equal(t, orders.StatusShipped, updated.Order.Status)
	assert.Equal(t, "2026-03-01T12:00:03Z", updated.Order.UpdatedAt)

	rec = env.do(t, call{method: http.MethodPut, path: "/api/admin/orders/" + ids[2], header: admin, body: protocol.OrderStatusRequest{Status: orders.StatusCancelled}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, call{method: http.MethodPut, path: "/api/admin/orders/" + ids[1], header: admin, body: protocol.OrderStatusRequest{Status: "lost"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, call{method: http.MethodPut, path: "/api/admin/orders/missing", header: admin, body: protocol.OrderStatusRequest{Status: orders.StatusShipped}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/admin/orders?limit=2", header: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	var sum protocol.AdminOrdersResponse
	decodeBody(t, rec, &sum)
	assert.True(t, sum.Success)
	require.Len(t, sum.Orders, 2)
	assert.Equal(t, ids[2], sum.Orders[0].OrderID)
	assert.Equal(t, 3, sum.Stats.TotalOrders)
	assert.Equal(t, 30.5, sum.Stats.TotalRevenue)
	assert.Equal(t, 1, sum.Stats.StatusCounts[orders.StatusPending])
	assert.Equal(t, 1, sum.Stats.StatusCounts[orders.StatusShipped])
	assert.Equal(t, 1, sum.Stats.StatusCounts[orders.StatusCancelled])
	assert.Equal(t, protocol.Pagination{Page: 1, Limit: 2, Total: 3, TotalPages: 2}, sum.Pagination)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/admin/orders?status=shipped", header: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	sum = protocol.AdminOrdersResponse{}
	decodeBody(t, rec, &sum)
	require.Len(t, sum.Orders, 1)
	assert.Equal(t, ids[0], sum.Orders[0].OrderID)
	assert.Equal(t, orders.DefaultPageSize, sum.Pagination.Limit)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/admin/orders?status=lost", header: admin})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, call{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	decodeBody(t, rec, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Contains(t, health, "connections")

	env.do(t, call{method: http.MethodGet, path: "/api/share/unknown"})

	rec = env.do(t, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bones_http_requests_total{method="GET",route="/api/share/{shareId}",status="404"} 1`)
}

type brokenLedgerStore struct{ ledger.Store }

func (brokenLedgerStore) LoadAccount(ctx context.Context, userID string) (store.Account, error) {
	return store.Account{}, errors.New("connection refused")
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	env := newTestEnv(t, withLedgerStore(brokenLedgerStore{}))

	rec := env.do(t, call{method: http.MethodGet, path: "/api/bones", user: "user_1"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestShutdownWithoutStart(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, env.srv.Shutdown(ctx))
}
