// Package orders records merchandise pre-orders for generated designs and
// aggregates them for the admin view.
package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

// Order statuses, in fulfilment order.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// Statuses lists every known status.
var Statuses = []string{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var (
	// ErrInvalidOrder is matched by every *InvalidOrderError.
	ErrInvalidOrder = errors.New("invalid order")

	ErrOrderNotFound = errors.New("order not found")
	ErrUnknownStatus = errors.New("unknown order status")
)

// InvalidOrderError names the order field that failed validation.
type InvalidOrderError struct {
	Field  string
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return "orders: " + e.Field + " " + e.Reason
}

func (e *InvalidOrderError) Unwrap() error {
	return ErrInvalidOrder
}

// Input is what a customer submits.
type Input struct {
	ProductID      string
	ProductName    string
	ProductType    string
	Size           string
	PriceCents     int64
	DesignImageURL string
	Customer       store.Customer
}

// Query filters and pages the admin order list.
type Query struct {
	// Status filters by status. Empty or "all" lists everything.
	Status string
	Page   int
	Limit  int
}

// Stats aggregates over every order regardless of the query filter.
type Stats struct {
	TotalOrders int
	// RevenueCents excludes cancelled orders.
	RevenueCents int64
	StatusCounts map[string]int
}

// Summary is one page of the admin order list.
type Summary struct {
	Orders     []store.Order
	Stats      Stats
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

type Service struct {
	store store.OrderStore
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(s store.OrderStore, opts ...Option) *Service {
	svc := &Service{store: s, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Place records a pending order for userID.
func (s *Service) Place(ctx context.Context, userID string, in Input) (store.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return store.Order{}, &InvalidOrderError{Field: "userId", Reason: "is required"}
	}
	o, err := buildOrder(userID, in)
	if err != nil {
		return store.Order{}, err
	}
	now := s.now()
	o.OrderID = uuid.NewString()
	o.Status = StatusPending
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := s.store.CreateOrder(ctx, o); err != nil {
		return store.Order{}, fmt.Errorf("orders: create for %s: %w", userID, err)
	}
	s.log.Info("order placed",
		zap.String("order", o.OrderID),
		zap.String("user", userID),
		zap.String("product", o.ProductID),
		zap.Int64("price_cents", o.PriceCents),
	)
	return o, nil
}

func buildOrder(userID string, in Input) (store.Order, error) {
	required := []struct {
		field string
		value *string
	}{
		{"productId", &in.ProductID},
		{"productName", &in.ProductName},
		{"customerInfo.name", &in.Customer.Name},
		{"customerInfo.phone", &in.Customer.Phone},
		{"customerInfo.address", &in.Customer.Address},
	}
	for _, r := range required {
		*r.value = strings.TrimSpace(*r.value)
		if *r.value == "" {
			return store.Order{}, &InvalidOrderError{Field: r.field, Reason: "is required"}
		}
	}
	if in.PriceCents < 0 {
		return store.Order{}, &InvalidOrderError{Field: "price", Reason: "must not be negative"}
	}
	in.Customer.Email = strings.TrimSpace(in.Customer.Email)

	return store.Order{
		UserID:         userID,
		ProductID:      in.ProductID,
		ProductName:    in.ProductName,
		ProductType:    strings.TrimSpace(in.ProductType),
		Size:           strings.TrimSpace(in.Size),
		PriceCents:     in.PriceCents,
		DesignImageURL: strings.TrimSpace(in.DesignImageURL),
		Customer:       in.Customer,
	}, nil
}

// ListForUser returns the user's orders, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]store.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &InvalidOrderError{Field: "userId", Reason: "is required"}
	}
	orders, err := s.store.ListOrders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("orders: list %s: %w", userID, err)
	}
	if orders == nil {
		orders = []store.Order{}
	}
	return orders, nil
}

// UpdateStatus moves an order to status.
func (s *Service) UpdateStatus(ctx context.Context, orderID, status string) (store.Order, error) {
	if !knownStatus(status) {
		return store.Order{}, ErrUnknownStatus
	}
	o, err := s.store.UpdateOrderStatus(ctx, orderID, status, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return store.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return store.Order{}, fmt.Errorf("orders: update %s: %w", orderID, err)
	}
	s.log.Info("order status updated", zap.String("order", orderID), zap.String("status", status))
	return o, nil
}

// Summarize returns one page of all orders plus stats over every order.
func (s *Service) Summarize(ctx context.Context, q Query) (Summary, error) {
	filter := strings.TrimSpace(q.Status)
	if filter == "all" {
		filter = ""
	}
	if filter != "" && !knownStatus(filter) {
		return Summary{}, ErrUnknownStatus
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}

	all, err := s.store.ListOrders(ctx, "")
	if err != nil {
		return Summary{}, fmt.Errorf("orders: list all: %w", err)
	}

	stats := Stats{StatusCounts: make(map[string]int, len(Statuses))}
	for _, st := range Statuses {
		stats.StatusCounts[st] = 0
	}
	matched := make([]store.Order, 0, len(all))
	for _, o := range all {
		stats.TotalOrders++
		stats.StatusCounts[o.Status]++
		if o.Status != StatusCancelled {
			stats.RevenueCents += o.PriceCents
		}
		if filter == "" || o.Status == filter {
			matched = append(matched, o)
		}
	}

	sum := Summary{
		Orders:     []store.Order{},
		Stats:      stats,
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      len(matched),
		TotalPages: (len(matched) + q.Limit - 1) / q.Limit,
	}
	if start := (q.Page - 1) * q.Limit; start < len(matched) {
		end := min(start+q.Limit, len(matched))
		sum.Orders = matched[start:end]
	}
	return sum, nil
}

func knownStatus(status string) bool {
	return slices.Contains(Statuses, status)
}
