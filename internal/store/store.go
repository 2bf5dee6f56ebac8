package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Account is a user's bones balance.
type Account struct {
	UserID          string
	Bones           int64
	LastShareReward *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ShareRecord is a publicly shareable generated image.
type ShareRecord struct {
	ShareID     string
	UserID      string
	ImageURL    string
	ShareURL    string
	Title       string
	Style       string
	Description string
	ViewCount   int64
	CreatedAt   time.Time
}

// QuotaEntry counts anonymous generations for one identity key.
type QuotaEntry struct {
	Key         string
	Count       int
	WindowStart time.Time
}

// Favorite links a user to an artwork they starred.
type Favorite struct {
	UserID    string
	ArtworkID string
	CreatedAt time.Time
}

// Customer is the shipping contact of an order.
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// Order is a merchandise pre-order for a generated design.
type Order struct {
	OrderID        string
	UserID         string
	ProductID      string
	ProductName    string
	ProductType    string
	Size           string
	PriceCents     int64
	DesignImageURL string
	Customer       Customer
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AccountStore persists bones accounts.
type AccountStore interface {
	// LoadAccount returns ErrNotFound when the user has no account yet.
	LoadAccount(ctx context.Context, userID string) (Account, error)
	SaveAccount(ctx context.Context, acct Account) error
}

// ShareStore persists share records.
type ShareStore interface {
	CreateShare(ctx context.Context, rec ShareRecord) error
	// IncrementShareViews bumps the view count and returns the updated record.
	IncrementShareViews(ctx context.Context, shareID string) (ShareRecord, error)
}

// QuotaStore persists anonymous quota entries.
type QuotaStore interface {
	// LoadQuota returns ErrNotFound when the key has no entry.
	LoadQuota(ctx context.Context, key string) (QuotaEntry, error)
	SaveQuota(ctx context.Context, entry QuotaEntry) error
	// IncrementQuota atomically restarts the window when it is older than
	// window at now, then counts one generation unless Count already reached
	// max. The returned entry is the state after the call; ok reports whether
	// the generation was counted.
	IncrementQuota(ctx context.Context, key string, max int, window time.Duration, now time.Time) (entry QuotaEntry, ok bool, err error)
	// DeleteExpiredQuotas removes entries whose window started before cutoff.
	DeleteExpiredQuotas(ctx context.Context, cutoff time.Time) (int, error)
}

// FavoriteStore persists user favorites.
type FavoriteStore interface {
	AddFavorite(ctx context.Context, fav Favorite) error
	RemoveFavorite(ctx context.Context, userID, artworkID string) error
	ListFavorites(ctx context.Context, userID string) ([]Favorite, error)
}

// OrderStore persists merchandise orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, o Order) error
	// UpdateOrderStatus returns ErrNotFound for an unknown order.
	UpdateOrderStatus(ctx context.Context, orderID, status string, at time.Time) (Order, error)
	// ListOrders returns orders newest first. An empty userID lists every order.
	ListOrders(ctx context.Context, userID string) ([]Order, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	AccountStore
	ShareStore
	QuotaStore
	FavoriteStore
	OrderStore

	Close() error
}
