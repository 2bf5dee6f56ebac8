package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. State is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]Account
	shares    map[string]ShareRecord
	quotas    map[string]QuotaEntry
	favorites map[string]map[string]Favorite
	orders    map[string]Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]Account),
		shares:    make(map[string]ShareRecord),
		quotas:    make(map[string]QuotaEntry),
		favorites: make(map[string]map[string]Favorite),
		orders:    make(map[string]Order),
	}
}

func (s *MemoryStore) LoadAccount(ctx context.Context, userID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return cloneAccount(acct), nil
}

func (s *MemoryStore) SaveAccount(ctx context.Context, acct Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.UserID] = cloneAccount(acct)
	return nil
}

func (s *MemoryStore) CreateShare(ctx context.Context, rec ShareRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares[rec.ShareID] = rec
	return nil
}

func (s *MemoryStore) IncrementShareViews(ctx context.Context, shareID string) (ShareRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.shares[shareID]
	if !ok {
		return ShareRecord{}, ErrNotFound
	}
	rec.ViewCount++
	s.shares[shareID] = rec
	return rec, nil
}

func (s *MemoryStore) LoadQuota(ctx context.Context, key string) (QuotaEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.quotas[key]
	if !ok {
		return QuotaEntry{}, ErrNotFound
	}
	return entry, nil
}

func (s *MemoryStore) SaveQuota(ctx context.Context, entry QuotaEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[entry.Key] = entry
	return nil
}

func (s *MemoryStore) IncrementQuota(ctx context.Context, key string, max int, window time.Duration, now time.Time) (QuotaEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.quotas[key]
	if !ok || now.Sub(entry.WindowStart) > window {
		entry = QuotaEntry{Key: key, WindowStart: now}
	}
	if entry.Count >= max {
		return entry, false, nil
	}
	entry.Count++
	s.quotas[key] = entry
	return entry, true, nil
}

func (s *MemoryStore) DeleteExpiredQuotas(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for key, entry := range s.quotas {
		if entry.WindowStart.Before(cutoff) {
			delete(s.quotas, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) AddFavorite(ctx context.Context, fav Favorite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byArtwork, ok := s.favorites[fav.UserID]
	if !ok {
		byArtwork = make(map[string]Favorite)
		s.favorites[fav.UserID] = byArtwork
	}
	if _, exists := byArtwork[fav.ArtworkID]; !exists {
		byArtwork[fav.ArtworkID] = fav
	}
	return nil
}

func (s *MemoryStore) RemoveFavorite(ctx context.Context, userID, artworkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.favorites[userID], artworkID)
	return nil
}

func (s *MemoryStore) ListFavorites(ctx context.Context, userID string) ([]Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	favs := make([]Favorite, 0, len(s.favorites[userID]))
	for _, f := range s.favorites[userID] {
		favs = append(favs, f)
	}
	sort.Slice(favs, func(i, j int) bool {
		if favs[i].CreatedAt.Equal(favs[j].CreatedAt) {
			return favs[i].ArtworkID < favs[j].ArtworkID
		}
		return favs[i].CreatedAt.Before(favs[j].CreatedAt)
	})
	return favs, nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.OrderID] = o
	return nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID, status string, at time.Time) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	s.orders[orderID] = o
	return o, nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Order{}
	for _, o := range s.orders {
		if userID == "" || o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close drops all state.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[string]Account)
	s.shares = make(map[string]ShareRecord)
	s.quotas = make(map[string]QuotaEntry)
	s.favorites = make(map[string]map[string]Favorite)
	s.orders = make(map[string]Order)
	return nil
}

func cloneAccount(a Account) Account {
	if a.LastShareReward != nil {
		t := *a.LastShareReward
		a.LastShareReward = &t
	}
	return a
}
