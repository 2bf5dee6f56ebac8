// Package favorites keeps each registered user's starred artworks.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

// ErrInvalidArtwork is returned for an empty artwork ID.
var ErrInvalidArtwork = errors.New("favorites: artworkId is required")

// ErrInvalidUser is returned for an empty user ID.
var ErrInvalidUser = errors.New("favorites: userId is required")

type Service struct {
	store store.FavoriteStore
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(s store.FavoriteStore, opts ...Option) *Service {
	svc := &Service{store: s, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Add stars an artwork. Starring it again keeps the original timestamp.
func (s *Service) Add(ctx context.Context, userID, artworkID string) error {
	userID, artworkID, err := normalize(userID, artworkID)
	if err != nil {
		return err
	}
	fav := store.Favorite{UserID: userID, ArtworkID: artworkID, CreatedAt: s.now()}
	if err := s.store.AddFavorite(ctx, fav); err != nil {
		return fmt.Errorf("favorites: add %s/%s: %w", userID, artworkID, err)
	}
	s.log.Debug("favorite added", zap.String("user", userID), zap.String("artwork", artworkID))
	return nil
}

// Remove unstars an artwork. Removing one that is not starred is a no-op.
func (s *Service) Remove(ctx context.Context, userID, artworkID string) error {
	userID, artworkID, err := normalize(userID, artworkID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveFavorite(ctx, userID, artworkID); err != nil {
		return fmt.Errorf("favorites: remove %s/%s: %w", userID, artworkID, err)
	}
	return nil
}

// List returns the user's favorites, oldest first.
func (s *Service) List(ctx context.Context, userID string) ([]store.Favorite, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	favs, err := s.store.ListFavorites(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("favorites: list %s: %w", userID, err)
	}
	if favs == nil {
		favs = []store.Favorite{}
	}
	return favs, nil
}

func normalize(userID, artworkID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	artworkID = strings.TrimSpace(artworkID)
	if userID == "" {
		return "", "", ErrInvalidUser
	}
	if artworkID == "" {
		return "", "", ErrInvalidArtwork
	}
	return userID, artworkID, nil
}
