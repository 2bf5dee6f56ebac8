package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

// ShareInput is what a caller supplies to publish an image.
type ShareInput struct {
	UserID      string
	ImageURL    string
	Title       string
	Style       string
	Description string
}

// CreateShareRecord stores a new share with a fresh ID and public link.
func (l *Ledger) CreateShareRecord(ctx context.Context, in ShareInput) (store.ShareRecord, error) {
	required := []struct{ field, value string }{
		{"userId", in.UserID},
		{"imageUrl", in.ImageURL},
		{"title", in.Title},
		{"style", in.Style},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return store.ShareRecord{}, NewValidationError(r.field, "is required")
		}
	}

	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = in.Style + " pet portrait"
	}

	id := newShareID()
	rec := store.ShareRecord{
		ShareID:     id,
		UserID:      in.UserID,
		ImageURL:    in.ImageURL,
		ShareURL:    strings.TrimRight(l.cfg.PublicBaseURL, "/") + "/share/" + id,
		Title:       in.Title,
		Style:       in.Style,
		Description: desc,
		CreatedAt:   l.now(),
	}
	if err := l.store.CreateShare(ctx, rec); err != nil {
		l.metrics.LedgerOp("share_create", "error")
		return store.ShareRecord{}, fmt.Errorf("ledger: create share: %w", err)
	}

	l.metrics.LedgerOp("share_create", "ok")
	l.log.Info("share created", zap.String("share", id), zap.String("user", in.UserID))
	return rec, nil
}

// GetShareRecord returns the share and counts the view.
func (l *Ledger) GetShareRecord(ctx context.Context, shareID string) (store.ShareRecord, error) {
	if strings.TrimSpace(shareID) == "" {
		return store.ShareRecord{}, ErrShareNotFound
	}
	rec, err := l.store.IncrementShareViews(ctx, shareID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ShareRecord{}, ErrShareNotFound
	}
	if err != nil {
		return store.ShareRecord{}, fmt.Errorf("ledger: view share %s: %w", shareID, err)
	}
	return rec, nil
}

// newShareID returns 24 hex chars of randomness.
func newShareID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}
