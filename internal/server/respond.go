package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lucaszengool/puppydiary-sub001/internal/favorites"
	"github.com/lucaszengool/puppydiary-sub001/internal/ledger"
	"github.com/lucaszengool/puppydiary-sub001/internal/orders"
	"github.com/lucaszengool/puppydiary-sub001/internal/protocol"
	"github.com/lucaszengool/puppydiary-sub001/internal/ratelimit"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: message, Code: code})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// fail maps a domain error to its HTTP response. Anything unrecognised is
// logged and reported as a generic 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *ledger.ValidationError
	var oe *orders.InvalidOrderError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, protocol.ErrValidation, ve.Field+" "+ve.Message)
	case errors.As(err, &oe):
		writeError(w, http.StatusBadRequest, protocol.ErrValidation, oe.Field+" "+oe.Reason)
	case errors.Is(err, orders.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, protocol.ErrValidation, "Unknown order status")
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "Order not found")
	case errors.Is(err, favorites.ErrInvalidArtwork), errors.Is(err, favorites.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, protocol.ErrValidation, "Missing required fields")
	case errors.Is(err, ledger.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "Account not found")
	case errors.Is(err, ledger.ErrShareNotFound):
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "Share not found")
	case errors.Is(err, ratelimit.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, protocol.ErrQuotaExceeded, "Generation limit reached")
	default:
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "", "Internal server error")
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
