package server

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucaszengool/puppydiary-sub001/internal/auth"
	"github.com/lucaszengool/puppydiary-sub001/internal/ledger"
	"github.com/lucaszengool/puppydiary-sub001/internal/protocol"
	"github.com/lucaszengool/puppydiary-sub001/internal/ratelimit"
	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

func (s *Server) handleGetBones(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	acct, err := s.deps.Ledger.GetBalance(r.Context(), id.UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.BalanceResponse{
		Bones:           acct.Bones,
		LastShareReward: formatOptionalTime(acct.LastShareReward),
	})
}

func (s *Server) handlePostBones(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())

	var req protocol.BonesRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrValidation, "Invalid request body")
		return
	}

	switch req.Action {
	case protocol.ActionConsume:
		amount := int64(1)
		if req.Amount != nil {
			amount = *req.Amount
		}
		res, err := s.deps.Ledger.Consume(r.Context(), id.UserID(), amount)
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			writeJSON(w, http.StatusBadRequest, protocol.BonesError{Error: res.Message, Code: res.Code, Bones: res.Bones})
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, protocol.BonesResponse{Success: true, Bones: res.Bones, Message: res.Message})

	case protocol.ActionAwardShare:
		res, err := s.deps.Ledger.AwardShareReward(r.Context(), id.UserID())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !res.Success {
			writeJSON(w, http.StatusBadRequest, protocol.BonesError{Error: res.Message, Bones: res.Bones})
			return
		}
		writeJSON(w, http.StatusOK, protocol.BonesResponse{Success: true, Bones: res.Bones, Message: res.Message})

	default:
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "Invalid action"})
	}
}

func (s *Server) handleQuotaCheck(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Quota.Check(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.QuotaCheckResponse{
		CanGenerate:     st.Allowed,
		IsRegistered:    st.Registered,
		GenerationsUsed: st.Used,
		MaxGenerations:  st.Max,
	})
}

func (s *Server) handleQuotaRecord(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Quota.Record(r.Context(), auth.FromContext(r.Context()))
	if errors.Is(err, ratelimit.ErrQuotaExceeded) {
		writeJSON(w, http.StatusTooManyRequests, protocol.QuotaExceededResponse{
			Error:                "Generation limit reached",
			Code:                 protocol.ErrQuotaExceeded,
			RequiresRegistration: true,
			GenerationsUsed:      st.Used,
			MaxGenerations:       st.Max,
		})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.QuotaRecordResponse{
		Success:         true,
		IsRegistered:    st.Registered,
		GenerationsUsed: st.Used,
		MaxGenerations:  st.Max,
	})
}

// handleAuthorize gates one image generation: throttle first, then the
// anonymous quota or one bone.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	resp := protocol.AuthorizeResponse{IsRegistered: id.IsRegistered()}

	if s.deps.Throttle != nil {
		if ok, wait := s.deps.Throttle.Allow(id.String()); !ok {
			secs := int64(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			resp.Error = "Too many requests. Please try again later."
			resp.Code = protocol.ErrRateLimited
			resp.RetryAfter = secs
			writeJSON(w, http.StatusTooManyRequests, resp)
			return
		}
	}

	if id.IsRegistered() {
		res, err := s.deps.Ledger.Consume(r.Context(), id.UserID(), 1)
		if err != nil && !errors.Is(err, ledger.ErrInsufficientBalance) {
			s.fail(w, r, err)
			return
		}
		resp.Bones = &res.Bones
		if !res.Success {
			resp.Error = res.Message
			resp.Code = res.Code
			writeJSON(w, http.StatusPaymentRequired, resp)
			return
		}
		resp.Allowed = true
		writeJSON(w, http.StatusOK, resp)
		return
	}

	st, err := s.deps.Quota.Record(r.Context(), id)
	if err != nil && !errors.Is(err, ratelimit.ErrQuotaExceeded) {
		s.fail(w, r, err)
		return
	}
	resp.GenerationsUsed = &st.Used
	resp.MaxGenerations = &st.Max
	if err != nil {
		resp.Error = "Generation limit reached"
		resp.Code = protocol.ErrQuotaExceeded
		writeJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	resp.Allowed = true
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())

	var req protocol.ShareRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrValidation, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.ImageURL) == "" || strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Style) == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrValidation, "Missing required fields: imageUrl, title, style")
		return
	}

	owner := id.UserID()
	if owner == "" {
		owner = guestID()
	}
	rec, err := s.deps.Ledger.CreateShareRecord(r.Context(), ledger.ShareInput{
		UserID:      owner,
		ImageURL:    req.ImageURL,
		Title:       req.Title,
		Style:       req.Style,
		Description: req.Description,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	reward := protocol.BoneReward{Message: "Guest user"}
	if id.IsRegistered() {
		res, err := s.deps.Ledger.AwardShareReward(r.Context(), id.UserID())
		if err != nil {
			s.log.Warn("share reward failed", zap.String("user", id.UserID()), zap.Error(err))
			reward.Message = "Reward unavailable"
		} else {
			reward = protocol.BoneReward{Awarded: res.Success, Bones: res.Bones, Message: res.Message}
		}
	}

	writeJSON(w, http.StatusOK, protocol.ShareResponse{
		ShareID:    rec.ShareID,
		ShareLink:  rec.ShareURL,
		BoneReward: reward,
	})
}

func (s *Server) handleGetShare(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Ledger.GetShareRecord(r.Context(), chi.URLParam(r, "shareId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shareRecordJSON(rec))
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	favs, err := s.deps.Favorites.List(r.Context(), auth.FromContext(r.Context()).UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ids := make([]string, 0, len(favs))
	for _, f := range favs {
		ids = append(ids, f.ArtworkID)
	}
	writeJSON(w, http.StatusOK, protocol.FavoritesResponse{Favorites: ids})
}

func (s *Server) handleUpdateFavorites(w http.ResponseWriter, r *http.Request) {
	userID := auth.FromContext(r.Context()).UserID()

	var req protocol.FavoritesRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrValidation, "Invalid request body")
		return
	}
	if req.ArtworkID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrValidation, "Missing required fields")
		return
	}

	var err error
	switch req.Action {
	case "add":
		err = s.deps.Favorites.Add(r.Context(), userID, req.ArtworkID)
	case "remove":
		err = s.deps.Favorites.Remove(r.Context(), userID, req.ArtworkID)
	default:
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "Invalid action"})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.SuccessResponse{Success: true})
}

func (s *Server) handleAdminAccount(w http.ResponseWriter, r *http.Request) {
	if !s.checkAdmin(r) {
		writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: "Unauthorized"})
		return
	}
	acct, err := s.deps.Ledger.LookupAccount(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.AccountResponse{
		UserID:          acct.UserID,
		Bones:           acct.Bones,
		LastShareReward: formatOptionalTime(acct.LastShareReward),
		CreatedAt:       formatTime(acct.CreatedAt),
		UpdatedAt:       formatTime(acct.UpdatedAt),
	})
}

func shareRecordJSON(rec store.ShareRecord) protocol.ShareRecord {
	return protocol.ShareRecord{
		ShareID:     rec.ShareID,
		UserID:      rec.UserID,
		ImageURL:    rec.ImageURL,
		ShareLink:   rec.ShareURL,
		Title:       rec.Title,
		Style:       rec.Style,
		Description: rec.Description,
		ViewCount:   rec.ViewCount,
		CreatedAt:   formatTime(rec.CreatedAt),
	}
}

// guestID names the owner of a share created without an account.
func guestID() string {
	return fmt.Sprintf("guest_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}
