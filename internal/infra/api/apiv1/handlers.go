package apiv1

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"avante-billing/internal/domain"
	"avante-billing/internal/infra/redis"
	"avante-billing/internal/usecase"
)

var errForbidden = errors.New("token subject does not match userId")

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	req, err := decode[ApproveRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !authorize(r.Context(), req.UserID) {
		writeError(w, http.StatusForbidden, errForbidden.Error())
		return
	}
	out, err := s.deps.Approval.Approve(r.Context(), usecase.ApproveRequest{
		PaymentID: req.PaymentID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Memo:      req.Memo,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOutcome(w, out, false)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	req, err := decode[CompleteRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !authorize(r.Context(), req.UserID) {
		writeError(w, http.StatusForbidden, errForbidden.Error())
		return
	}
	out, err := s.deps.Completion.Complete(r.Context(), usecase.CompleteRequest{
		PaymentID:      req.PaymentID,
		UserID:         req.UserID,
		SettlementTxID: req.TxID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOutcome(w, out, false)
}

func (s *Server) handleCleanupStale(w http.ResponseWriter, r *http.Request) {
	req, err := decode[CleanupRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !authorize(r.Context(), req.UserID) {
		writeError(w, http.StatusForbidden, errForbidden.Error())
		return
	}
	if s.deps.Limiter != nil {
		ok, err := s.deps.Limiter.Allow(r.Context(), redis.UserRouteKey(req.UserID, "cleanup-stale"), s.cleanupLimit, s.cleanupWindow)
		if err != nil {
			// fail open
			s.log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, "too many cleanup requests")
			return
		}
	}
	out, err := s.deps.Sweeper.CleanupStale(r.Context(), req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOutcome(w, out, true)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentId")
	p, err := s.deps.Payments.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !authorize(r.Context(), p.UserID) {
		// do not reveal other users' payments
		s.fail(w, r, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentStatus(p))
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !authorize(r.Context(), userID) {
		writeError(w, http.StatusForbidden, errForbidden.Error())
		return
	}
	v, err := s.deps.Subscriptions.Current(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscription(v))
}
