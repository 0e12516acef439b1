package scheduler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/stake-ledger/pkg/app/errors"
	apphttp "github.com/chainsafe/stake-ledger/pkg/app/http"
)

type sweepRequest struct {
	AsOf *time.Time `json:"as_of"`
}

type stateResponse struct {
	State string `json:"state"`
}

// HTTP exposes manual sweep triggering.
type HTTP struct {
	scheduler *Scheduler
	logger    *zap.Logger
}

// RegisterRoutes registers the admin sweep endpoints on the given chi router
func RegisterRoutes(r chi.Router, s *Scheduler, logger *zap.Logger) {
	h := &HTTP{
		scheduler: s,
		logger:    logger,
	}

	r.Post("/admin/sweep", apphttp.HandleError(h.sweep))
	r.Get("/admin/sweep", apphttp.HandleError(h.state))
}

// sweep runs a sweep now, or at as_of when the body names a time no later than now.
func (h *HTTP) sweep(w http.ResponseWriter, r *http.Request) error {
	var req sweepRequest
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}

	var (
		res *SweepResult
		err error
	)
	if req.AsOf != nil {
		res, err = h.scheduler.SweepAt(r.Context(), *req.AsOf)
	} else {
		res, err = h.scheduler.Sweep(r.Context())
	}
	if errors.Is(err, ErrFutureAsOf) {
		return apperrors.BadRequestError(err, "as_of must not be in the future")
	}
	if errors.Is(err, ErrLeaseHeld) {
		return apperrors.ConflictError(err, "sweep already running on another instance")
	}
	if err != nil {
		h.logger.Error("Manual sweep failed", zap.Error(err))
		return apperrors.DependencyFailureError(err, "sweep failed")
	}

	apphttp.WriteJSON(w, http.StatusOK, res)
	return nil
}

func (h *HTTP) state(w http.ResponseWriter, _ *http.Request) error {
	apphttp.WriteJSON(w, http.StatusOK, stateResponse{State: h.scheduler.State().String()})
	return nil
}
