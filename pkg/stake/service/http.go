package service

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/stake-ledger/pkg/app/errors"
	apphttp "github.com/chainsafe/stake-ledger/pkg/app/http"
	"github.com/chainsafe/stake-ledger/pkg/stake"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service Service
	logger  *zap.Logger
}

// RegisterRoutes registers the stake, deposit and user endpoints on the given chi router
func RegisterRoutes(r chi.Router, service Service, logger *zap.Logger) {
	h := &HTTP{
		service: service,
		logger:  logger,
	}

	r.Post("/users", apphttp.HandleError(h.registerUser))
	r.Get("/users/{id}", apphttp.HandleError(h.getUser))
	r.Get("/users/{id}/stakes", apphttp.HandleError(h.listStakes))
	r.Get("/users/{id}/transactions", apphttp.HandleError(h.listTransactions))
	r.Get("/transactions/{id}", apphttp.HandleError(h.getTransaction))
	r.Post("/stakes", apphttp.HandleError(h.openStake))
	r.Post("/stakes/{id}/close", apphttp.HandleError(h.closeStake))
	r.Post("/deposits", apphttp.HandleError(h.creditDeposit))
	r.Post("/deposits/pending", apphttp.HandleError(h.createPendingDeposit))
	r.Post("/payments/callback", apphttp.HandleError(h.paymentCallback))
}

func (h *HTTP) registerUser(w http.ResponseWriter, r *http.Request) error {
	var req stake.RegisterUserRequest
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}

	usr, err := h.service.RegisterUser(r.Context(), req.Email, req.Name)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusCreated, usr)
	return nil
}

func (h *HTTP) getUser(w http.ResponseWriter, r *http.Request) error {
	usr, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, usr)
	return nil
}

func (h *HTTP) listStakes(w http.ResponseWriter, r *http.Request) error {
	stakes, err := h.service.ListUserStakes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, stakes)
	return nil
}

func (h *HTTP) listTransactions(w http.ResponseWriter, r *http.Request) error {
	limit := defaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxTransactionLimit {
			return apperrors.BadRequestError(err, "limit must be between 1 and 500")
		}
		limit = n
	}

	txns, err := h.service.ListUserTransactions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, txns)
	return nil
}

func (h *HTTP) getTransaction(w http.ResponseWriter, r *http.Request) error {
	txn, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, txn)
	return nil
}

func (h *HTTP) openStake(w http.ResponseWriter, r *http.Request) error {
	var req stake.OpenStakeRequest
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}

	st, err := h.service.OpenStake(r.Context(), req.UserID, req.Amount)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusCreated, st)
	return nil
}

func (h *HTTP) closeStake(w http.ResponseWriter, r *http.Request) error {
	res, err := h.service.CloseStake(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, res)
	return nil
}

func (h *HTTP) creditDeposit(w http.ResponseWriter, r *http.Request) error {
	var req stake.DepositRequest
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}

	txn, err := h.service.CreditDeposit(r.Context(), req.UserID, req.Amount, req.ExternalRef)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusCreated, txn)
	return nil
}

func (h *HTTP) createPendingDeposit(w http.ResponseWriter, r *http.Request) error {
	var req stake.DepositRequest
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}

	txn, err := h.service.CreatePendingDeposit(r.Context(), req.UserID, req.Amount, req.ExternalRef)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusCreated, txn)
	return nil
}

// paymentCallback settles a pending deposit once the provider reports it finished.
// Other statuses are acknowledged without touching the ledger.
func (h *HTTP) paymentCallback(w http.ResponseWriter, r *http.Request) error {
	var req stake.PaymentCallback
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}

	if req.PaymentStatus != stake.PaymentFinished {
		h.logger.Info("payment callback ignored",
			zap.String("payment_id", req.PaymentID),
			zap.String("payment_status", req.PaymentStatus),
		)
		apphttp.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return nil
	}

	txn, err := h.service.ConfirmDeposit(r.Context(), req.PaymentID)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, txn)
	return nil
}
