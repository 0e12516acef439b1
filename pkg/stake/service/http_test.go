package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/stake-ledger/pkg/app/errors"
	"github.com/chainsafe/stake-ledger/pkg/ledger"
	"github.com/chainsafe/stake-ledger/pkg/stake"
	"github.com/chainsafe/stake-ledger/pkg/stake/service/mocks"
)

type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func newStakeTestServer(svc Service) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, svc, zap.NewNop())
	return r
}

func serve(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var got errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response JSON: %v", err)
	}
	return got
}

func TestOpenStakeHTTP_InvalidJSON_ReturnsBadRequest(t *testing.T) {
	svc := mocks.NewService(t)
	handler := newStakeTestServer(svc)

	rec := serve(handler, http.MethodPost, "/stakes", "{invalid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	got := decodeError(t, rec)
	if got.Error != "invalid JSON" {
		t.Fatalf("expected error %q, got %q", "invalid JSON", got.Error)
	}
	if got.Code != http.StatusBadRequest {
		t.Fatalf("expected code %d, got %d", http.StatusBadRequest, got.Code)
	}
}

func TestOpenStakeHTTP_MissingUser_ReturnsBadRequest(t *testing.T) {
	svc := mocks.NewService(t)
	handler := newStakeTestServer(svc)

	rec := serve(handler, http.MethodPost, "/stakes", `{"amount":"10"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	got := decodeError(t, rec)
	if got.Error != "invalid field: UserID" {
		t.Fatalf("expected error %q, got %q", "invalid field: UserID", got.Error)
	}
}

func TestOpenStakeHTTP_Created(t *testing.T) {
	svc := mocks.NewService(t)
	st := ledger.NewStake("user-1", dec("50"), dec("0.3"), t0)
	svc.On("OpenStake", mock.Anything, "user-1", dec("50")).Return(st, nil)
	handler := newStakeTestServer(svc)

	rec := serve(handler, http.MethodPost, "/stakes", `{"user_id":"user-1","amount":"50"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type %q, got %q", "application/json", ct)
	}

	var got ledger.Stake
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response JSON: %v", err)
	}
	if got.ID != st.ID {
		t.Fatalf("expected stake id %q, got %q", st.ID, got.ID)
	}
	if !got.Amount.Equal(dec("50")) {
		t.Fatalf("expected amount 50, got %s", got.Amount)
	}
}

func TestOpenStakeHTTP_InsufficientBalance(t *testing.T) {
	svc := mocks.NewService(t)
	svc.On("OpenStake", mock.Anything, "user-1", mock.Anything).
		Return(nil, apperrors.BadRequestError(ErrInsufficientBalance, "insufficient balance"))
	handler := newStakeTestServer(svc)

	rec := serve(handler, http.MethodPost, "/stakes", `{"user_id":"user-1","amount":"500"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if got := decodeError(t, rec); got.Error != "insufficient balance" {
		t.Fatalf("expected error %q, got %q", "insufficient balance", got.Error)
	}
}

func TestCloseStakeHTTP(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"closed", nil, http.StatusOK},
		{"already closed", apperrors.ConflictError(ErrStakeAlreadyClosed, "stake already closed"), http.StatusConflict},
		{"not found", apperrors.ResourceNotFoundError(ErrStakeNotFound, "stake not found"), http.StatusNotFound},
		{"lost race", apperrors.RecoveringError(ErrConcurrentUpdate, "retry"), http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := mocks.NewService(t)
			var res *stake.CloseResult
			if tc.err == nil {
				res = &stake.CloseResult{
					StakeID:       "stake-1",
					Principal:     dec("50"),
					RewardPaid:    dec("3.75"),
					TotalReturned: dec("53.75"),
					ClosedAt:      t0,
				}
			}
			svc.On("CloseStake", mock.Anything, "stake-1").Return(res, tc.err)
			handler := newStakeTestServer(svc)

			rec := serve(handler, http.MethodPost, "/stakes/stake-1/close", "")
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.err != nil {
				return
			}

			var got stake.CloseResult
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("failed to decode response JSON: %v", err)
			}
			if !got.TotalReturned.Equal(dec("53.75")) {
				t.Fatalf("expected total returned 53.75, got %s", got.TotalReturned)
			}
		})
	}
}

func TestRegisterUserHTTP_InvalidEmail(t *testing.T) {
	svc := mocks.NewService(t)
	handler := newStakeTestServer(svc)

	rec := serve(handler, http.MethodPost, "/users", `{"email":"nope","name":"Alice"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if got := decodeError(t, rec); got.Error != "invalid field: Email" {
		t.Fatalf("expected error %q, got %q", "invalid field: Email", got.Error)
	}
}

func TestRegisterUserHTTP_Created(t *testing.T) {
	svc := mocks.NewService(t)
	usr := ledger.NewUser("alice@example.com", "Alice", t0)
	svc.On("RegisterUser", mock.Anything, "alice@example.com", "Alice").Return(usr, nil)
	handler := newStakeTestServer(svc)

	rec := serve(handler, http.MethodPost, "/users", `{"email":"alice@example.com","name":"Alice"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
}

func TestListTransactionsHTTP_Limit(t *testing.T) {
	svc := mocks.NewService(t)
	svc.On("ListUserTransactions", mock.Anything, "user-1", defaultTransactionLimit).
		Return([]*ledger.Transaction{}, nil).Once()
	svc.On("ListUserTransactions", mock.Anything, "user-1", 5).
		Return([]*ledger.Transaction{}, nil).Once()
	handler := newStakeTestServer(svc)

	if rec := serve(handler, http.MethodGet, "/users/user-1/transactions", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec := serve(handler, http.MethodGet, "/users/user-1/transactions?limit=5", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec := serve(handler, http.MethodGet, "/users/user-1/transactions?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestPaymentCallbackHTTP_IgnoresUnfinished(t *testing.T) {
	svc := mocks.NewService(t)
	handler := newStakeTestServer(svc)

	rec := serve(handler, http.MethodPost, "/payments/callback", `{"payment_id":"pay-1","payment_status":"waiting"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rec.Code)
	}
	svc.AssertNotCalled(t, "ConfirmDeposit", mock.Anything, mock.Anything)
}

func TestPaymentCallbackHTTP_ConfirmsFinished(t *testing.T) {
	svc := mocks.NewService(t)
	txn := ledger.NewTransaction("user-1", ledger.KindDeposit, dec("25"), t0).WithExternalRef("pay-1")
	svc.On("ConfirmDeposit", mock.Anything, "pay-1").Return(txn, nil)
	handler := newStakeTestServer(svc)

	rec := serve(handler, http.MethodPost, "/payments/callback", `{"payment_id":"pay-1","payment_status":"finished"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var got ledger.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response JSON: %v", err)
	}
	if got.ExternalRef == nil || *got.ExternalRef != "pay-1" {
		t.Fatalf("expected payment id %q, got %v", "pay-1", got.ExternalRef)
	}
}

func TestPaymentCallbackHTTP_AlreadyCompleted(t *testing.T) {
	svc := mocks.NewService(t)
	svc.On("ConfirmDeposit", mock.Anything, "pay-1").
		Return(nil, apperrors.ConflictError(ErrDepositCompleted, "deposit already completed"))
	handler := newStakeTestServer(svc)

	rec := serve(handler, http.MethodPost, "/payments/callback", `{"payment_id":"pay-1","payment_status":"finished"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, rec.Code)
	}
}

func TestGetTransactionHTTP(t *testing.T) {
	svc := mocks.NewService(t)
	txn := ledger.NewTransaction("user-1", ledger.KindReward, dec("15"), t0)
	svc.On("GetTransaction", mock.Anything, txn.ID).Return(txn, nil)
	svc.On("GetTransaction", mock.Anything, "missing").
		Return(nil, apperrors.ResourceNotFoundError(ErrDepositNotFound, "transaction not found"))
	handler := newStakeTestServer(svc)

	rec := serve(handler, http.MethodGet, "/transactions/"+txn.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var got ledger.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response JSON: %v", err)
	}
	if got.ID != txn.ID || got.Kind != ledger.KindReward {
		t.Fatalf("unexpected transaction %+v", got)
	}

	rec = serve(handler, http.MethodGet, "/transactions/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
	if got := decodeError(t, rec); got.Error != "transaction not found" {
		t.Fatalf("expected error %q, got %q", "transaction not found", got.Error)
	}
}
