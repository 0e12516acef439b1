package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/chainsafe/stake-ledger/pkg/app/errors"
)

type depositBody struct {
	UserID string `json:"user_id" validate:"required"`
	Amount string `json:"amount"`
}

type optionalBody struct {
	AsOf string `json:"as_of"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHandleError_ServiceError(t *testing.T) {
	h := HandleError(func(http.ResponseWriter, *http.Request) error {
		return apperrors.ConflictError(nil, "stake already closed")
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/stakes/1/close", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.ErrMsg != "stake already closed" || body.ErrMsgCode != http.StatusConflict {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHandleError_PlainErrorHidden(t *testing.T) {
	h := HandleError(func(http.ResponseWriter, *http.Request) error {
		return errors.New("pq: relation does not exist")
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.ErrMsg != "Unexpected Service Error" {
		t.Fatalf("internal error text leaked: %q", body.ErrMsg)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"user_id":"u1","amount":"10"}`, ""},
		{"malformed", `{"user_id":`, "invalid JSON"},
		{"missing required", `{"amount":"10"}`, "invalid field: UserID"},
		{"empty body", ``, "invalid field: UserID"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/deposits", strings.NewReader(tc.body))
			var dst depositBody
			err := DecodeJSON(req, &dst)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var svcErr *apperrors.ServiceError
			if !errors.As(err, &svcErr) {
				t.Fatalf("expected ServiceError, got %v", err)
			}
			if svcErr.Message != tc.wantErr || svcErr.Category != apperrors.CategoryDataError {
				t.Fatalf("expected %q data error, got %q (%s)", tc.wantErr, svcErr.Message, svcErr.Category)
			}
		})
	}
}

func TestDecodeJSON_EmptyOptionalBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/admin/sweep", strings.NewReader(""))
	var dst optionalBody
	if err := DecodeJSON(req, &dst); err != nil {
		t.Fatalf("empty body should be accepted: %v", err)
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "s1"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}
