package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/donalert/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError(3))

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Success {
		t.Error("success should be false")
	}
	if body.Code != model.ErrCodeInvalidCredentials || body.Category != "auth" {
		t.Errorf("body = %+v", body)
	}
	if got, ok := body.Details["remaining_attempts"].(float64); !ok || got != 3 {
		t.Errorf("details.remaining_attempts = %v", body.Details["remaining_attempts"])
	}
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewValidationError("x", "bad"), http.StatusBadRequest},
		{model.NewDuplicateProofError("transaction_ref"), http.StatusConflict},
		{model.NewAccountMismatchError(), http.StatusUnprocessableEntity},
		{model.NewAmountMismatchError(1, 2), http.StatusUnprocessableEntity},
		{model.NewInvalidProofError("x"), http.StatusUnprocessableEntity},
		{model.NewUpstreamRejectedError("truewallet", "no"), http.StatusBadGateway},
		{model.NewUpstreamUnavailableError("slipverify"), http.StatusServiceUnavailable},
		{model.NewInvalidCredentialsError(1), http.StatusUnauthorized},
		{model.NewLockedError(time.Now()), http.StatusLocked},
		{model.NewRentalExpiredError(time.Now()), http.StatusForbidden},
		{model.NewNotFoundError("account"), http.StatusNotFound},
		{model.NewAccountExistsError("alice"), http.StatusConflict},
		{model.NewFeatureDisabledError("wallet"), http.StatusForbidden},
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewInternalError(), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			if got := StatusForCode(tt.err.Code); got != tt.want {
				t.Errorf("StatusForCode(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

// 内部エラーの詳細はレスポンスに含めず、ログにだけ残す
func TestWriteError_HidesInternalDetails(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/x", nil)

	WriteError(w, r, logger, errors.New("pq: connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Error("response must not leak internal error")
	}
	if !strings.Contains(buf.String(), "connection refused") {
		t.Error("internal error should be logged")
	}
}

func TestWriteError_PassesThroughAPIError(t *testing.T) {
	var buf bytes.Buffer
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/x", nil)

	WriteError(w, r, slog.New(slog.NewJSONHandler(&buf, nil)), model.NewDuplicateProofError("discriminator"))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	var body ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != model.ErrCodeDuplicateProof || body.Details["field"] != "discriminator" {
		t.Errorf("body = %+v", body)
	}
	if buf.Len() != 0 {
		t.Errorf("domain errors should not be logged here: %s", buf.String())
	}
}
