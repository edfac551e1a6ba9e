package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/donalert/internal/donation"
	"github.com/hitoshi/donalert/internal/model"
)

func newDonationRouter(h *DonationHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/u/{handle}", h.Profile)
	r.Post("/api/u/{handle}/redeem-voucher", h.RedeemVoucher)
	r.Post("/api/u/{handle}/verify-slip", h.VerifySlip)
	return r
}

func TestVerifySlip_Success(t *testing.T) {
	var (
		gotHandle string
		gotReq    donation.SlipRequest
		gotFrom   donation.Submitter
	)
	svc := &mockDonationService{
		verifySlipFn: func(ctx context.Context, handle string, req donation.SlipRequest, from donation.Submitter) (*model.Donation, error) {
			gotHandle, gotReq, gotFrom = handle, req, from
			return &model.Donation{ID: "d1", Name: req.Name, Amount: 500, CreatedAt: time.Now()}, nil
		},
	}
	router := newDonationRouter(NewDonationHandler(svc, ledgerFor(), testLogger()))

	body := `{"name":"Bob","message":"hi","payload":"0046000600000101030140225","expected_amount":500}`
	req := httptest.NewRequest(http.MethodPost, "/api/u/alice/verify-slip", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("User-Agent", "obs")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if gotHandle != "alice" || gotReq.ExpectedAmount != 500 || gotReq.Payload == "" {
		t.Errorf("handle = %q, req = %+v", gotHandle, gotReq)
	}
	if gotFrom.ClientIP != "203.0.113.9" || gotFrom.UserAgent != "obs" {
		t.Errorf("submitter = %+v", gotFrom)
	}

	var resp struct {
		Success bool        `json:"success"`
		Data    model.Alert `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !resp.Success || resp.Data.ID != "d1" || resp.Data.Amount != 500 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestVerifySlip_ServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"duplicate", model.NewDuplicateProofError("transaction_ref"), http.StatusConflict},
		{"account mismatch", model.NewAccountMismatchError(), http.StatusUnprocessableEntity},
		{"provider down", model.NewUpstreamUnavailableError("slipverify"), http.StatusServiceUnavailable},
		{"feature disabled", model.NewFeatureDisabledError("bank_transfer"), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockDonationService{
				verifySlipFn: func(context.Context, string, donation.SlipRequest, donation.Submitter) (*model.Donation, error) {
					return nil, tt.err
				},
			}
			router := newDonationRouter(NewDonationHandler(svc, ledgerFor(), testLogger()))

			req := httptest.NewRequest(http.MethodPost, "/api/u/alice/verify-slip", strings.NewReader(`{"name":"Bob","payload":"x"}`))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRedeemVoucher_InvalidJSON_Returns400(t *testing.T) {
	svc := &mockDonationService{
		redeemVoucherFn: func(context.Context, string, donation.VoucherRequest, donation.Submitter) (*model.Donation, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}
	router := newDonationRouter(NewDonationHandler(svc, ledgerFor(), testLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/u/alice/redeem-voucher", strings.NewReader(`{"name":`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRedeemVoucher_PassesVoucher(t *testing.T) {
	var got donation.VoucherRequest
	svc := &mockDonationService{
		redeemVoucherFn: func(ctx context.Context, handle string, req donation.VoucherRequest, from donation.Submitter) (*model.Donation, error) {
			got = req
			return &model.Donation{ID: "d2", Name: req.Name, Amount: 100}, nil
		},
	}
	router := newDonationRouter(NewDonationHandler(svc, ledgerFor(), testLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/u/alice/redeem-voucher",
		strings.NewReader(`{"name":"Bob","message":"yo","voucher":"https://gift.truemoney.com/campaign/?v=abc123"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if got.Voucher != "https://gift.truemoney.com/campaign/?v=abc123" || got.Message != "yo" {
		t.Errorf("req = %+v", got)
	}
}

// 公開プロフィールには口座番号やWebhook URLを含めない
func TestProfile_HidesPrivateFields(t *testing.T) {
	acc := accountFixture("alice")
	acc.Config.WebhookURL = "https://hooks.example.com/x"
	router := newDonationRouter(NewDonationHandler(&mockDonationService{}, ledgerFor(acc), testLogger()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/u/alice", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, secret := range []string{"56789", "hooks.example.com", "wallet_phone"} {
		if strings.Contains(body, secret) {
			t.Errorf("profile leaks %q: %s", secret, body)
		}
	}
	if !strings.Contains(body, `"bank_name":"KBANK"`) {
		t.Errorf("profile should include bank name: %s", body)
	}
}

func TestProfile_UnknownAccount_Returns404(t *testing.T) {
	router := newDonationRouter(NewDonationHandler(&mockDonationService{}, ledgerFor(), testLogger()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/u/nobody", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
