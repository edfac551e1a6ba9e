package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/donalert/internal/donation"
	"github.com/hitoshi/donalert/internal/middleware"
	"github.com/hitoshi/donalert/internal/model"
)

// DonationServiceInterface は寄付ハンドラーが必要とするサービスインターフェース。
type DonationServiceInterface interface {
	SubmitManual(ctx context.Context, handle string, req donation.ManualRequest, from donation.Submitter) (*model.Donation, error)
	RedeemVoucher(ctx context.Context, handle string, req donation.VoucherRequest, from donation.Submitter) (*model.Donation, error)
	VerifySlip(ctx context.Context, handle string, req donation.SlipRequest, from donation.Submitter) (*model.Donation, error)
}

// AccountReader はアカウントの読み取りに必要なインターフェース。
type AccountReader interface {
	Get(ctx context.Context, handle string) (*model.Account, error)
}

// DonationHandler は公開の寄付受付のHTTPハンドラー。
type DonationHandler struct {
	errorWriter
	service  DonationServiceInterface
	accounts AccountReader
}

// NewDonationHandler はDonationHandlerを生成する。
func NewDonationHandler(service DonationServiceInterface, accounts AccountReader, logger *slog.Logger) *DonationHandler {
	return &DonationHandler{
		errorWriter: errorWriter{logger: logger},
		service:     service,
		accounts:    accounts,
	}
}

type voucherRequest struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Voucher string `json:"voucher"`
}

type slipRequest struct {
	Name           string `json:"name"`
	Message        string `json:"message"`
	Payload        string `json:"payload"`
	ExpectedAmount int64  `json:"expected_amount"`
}

// profileResponse は寄付ページに表示する公開プロフィール。
// 受け取り先の口座番号やWebhook URLは含めない。
type profileResponse struct {
	Handle             string `json:"handle"`
	StreamTitle        string `json:"stream_title"`
	WelcomeMessage     string `json:"welcome_message"`
	EnableWallet       bool   `json:"enable_wallet"`
	EnableBankTransfer bool   `json:"enable_bank_transfer"`
	BankName           string `json:"bank_name,omitempty"`
	BankAccountName    string `json:"bank_account_name,omitempty"`
	AlertDurationMs    int    `json:"alert_duration_ms"`
	EnableTTS          bool   `json:"enable_tts"`
	EnableSound        bool   `json:"enable_sound"`
	MinTTSAmount       int64  `json:"min_tts_amount"`
	AlertFormat        string `json:"alert_format"`
	AlertPosition      string `json:"alert_position"`
}

// Profile は寄付ページと表示ウィジェット向けの公開設定を返す。
// GET /api/u/{handle}
func (h *DonationHandler) Profile(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accounts.Get(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cfg := acc.Config
	resp := profileResponse{
		Handle:             acc.Handle,
		StreamTitle:        cfg.StreamTitle,
		WelcomeMessage:     cfg.WelcomeMessage,
		EnableWallet:       cfg.EnableWallet && cfg.WalletPhone != "",
		EnableBankTransfer: cfg.EnableBankTransfer,
		AlertDurationMs:    cfg.AlertDurationMs,
		EnableTTS:          cfg.EnableTTS,
		EnableSound:        cfg.EnableSound,
		MinTTSAmount:       cfg.MinTTSAmount,
		AlertFormat:        cfg.AlertFormat,
		AlertPosition:      cfg.AlertPosition,
	}
	if cfg.EnableBankTransfer {
		resp.BankName = cfg.BankName
		resp.BankAccountName = cfg.BankAccountName
	}
	writeData(w, http.StatusOK, resp)
}

// RedeemVoucher はバウチャーを換金して寄付として受け付ける。
// POST /api/u/{handle}/redeem-voucher
func (h *DonationHandler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req voucherRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	d, err := h.service.RedeemVoucher(r.Context(), chi.URLParam(r, "handle"), donation.VoucherRequest{
		Name:    req.Name,
		Message: req.Message,
		Voucher: req.Voucher,
	}, submitterOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, model.AlertFromDonation(d))
}

// VerifySlip は銀行振込スリップを検証して寄付として受け付ける。
// POST /api/u/{handle}/verify-slip
func (h *DonationHandler) VerifySlip(w http.ResponseWriter, r *http.Request) {
	var req slipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	d, err := h.service.VerifySlip(r.Context(), chi.URLParam(r, "handle"), donation.SlipRequest{
		Name:           req.Name,
		Message:        req.Message,
		Payload:        req.Payload,
		ExpectedAmount: req.ExpectedAmount,
	}, submitterOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, model.AlertFromDonation(d))
}

func submitterOf(r *http.Request) donation.Submitter {
	ua := r.UserAgent()
	if len(ua) > 512 {
		ua = ua[:512]
	}
	return donation.Submitter{
		ClientIP:  middleware.ClientIP(r),
		UserAgent: strings.TrimSpace(ua),
	}
}
