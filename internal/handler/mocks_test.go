package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/hitoshi/donalert/internal/alert"
	"github.com/hitoshi/donalert/internal/auth"
	"github.com/hitoshi/donalert/internal/donation"
	"github.com/hitoshi/donalert/internal/ledger"
	"github.com/hitoshi/donalert/internal/model"
	"github.com/hitoshi/donalert/internal/slipverify"
)

// --- モック定義 ---

type mockDonationService struct {
	submitManualFn  func(ctx context.Context, handle string, req donation.ManualRequest, from donation.Submitter) (*model.Donation, error)
	redeemVoucherFn func(ctx context.Context, handle string, req donation.VoucherRequest, from donation.Submitter) (*model.Donation, error)
	verifySlipFn    func(ctx context.Context, handle string, req donation.SlipRequest, from donation.Submitter) (*model.Donation, error)
}

func (m *mockDonationService) SubmitManual(ctx context.Context, handle string, req donation.ManualRequest, from donation.Submitter) (*model.Donation, error) {
	return m.submitManualFn(ctx, handle, req, from)
}

func (m *mockDonationService) RedeemVoucher(ctx context.Context, handle string, req donation.VoucherRequest, from donation.Submitter) (*model.Donation, error) {
	return m.redeemVoucherFn(ctx, handle, req, from)
}

func (m *mockDonationService) VerifySlip(ctx context.Context, handle string, req donation.SlipRequest, from donation.Submitter) (*model.Donation, error) {
	return m.verifySlipFn(ctx, handle, req, from)
}

type mockLedger struct {
	getFn          func(ctx context.Context, handle string) (*model.Account, error)
	queryFn        func(ctx context.Context, handle string, c ledger.Criteria) ([]model.Donation, error)
	statsFn        func(ctx context.Context, handle string) (model.Stats, error)
	usedSlipsFn    func(ctx context.Context, handle string, limit int) ([]model.UsedSlip, error)
	updateConfigFn func(ctx context.Context, handle string, cfg model.AccountConfig) (*model.Account, error)
	exportFn       func(ctx context.Context, handle string) ([]model.Donation, error)
	importFn       func(ctx context.Context, handle string, donations []model.Donation) (int, error)
}

func (m *mockLedger) Get(ctx context.Context, handle string) (*model.Account, error) {
	return m.getFn(ctx, handle)
}

func (m *mockLedger) Query(ctx context.Context, handle string, c ledger.Criteria) ([]model.Donation, error) {
	return m.queryFn(ctx, handle, c)
}

func (m *mockLedger) Stats(ctx context.Context, handle string) (model.Stats, error) {
	return m.statsFn(ctx, handle)
}

func (m *mockLedger) UsedSlips(ctx context.Context, handle string, limit int) ([]model.UsedSlip, error) {
	return m.usedSlipsFn(ctx, handle, limit)
}

func (m *mockLedger) UpdateConfig(ctx context.Context, handle string, cfg model.AccountConfig) (*model.Account, error) {
	return m.updateConfigFn(ctx, handle, cfg)
}

func (m *mockLedger) Export(ctx context.Context, handle string) ([]model.Donation, error) {
	return m.exportFn(ctx, handle)
}

func (m *mockLedger) Import(ctx context.Context, handle string, donations []model.Donation) (int, error) {
	return m.importFn(ctx, handle, donations)
}

type mockAuthService struct {
	verifyLoginFn func(ctx context.Context, handle, password string, client auth.ClientInfo) (*model.Session, error)
	logoutFn      func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) VerifyLogin(ctx context.Context, handle, password string, client auth.ClientInfo) (*model.Session, error) {
	return m.verifyLoginFn(ctx, handle, password, client)
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	return m.logoutFn(ctx, sessionID)
}

type recordedLogins struct {
	outcomes []string
}

func (r *recordedLogins) RecordLogin(outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

type mockURLValidator struct {
	validateFn func(raw string) error
}

func (m *mockURLValidator) ValidateURL(raw string) error {
	return m.validateFn(raw)
}

type mockAlertLog struct {
	listRecentFn func(ctx context.Context, handle string, limit int) ([]model.Alert, error)
}

func (m *mockAlertLog) ListRecent(ctx context.Context, handle string, limit int) ([]model.Alert, error) {
	return m.listRecentFn(ctx, handle, limit)
}

type mockAccountAdmin struct {
	createFn  func(ctx context.Context, handle string, cfg *model.AccountConfig, rentalDays *int) (*model.Account, string, error)
	extendFn  func(ctx context.Context, handle string, days int) (*model.RentalState, error)
	convertFn func(ctx context.Context, handle string, days int) (*model.RentalState, error)
	resetFn   func(ctx context.Context, handle string) (string, error)
}

func (m *mockAccountAdmin) CreateAccount(ctx context.Context, handle string, cfg *model.AccountConfig, rentalDays *int) (*model.Account, string, error) {
	return m.createFn(ctx, handle, cfg, rentalDays)
}

func (m *mockAccountAdmin) ExtendRental(ctx context.Context, handle string, days int) (*model.RentalState, error) {
	return m.extendFn(ctx, handle, days)
}

func (m *mockAccountAdmin) ConvertToRental(ctx context.Context, handle string, days int) (*model.RentalState, error) {
	return m.convertFn(ctx, handle, days)
}

func (m *mockAccountAdmin) ResetPassword(ctx context.Context, handle string) (string, error) {
	return m.resetFn(ctx, handle)
}

type mockBackups struct {
	backupAccountFn func(ctx context.Context, handle string) (string, error)
	backupAllFn     func(ctx context.Context) (string, error)
	restoreFn       func(ctx context.Context, key string) (int, error)
	listFn          func(ctx context.Context, prefix string) ([]string, error)
}

func (m *mockBackups) BackupAccount(ctx context.Context, handle string) (string, error) {
	return m.backupAccountFn(ctx, handle)
}

func (m *mockBackups) BackupAll(ctx context.Context) (string, error) {
	return m.backupAllFn(ctx)
}

func (m *mockBackups) Restore(ctx context.Context, key string) (int, error) {
	return m.restoreFn(ctx, key)
}

func (m *mockBackups) List(ctx context.Context, prefix string) ([]string, error) {
	return m.listFn(ctx, prefix)
}

type stubQueue struct {
	cleared int
	pending []alert.Item
}

func (q *stubQueue) Clear() int {
	n := len(q.pending)
	q.cleared += n
	q.pending = nil
	return n
}

func (q *stubQueue) Pending() []alert.Item { return q.pending }
func (q *stubQueue) History() []alert.Item { return nil }
func (q *stubQueue) State() alert.State    { return alert.StateIdle }

type stubSlipChecker struct {
	result *slipverify.PingResult
	err    error
}

func (s *stubSlipChecker) CheckSlipProvider(context.Context) (*slipverify.PingResult, error) {
	return s.result, s.err
}

// 型チェック: モックが各インターフェースを満たすこと
var (
	_ DonationServiceInterface = (*mockDonationService)(nil)
	_ LedgerInterface          = (*mockLedger)(nil)
	_ AuthServiceInterface     = (*mockAuthService)(nil)
	_ LoginRecorder            = (*recordedLogins)(nil)
	_ URLValidator             = (*mockURLValidator)(nil)
	_ AlertLogReader           = (*mockAlertLog)(nil)
	_ AccountAdmin             = (*mockAccountAdmin)(nil)
	_ BackupService            = (*mockBackups)(nil)
	_ AlertQueueAdmin          = (*stubQueue)(nil)
	_ SlipProviderChecker      = (*stubSlipChecker)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func accountFixture(handle string) *model.Account {
	acc := &model.Account{Handle: handle, Config: model.DefaultAccountConfig(handle)}
	acc.Config.EnableBankTransfer = true
	acc.Config.BankName = "KBANK"
	acc.Config.BankAccount = "123-4-56789-0"
	acc.Config.BankAccountName = "Alice"
	return acc
}

func ledgerFor(accounts ...*model.Account) *mockLedger {
	byHandle := make(map[string]*model.Account)
	for _, a := range accounts {
		byHandle[a.Handle] = a
	}
	return &mockLedger{
		getFn: func(ctx context.Context, handle string) (*model.Account, error) {
			if a, ok := byHandle[handle]; ok {
				return a, nil
			}
			return nil, model.NewNotFoundError("account")
		},
	}
}
