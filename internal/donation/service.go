// Package donation は寄付の受け付けを調停する。
//
// 手動登録・ウォレットのバウチャー・銀行振込スリップの3経路を扱い、
// 外部プロバイダーでの検証、重複と受取口座の照合、台帳への追加、
// アラートキューへの投入までを1回の呼び出しで行う。
// 台帳に追加してキューへ投入した寄付は取り消さない。
package donation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/donalert/internal/bankmatch"
	"github.com/hitoshi/donalert/internal/ledger"
	"github.com/hitoshi/donalert/internal/metrics"
	"github.com/hitoshi/donalert/internal/model"
	"github.com/hitoshi/donalert/internal/security"
	"github.com/hitoshi/donalert/internal/slipverify"
	"github.com/hitoshi/donalert/internal/truewallet"
)

const (
	providerWallet = "truewallet"
	providerSlip   = "slipverify"
)

// Ledger は寄付の追加先。
type Ledger interface {
	Append(ctx context.Context, handle string, in model.DonationInput, checks ...ledger.Check) (*model.Donation, error)
}

// AccountGuard は受け付け前にアカウントが利用可能かを確認する。
type AccountGuard interface {
	EnsureActive(ctx context.Context, handle string) (*model.Account, error)
}

// VoucherRedeemer はウォレットのバウチャーを受け取る。
type VoucherRedeemer interface {
	Redeem(ctx context.Context, phone, voucher string) (*truewallet.RedeemResult, error)
}

// SlipProvider は振込スリップを照会する。
type SlipProvider interface {
	Inquire(ctx context.Context, payload string) (*slipverify.Result, error)
	Ping(ctx context.Context) (*slipverify.PingResult, error)
}

// AlertEnqueuer は確定した寄付のアラートを配信キューへ積む。
type AlertEnqueuer interface {
	Enqueue(handle string, a model.Alert)
}

// WebhookDispatcher は確定した寄付をWebhookで非同期に通知する。
type WebhookDispatcher interface {
	Dispatch(url, handle string, a model.Alert)
}

// Config は入力の正規化に関する設定。
type Config struct {
	NameMaxRunes    int
	MessageMaxRunes int
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{NameMaxRunes: 50, MessageMaxRunes: 200}
}

// Submitter は送信元クライアントの情報。監査用に寄付へ記録する。
type Submitter struct {
	ClientIP  string
	UserAgent string
}

// ManualRequest は配信者による手動登録。
type ManualRequest struct {
	Name    string
	Amount  int64
	Message string
}

// VoucherRequest はバウチャーでの寄付。
type VoucherRequest struct {
	Name    string
	Message string
	Voucher string
}

// SlipRequest は銀行振込スリップでの寄付。ExpectedAmountが0の場合は金額を照合しない。
type SlipRequest struct {
	Name           string
	Message        string
	Payload        string
	ExpectedAmount int64
}

// Service は寄付の受け付けを調停する。
type Service struct {
	ledger    Ledger
	guard     AccountGuard
	wallet    VoucherRedeemer
	slips     SlipProvider
	alerts    AlertEnqueuer
	webhooks  WebhookDispatcher
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    Config

	now func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	l Ledger,
	guard AccountGuard,
	wallet VoucherRedeemer,
	slips SlipProvider,
	alerts AlertEnqueuer,
	webhooks WebhookDispatcher,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Service {
	return &Service{
		ledger:    l,
		guard:     guard,
		wallet:    wallet,
		slips:     slips,
		alerts:    alerts,
		webhooks:  webhooks,
		sanitizer: sanitizer,
		metrics:   collector,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// SubmitManual は配信者が手動で寄付を登録する。プロバイダー呼び出しと重複検査は行わない。
func (s *Service) SubmitManual(ctx context.Context, handle string, req ManualRequest, from Submitter) (d *model.Donation, err error) {
	defer s.recordFailure(model.PaymentMethodManual, &err)

	acc, err := s.guard.EnsureActive(ctx, handle)
	if err != nil {
		return nil, err
	}

	name, message, err := s.cleanDonor(req.Name, req.Message)
	if err != nil {
		return nil, err
	}

	d, err = s.ledger.Append(ctx, handle, model.DonationInput{
		Name:          name,
		Amount:        req.Amount,
		Message:       message,
		PaymentMethod: model.PaymentMethodManual,
		ClientIP:      from.ClientIP,
		UserAgent:     from.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	s.accept(handle, acc.Config.WebhookURL, d)
	return d, nil
}

// RedeemVoucher はバウチャーを配信者のウォレットで受け取り、受け取った金額で寄付を登録する。
func (s *Service) RedeemVoucher(ctx context.Context, handle string, req VoucherRequest, from Submitter) (d *model.Donation, err error) {
	defer s.recordFailure(model.PaymentMethodWallet, &err)

	acc, err := s.guard.EnsureActive(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !acc.Config.EnableWallet || acc.Config.WalletPhone == "" {
		return nil, model.NewFeatureDisabledError("ウォレットでの受け取り")
	}

	name, message, err := s.cleanDonor(req.Name, req.Message)
	if err != nil {
		return nil, err
	}
	code, err := truewallet.NormalizeVoucher(req.Voucher)
	if err != nil {
		return nil, err
	}

	start := s.now()
	result, err := s.wallet.Redeem(ctx, acc.Config.WalletPhone, code)
	s.metrics.RecordProviderLatency(providerWallet, s.now().Sub(start))
	if err != nil {
		s.logger.Warn("バウチャーの受け取りに失敗しました",
			slog.String("handle", handle),
			slog.String("voucher", code),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if result.Amount <= 0 {
		return nil, model.NewUpstreamRejectedError(providerWallet, "受け取り金額が0です")
	}

	d, err = s.ledger.Append(ctx, handle, model.DonationInput{
		Name:          name,
		Amount:        result.Amount,
		Message:       message,
		PaymentMethod: model.PaymentMethodWallet,
		VoucherCode:   result.VoucherCode,
		PhoneNumber:   acc.Config.WalletPhone,
		ClientIP:      from.ClientIP,
		UserAgent:     from.UserAgent,
	})
	if err != nil {
		// バウチャーは受け取り済みなので、後から突き合わせられるよう残す
		s.logger.Error("受け取り済みバウチャーの記録に失敗しました",
			slog.String("handle", handle),
			slog.String("voucher", code),
			slog.Int64("amount", result.Amount),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.accept(handle, acc.Config.WebhookURL, d)
	return d, nil
}

// VerifySlip は振込スリップを検証し、受取口座・金額・重複を確認してから寄付を登録する。
//
// 判定順は 機能有効 → 口座設定 → 入力 → プロバイダー → 有効フラグ → 金額 →
// 重複 → 受取口座 → 申告金額。重複は台帳の保護区間内でもう一度検査する。
func (s *Service) VerifySlip(ctx context.Context, handle string, req SlipRequest, from Submitter) (d *model.Donation, err error) {
	defer s.recordFailure(model.PaymentMethodBankTransfer, &err)

	acc, err := s.guard.EnsureActive(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !acc.Config.EnableBankTransfer {
		return nil, model.NewFeatureDisabledError("銀行振込での受け取り")
	}
	if err := model.ValidateBankSettings(acc.Config); err != nil {
		return nil, err
	}

	name, message, err := s.cleanDonor(req.Name, req.Message)
	if err != nil {
		return nil, err
	}
	if req.Payload == "" {
		return nil, model.NewValidationError("payload", "スリップのQRコードを指定してください。")
	}
	if req.ExpectedAmount < 0 {
		return nil, model.NewValidationError("expected_amount", "金額は0以上で指定してください。")
	}

	start := s.now()
	slip, err := s.slips.Inquire(ctx, req.Payload)
	s.metrics.RecordProviderLatency(providerSlip, s.now().Sub(start))
	if err != nil {
		return nil, err
	}
	if !slip.Valid {
		return nil, model.NewInvalidProofError("プロバイダーが無効と判定しました")
	}

	amount := int64(slip.Data.Amount)
	if amount <= 0 {
		return nil, model.NewInvalidProofError("金額が0以下です")
	}

	if err := ledger.CheckProof(acc, slip.Data.TransRef, slip.Discriminator); err != nil {
		s.logger.Warn("使用済みのスリップが提出されました",
			slog.String("handle", handle),
			slog.String("trans_ref", slip.Data.TransRef),
		)
		return nil, err
	}

	receiver := slip.Data.Receiver.Account.Value
	rule := bankmatch.Explain(acc.Config.BankAccount, receiver)
	s.logger.Info("受取口座を照合しました",
		slog.String("handle", handle),
		slog.String("declared", bankmatch.Mask(acc.Config.BankAccount)),
		slog.String("provider", receiver),
		slog.Int("declared_digits", len(bankmatch.Digits(acc.Config.BankAccount))),
		slog.Int("provider_digits", len(bankmatch.Digits(receiver))),
		slog.Bool("matched", rule != bankmatch.RuleNone),
		slog.String("rule", string(rule)),
	)
	if rule == bankmatch.RuleNone {
		return nil, model.NewAccountMismatchError()
	}

	if req.ExpectedAmount > 0 && float64(req.ExpectedAmount) != slip.Data.Amount {
		return nil, model.NewAmountMismatchError(req.ExpectedAmount, amount)
	}

	d, err = s.ledger.Append(ctx, handle, model.DonationInput{
		Name:           name,
		Amount:         amount,
		Message:        message,
		PaymentMethod:  model.PaymentMethodBankTransfer,
		TransactionRef: slip.Data.TransRef,
		Discriminator:  slip.Discriminator,
		BankName:       acc.Config.BankName,
		BankAccount:    acc.Config.BankAccount,
		Slip:           slip.Data.Snapshot(),
		ClientIP:       from.ClientIP,
		UserAgent:      from.UserAgent,
	}, ledger.ProofCheck(slip.Data.TransRef, slip.Discriminator))
	if err != nil {
		return nil, err
	}

	s.accept(handle, acc.Config.WebhookURL, d)
	return d, nil
}

// CheckSlipProvider はスリップ照会APIへの接続を確認する。
func (s *Service) CheckSlipProvider(ctx context.Context) (*slipverify.PingResult, error) {
	start := s.now()
	res, err := s.slips.Ping(ctx)
	s.metrics.RecordProviderLatency(providerSlip, s.now().Sub(start))
	return res, err
}

// cleanDonor は名前とメッセージをプレーンテキストに正規化し、名前が空でないことを確認する。
func (s *Service) cleanDonor(name, message string) (string, string, error) {
	name = s.sanitizer.Clean(name, s.config.NameMaxRunes)
	if name == "" {
		return "", "", model.NewValidationError("name", "名前は必須です。")
	}
	return name, s.sanitizer.Clean(message, s.config.MessageMaxRunes), nil
}

// accept は追加済みの寄付をアラートキューへ積み、Webhookを送る。
func (s *Service) accept(handle, webhookURL string, d *model.Donation) {
	alert := model.AlertFromDonation(d)
	s.alerts.Enqueue(handle, alert)
	s.webhooks.Dispatch(webhookURL, handle, alert)
	s.metrics.RecordDonation(string(d.PaymentMethod), d.Amount)

	s.logger.Info("寄付を受け付けました",
		slog.String("handle", handle),
		slog.String("donation_id", d.ID),
		slog.String("method", string(d.PaymentMethod)),
		slog.Int64("amount", d.Amount),
	)
}

func (s *Service) recordFailure(method model.PaymentMethod, errp *error) {
	if *errp == nil {
		return
	}
	apiErr := model.AsAPIError(*errp)
	s.metrics.RecordVerificationFailure(string(method), apiErr.Code)
	if apiErr.Code == model.ErrCodeInternal {
		s.logger.Error("寄付の受け付け中にエラーが発生しました",
			slog.String("method", string(method)),
			slog.String("error", fmt.Sprint(*errp)),
		)
	}
}
