// Package ledger はアカウントごとの寄付台帳と集計を提供する。
//
// 台帳への書き込みはすべてアカウント単位で直列化される。プロセス内ではキー付きミューテックス、
// ストレージ側ではリポジトリのUpdate（行ロックまたはIMMEDIATEトランザクション）で保護する。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/donalert/internal/locker"
	"github.com/hitoshi/donalert/internal/model"
	"github.com/hitoshi/donalert/internal/repository"
)

// Check はAppendの保護区間内で、追加前のアカウント状態に対して実行する検査。
// エラーを返すと追加は行われない。
type Check func(acc *model.Account) error

// Config は台帳の設定パラメータ。
type Config struct {
	// Retention はアカウントごとに保持する寄付の上限件数（デフォルト: 1000）。
	Retention int
	// Location は「今日」「今月」の集計に使うタイムゾーン（デフォルト: Asia/Bangkok）。
	Location *time.Location
}

// DefaultConfig はデフォルトの台帳設定を返す。
func DefaultConfig() Config {
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	return Config{
		Retention: 1000,
		Location:  loc,
	}
}

// Ledger は寄付台帳のサービス層。
type Ledger struct {
	accounts repository.AccountRepository
	locks    *locker.KeyedMutex
	logger   *slog.Logger
	config   Config
	now      func() time.Time
	newID    func() (string, error)
}

// New はLedgerを生成する。locksは同じアカウントを更新する他のサービスと共有すること。
func New(
	accounts repository.AccountRepository,
	locks *locker.KeyedMutex,
	logger *slog.Logger,
	config Config,
) *Ledger {
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	if config.Location == nil {
		config.Location = DefaultConfig().Location
	}
	return &Ledger{
		accounts: accounts,
		locks:    locks,
		logger:   logger,
		config:   config,
		now:      time.Now,
		newID:    newDonationID,
	}
}

// newDonationID は時系列順に並ぶUUIDv7を生成する。
func newDonationID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Get はアカウントを取得する。存在しない場合はNotFoundエラーを返す。
func (l *Ledger) Get(ctx context.Context, handle string) (*model.Account, error) {
	acc, err := l.accounts.FindByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if acc == nil {
		return nil, model.NewNotFoundError("account")
	}
	return acc, nil
}

// Mutate はアカウントをロックした状態でfnを適用し、集計を再計算して保存する。
func (l *Ledger) Mutate(ctx context.Context, handle string, fn repository.MutateFunc) (*model.Account, error) {
	unlock := l.locks.Lock(handle)
	defer unlock()

	acc, err := l.accounts.Update(ctx, handle, func(acc *model.Account) error {
		if err := fn(acc); err != nil {
			return err
		}
		acc.Stats = ComputeStats(acc.Donations, l.now(), l.config.Location)
		return nil
	})
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, model.NewNotFoundError("account")
	}
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, fmt.Errorf("アカウントの更新に失敗しました: %w", err)
	}
	return acc, nil
}

// Append は寄付を検証して台帳の先頭に追加し、保存した寄付を返す。
// checksは追加直前のアカウント状態に対して同じ保護区間内で実行される。
func (l *Ledger) Append(ctx context.Context, handle string, in model.DonationInput, checks ...Check) (*model.Donation, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var stored model.Donation
	_, err := l.Mutate(ctx, handle, func(acc *model.Account) error {
		for _, check := range checks {
			if err := check(acc); err != nil {
				return err
			}
		}

		id, err := l.newID()
		if err != nil {
			return fmt.Errorf("failed to generate donation id: %w", err)
		}
		now := l.now()
		stored = donationFromInput(id, now, in)

		acc.Donations = append([]model.Donation{stored}, acc.Donations...)
		if len(acc.Donations) > l.config.Retention {
			acc.Donations = acc.Donations[:l.config.Retention]
		}
		acc.LastActiveAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("寄付を記録しました",
		slog.String("handle", handle),
		slog.String("donation_id", stored.ID),
		slog.String("method", string(stored.PaymentMethod)),
		slog.Int64("amount", stored.Amount),
	)
	return &stored, nil
}

// Query はcriteriaに一致する寄付を返す。
func (l *Ledger) Query(ctx context.Context, handle string, c Criteria) ([]model.Donation, error) {
	acc, err := l.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	return Filter(acc.Donations, c), nil
}

// Stats は現在時刻基準で集計値を返す。
// 保存済みの集計は最終更新時点のものなので、日付依存の値を正しく返すため読み出し時にも再計算する。
func (l *Ledger) Stats(ctx context.Context, handle string) (model.Stats, error) {
	acc, err := l.Get(ctx, handle)
	if err != nil {
		return model.Stats{}, err
	}
	return ComputeStats(acc.Donations, l.now(), l.config.Location), nil
}

// UsedSlips は使用済みの銀行振込スリップを新しい順に最大limit件返す。
func (l *Ledger) UsedSlips(ctx context.Context, handle string, limit int) ([]model.UsedSlip, error) {
	acc, err := l.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	slips := make([]model.UsedSlip, 0)
	for _, d := range acc.Donations {
		if d.PaymentMethod != model.PaymentMethodBankTransfer {
			continue
		}
		if d.TransactionRef == "" && d.Discriminator == "" {
			continue
		}
		slips = append(slips, model.UsedSlip{
			DonationID:     d.ID,
			TransactionRef: d.TransactionRef,
			Discriminator:  d.Discriminator,
			Amount:         d.Amount,
			Name:           d.Name,
			CreatedAt:      d.CreatedAt,
		})
		if len(slips) >= limit {
			break
		}
	}
	return slips, nil
}

// UpdateConfig はアカウント設定を検証して置き換える。
func (l *Ledger) UpdateConfig(ctx context.Context, handle string, cfg model.AccountConfig) (*model.Account, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return l.Mutate(ctx, handle, func(acc *model.Account) error {
		acc.Config = cfg
		acc.LastActiveAt = l.now()
		return nil
	})
}

func validateInput(in model.DonationInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return model.NewValidationError("name", "名前は必須です。")
	}
	if in.Amount <= 0 {
		return model.NewValidationError("amount", "金額は1以上の整数で指定してください。")
	}
	if !in.PaymentMethod.Valid() {
		return model.NewValidationError("payment_method", "支払い方法が不正です。")
	}
	return nil
}

func validateConfig(cfg model.AccountConfig) error {
	if cfg.WalletPhone != "" {
		if err := model.ValidateWalletPhone(cfg.WalletPhone); err != nil {
			return err
		}
	}
	if cfg.EnableWallet && cfg.WalletPhone == "" {
		return model.NewValidationError("wallet_phone", "ウォレットを有効にするには電話番号が必要です。")
	}
	if cfg.EnableBankTransfer {
		if err := model.ValidateBankSettings(cfg); err != nil {
			return err
		}
	}
	if cfg.AlertDurationMs < 0 || cfg.MinTTSAmount < 0 {
		return model.NewValidationError("alert", "表示設定の値が不正です。")
	}
	if cfg.WebhookURL != "" &&
		!strings.HasPrefix(cfg.WebhookURL, "https://") && !strings.HasPrefix(cfg.WebhookURL, "http://") {
		return model.NewValidationError("webhook_url", "Webhook URLはhttp(s)で指定してください。")
	}
	return nil
}

func donationFromInput(id string, now time.Time, in model.DonationInput) model.Donation {
	return model.Donation{
		ID:             id,
		CreatedAt:      now,
		Name:           strings.TrimSpace(in.Name),
		Amount:         in.Amount,
		Message:        in.Message,
		PaymentMethod:  in.PaymentMethod,
		VoucherCode:    in.VoucherCode,
		PhoneNumber:    in.PhoneNumber,
		TransactionRef: in.TransactionRef,
		Discriminator:  in.Discriminator,
		BankName:       in.BankName,
		BankAccount:    in.BankAccount,
		Slip:           in.Slip,
		ClientIP:       in.ClientIP,
		UserAgent:      in.UserAgent,
	}
}
