// Package auth はアカウントのライフサイクル（レンタル期限）とパスワード認証を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/donalert/internal/locker"
	"github.com/hitoshi/donalert/internal/model"
	"github.com/hitoshi/donalert/internal/repository"
)

const (
	day = 24 * time.Hour

	passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// SessionTTL はログインからの固定のセッション有効期間。
	SessionTTL time.Duration
	// MaxLoginAttempts はロックされるまでの連続失敗回数。
	MaxLoginAttempts int
	// LockDuration はロック期間。
	LockDuration time.Duration
	// PasswordLength は自動生成するパスワードの長さ。
	PasswordLength int
	// BcryptCost はパスワードハッシュのコスト。
	BcryptCost int
}

// DefaultServiceConfig はデフォルトの認証設定を返す。
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		SessionTTL:       24 * time.Hour,
		MaxLoginAttempts: 5,
		LockDuration:     15 * time.Minute,
		PasswordLength:   12,
		BcryptCost:       bcrypt.DefaultCost,
	}
}

// ClientInfo はログイン元のクライアント情報。
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Service は認証とレンタル期限に関するビジネスロジックを提供する。
type Service struct {
	accounts repository.AccountRepository
	sessions repository.SessionRepository
	locks    *locker.KeyedMutex
	logger   *slog.Logger
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	locks *locker.KeyedMutex,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	return &Service{
		accounts: accounts,
		sessions: sessions,
		locks:    locks,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// CreateAccount はアカウントを作成し、生成した平文パスワードを返す。
// cfgがnilの場合は既定の設定を使う。rentalDaysを指定するとレンタルアカウントになる。
func (s *Service) CreateAccount(ctx context.Context, handle string, cfg *model.AccountConfig, rentalDays *int) (*model.Account, string, error) {
	if err := model.ValidateHandle(handle); err != nil {
		return nil, "", err
	}
	if rentalDays != nil && *rentalDays <= 0 {
		return nil, "", model.NewValidationError("rental_days", "レンタル日数は1以上で指定してください。")
	}

	password, hash, err := s.newPassword()
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	acc := model.NewAccount(handle, now)
	if cfg != nil {
		acc.Config = *cfg
	}
	acc.Auth = &model.AuthState{PasswordHash: hash}
	if rentalDays != nil {
		acc.Rental = &model.RentalState{
			IsRental:   true,
			RentalDays: *rentalDays,
			ExpiresAt:  now.Add(time.Duration(*rentalDays) * day),
			CreatedAt:  now,
		}
	}

	if err := s.accounts.Create(ctx, acc); err != nil {
		if errors.Is(err, repository.ErrAccountAlreadyExists) {
			return nil, "", model.NewAccountExistsError(handle)
		}
		return nil, "", fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("アカウントを作成しました",
		slog.String("handle", handle),
		slog.Bool("rental", acc.IsRentalAccount()),
	)
	return acc, password, nil
}

// VerifyLogin はパスワードを検証し、成功すればセッションを発行する。
// 失敗回数とロック状態は検証結果にかかわらず保存される。
func (s *Service) VerifyLogin(ctx context.Context, handle, password string, client ClientInfo) (*model.Session, error) {
	var outcome error
	now := s.now()

	_, err := s.update(ctx, handle, func(acc *model.Account) error {
		outcome = s.applyLoginAttempt(acc, password, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		s.logger.Warn("ログインに失敗しました",
			slog.String("handle", handle),
			slog.String("reason", model.AsAPIError(outcome).Code),
			slog.String("client_ip", client.IP),
		)
		return nil, outcome
	}

	session := &model.Session{
		ID:           uuid.NewString(),
		Handle:       handle,
		LoginAt:      now,
		LastAccessAt: now,
		ClientIP:     client.IP,
		UserAgent:    client.UserAgent,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Info("ログインしました", slog.String("handle", handle), slog.String("client_ip", client.IP))
	return session, nil
}

// applyLoginAttempt はログイン試行をAuthStateに反映し、失敗時はその理由を返す。
func (s *Service) applyLoginAttempt(acc *model.Account, password string, now time.Time) error {
	if acc.Auth == nil || acc.Auth.PasswordHash == "" {
		return model.NewUnauthorizedError()
	}
	st := acc.Auth

	if st.LockUntil != nil {
		if now.Before(*st.LockUntil) {
			return model.NewLockedError(*st.LockUntil)
		}
		// ロック期間が過ぎたらカウンターをやり直す
		st.LockUntil = nil
		st.FailedAttempts = 0
	}

	if bcrypt.CompareHashAndPassword([]byte(st.PasswordHash), []byte(password)) != nil {
		st.FailedAttempts++
		if st.FailedAttempts >= s.config.MaxLoginAttempts {
			lockUntil := now.Add(s.config.LockDuration)
			st.LockUntil = &lockUntil
			return model.NewLockedError(lockUntil)
		}
		return model.NewInvalidCredentialsError(s.config.MaxLoginAttempts - st.FailedAttempts)
	}

	// 期限切れのアカウントはログイン記録を更新せずに拒否する
	if status := CheckExpiry(acc.Rental, now); status.IsExpired {
		return model.NewRentalExpiredError(acc.Rental.ExpiresAt)
	}

	st.FailedAttempts = 0
	st.LockUntil = nil
	st.LastLoginAt = &now
	acc.LastActiveAt = now
	return nil
}

// ValidateSession はセッションを検証する。
// 有効期間はログイン時刻からの固定長で、アクセスしても延長されない。
func (s *Service) ValidateSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	now := s.now()
	if !now.Before(session.ExpiresAt(s.config.SessionTTL)) {
		if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
			s.logger.Warn("期限切れセッションの削除に失敗しました", slog.String("error", err.Error()))
		}
		return nil, model.NewUnauthorizedError()
	}

	if err := s.sessions.Touch(ctx, sessionID, now); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	session.LastAccessAt = now
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return model.NewUnauthorizedError()
	}
	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CheckExpiry はレンタル期限を判定する。状態は変更しない。
// レンタルでない場合はIsExpired=false、DaysLeft=-1を返す。
func CheckExpiry(rental *model.RentalState, now time.Time) model.ExpiryStatus {
	if rental == nil || !rental.IsRental {
		return model.ExpiryStatus{IsExpired: false, DaysLeft: -1}
	}
	remaining := rental.ExpiresAt.Sub(now)
	if remaining < 0 {
		return model.ExpiryStatus{IsExpired: true, DaysLeft: 0}
	}
	daysLeft := int(remaining / day)
	if remaining%day != 0 {
		daysLeft++
	}
	return model.ExpiryStatus{IsExpired: false, DaysLeft: daysLeft}
}

// EnsureActive はアカウントが存在し、レンタル期限切れでないことを確認する。
func (s *Service) EnsureActive(ctx context.Context, handle string) (*model.Account, error) {
	acc, err := s.accounts.FindByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if acc == nil {
		return nil, model.NewNotFoundError("account")
	}
	if CheckExpiry(acc.Rental, s.now()).IsExpired {
		return nil, model.NewRentalExpiredError(acc.Rental.ExpiresAt)
	}
	return acc, nil
}

// ExtendRental はレンタル期限を延長する。
// 起点は現在の期限と現在時刻の遅い方で、期限切れのアカウントは延長時点から数える。
func (s *Service) ExtendRental(ctx context.Context, handle string, additionalDays int) (*model.RentalState, error) {
	if additionalDays <= 0 {
		return nil, model.NewValidationError("days", "延長日数は1以上で指定してください。")
	}

	now := s.now()
	acc, err := s.update(ctx, handle, func(acc *model.Account) error {
		if !acc.IsRentalAccount() {
			return model.NewValidationError("handle", "レンタルアカウントではありません。")
		}
		base := acc.Rental.ExpiresAt
		if now.After(base) {
			base = now
		}
		acc.Rental.ExpiresAt = base.Add(time.Duration(additionalDays) * day)
		acc.Rental.Expired = false
		acc.Rental.RentalDays += additionalDays
		acc.Rental.LastExtendedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("レンタル期限を延長しました",
		slog.String("handle", handle),
		slog.Int("days", additionalDays),
		slog.Time("expires_at", acc.Rental.ExpiresAt),
	)
	return acc.Rental, nil
}

// ConvertToRental は通常アカウントをレンタルアカウントに変更する。
func (s *Service) ConvertToRental(ctx context.Context, handle string, days int) (*model.RentalState, error) {
	if days <= 0 {
		return nil, model.NewValidationError("days", "レンタル日数は1以上で指定してください。")
	}

	now := s.now()
	acc, err := s.update(ctx, handle, func(acc *model.Account) error {
		if acc.IsRentalAccount() {
			return model.NewValidationError("handle", "既にレンタルアカウントです。")
		}
		acc.Rental = &model.RentalState{
			IsRental:   true,
			RentalDays: days,
			ExpiresAt:  now.Add(time.Duration(days) * day),
			CreatedAt:  now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc.Rental, nil
}

// ResetPassword は新しいパスワードを生成して保存し、ロックと失敗回数を解除する。
// 認証情報を持たない旧アカウントの移行にも使う。既存のセッションはすべて破棄する。
func (s *Service) ResetPassword(ctx context.Context, handle string) (string, error) {
	password, hash, err := s.newPassword()
	if err != nil {
		return "", err
	}

	if _, err := s.update(ctx, handle, func(acc *model.Account) error {
		var lastLogin *time.Time
		if acc.Auth != nil {
			lastLogin = acc.Auth.LastLoginAt
		}
		acc.Auth = &model.AuthState{PasswordHash: hash, LastLoginAt: lastLogin}
		return nil
	}); err != nil {
		return "", err
	}

	if err := s.sessions.DeleteByHandle(ctx, handle); err != nil {
		s.logger.Warn("セッションの破棄に失敗しました",
			slog.String("handle", handle),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("パスワードをリセットしました", slog.String("handle", handle))
	return password, nil
}

// update はアカウント単位のロックを取得してリポジトリのUpdateを呼ぶ。
func (s *Service) update(ctx context.Context, handle string, fn repository.MutateFunc) (*model.Account, error) {
	unlock := s.locks.Lock(handle)
	defer unlock()

	acc, err := s.accounts.Update(ctx, handle, fn)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, model.NewNotFoundError("account")
	}
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return acc, nil
}

// newPassword はランダムなパスワードとそのbcryptハッシュを生成する。
func (s *Service) newPassword() (string, string, error) {
	length := s.config.PasswordLength
	if length <= 0 {
		length = DefaultServiceConfig().PasswordLength
	}
	buf := make([]byte, length)
	alphabetSize := big.NewInt(int64(len(passwordAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", "", fmt.Errorf("failed to generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}

	cost := s.config.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword(buf, cost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(buf), string(hash), nil
}
