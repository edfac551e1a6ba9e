// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// CurrentConfigVersion は現在のアカウント設定スキーマのバージョン。
// 読み込み時にMigrateAccountがこのバージョンまで引き上げる。
const CurrentConfigVersion = 2

var (
	handlePattern      = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)
	walletPhonePattern = regexp.MustCompile(`^[0-9]{10}$`)
	bankAccountPattern = regexp.MustCompile(`^[0-9]{10,15}$`)
)

// Account はストリーマー1人分のアカウントを表す。
// 設定・レンタル状態・認証状態はアカウントに埋め込まれた値オブジェクトで、単独では参照されない。
// 永続化は1アカウント1ドキュメントのJSONとして行う。
type Account struct {
	Handle        string        `json:"handle"`
	CreatedAt     time.Time     `json:"created_at"`
	LastActiveAt  time.Time     `json:"last_active_at"`
	ConfigVersion int           `json:"config_version"`
	Config        AccountConfig `json:"config"`
	Rental        *RentalState  `json:"rental,omitempty"`
	Auth          *AuthState    `json:"auth,omitempty"`
	Donations     []Donation    `json:"donations"`
	Stats         Stats         `json:"stats"`
}

// AccountConfig は受け取り設定と表示設定を保持する。
type AccountConfig struct {
	WalletPhone        string `json:"wallet_phone"`
	StreamTitle        string `json:"stream_title"`
	EnableWallet       bool   `json:"enable_wallet"`
	EnableBankTransfer bool   `json:"enable_bank_transfer"`
	BankName           string `json:"bank_name"`
	BankAccount        string `json:"bank_account"`
	BankAccountName    string `json:"bank_account_name"`

	AlertDurationMs int    `json:"alert_duration_ms"`
	EnableTTS       bool   `json:"enable_tts"`
	EnableSound     bool   `json:"enable_sound"`
	MinTTSAmount    int64  `json:"min_tts_amount"`
	AlertFormat     string `json:"alert_format"`
	AlertPosition   string `json:"alert_position"`
	WelcomeMessage  string `json:"welcome_message"`
	WebhookURL      string `json:"webhook_url"`
}

// RentalState は期限付きアカウントのライフサイクル情報。
// Expiredはスイープで明示的に更新されるキャッシュで、判定はExpiresAtを正とする。
type RentalState struct {
	IsRental       bool       `json:"is_rental"`
	RentalDays     int        `json:"rental_days"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Expired        bool       `json:"expired"`
	CreatedAt      time.Time  `json:"created_at"`
	LastExtendedAt *time.Time `json:"last_extended_at,omitempty"`
}

// AuthState はパスワード認証とロックアウトの状態。
type AuthState struct {
	PasswordHash   string     `json:"password_hash"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	FailedAttempts int        `json:"failed_attempts"`
	LockUntil      *time.Time `json:"lock_until,omitempty"`
}

// NewAccount は既定値で初期化されたアカウントを生成する。
func NewAccount(handle string, now time.Time) *Account {
	return &Account{
		Handle:        handle,
		CreatedAt:     now,
		LastActiveAt:  now,
		ConfigVersion: CurrentConfigVersion,
		Config:        DefaultAccountConfig(handle),
		Donations:     []Donation{},
	}
}

// DefaultAccountConfig はハンドルに応じた既定の設定を返す。
func DefaultAccountConfig(handle string) AccountConfig {
	return AccountConfig{
		StreamTitle:     fmt.Sprintf("%s's Stream", handle),
		AlertDurationMs: 5000,
		EnableTTS:       true,
		EnableSound:     true,
		MinTTSAmount:    50,
		AlertFormat:     "{{user}} โดเนท {{amount}}",
		AlertPosition:   "top",
		WelcomeMessage:  fmt.Sprintf("ยินดีต้อนรับสู่สตรีมของ %s!", handle),
	}
}

// MigrateAccount は読み込んだアカウントを現行スキーマへ移行する。
// 欠けている値を既定値で埋める処理はここに集約し、暗黙のマージは行わない。
// 移行を行った場合はtrueを返す。
func MigrateAccount(acc *Account) bool {
	if acc.ConfigVersion >= CurrentConfigVersion {
		return false
	}

	defaults := DefaultAccountConfig(acc.Handle)

	// v0 -> v1: 表示設定の既定値を補完
	if acc.ConfigVersion < 1 {
		if acc.Config.StreamTitle == "" {
			acc.Config.StreamTitle = defaults.StreamTitle
		}
		if acc.Config.AlertDurationMs <= 0 {
			acc.Config.AlertDurationMs = defaults.AlertDurationMs
		}
		if acc.Config.AlertPosition == "" {
			acc.Config.AlertPosition = defaults.AlertPosition
		}
		if acc.Config.WelcomeMessage == "" {
			acc.Config.WelcomeMessage = defaults.WelcomeMessage
		}
	}

	// v1 -> v2: TTS閾値とアラート書式を追加、ウォレット番号があれば受け取りを有効化
	if acc.ConfigVersion < 2 {
		if acc.Config.MinTTSAmount <= 0 {
			acc.Config.MinTTSAmount = defaults.MinTTSAmount
		}
		if acc.Config.AlertFormat == "" {
			acc.Config.AlertFormat = defaults.AlertFormat
		}
		if acc.Config.WalletPhone != "" {
			acc.Config.EnableWallet = true
		}
	}

	if acc.Donations == nil {
		acc.Donations = []Donation{}
	}
	acc.ConfigVersion = CurrentConfigVersion
	return true
}

// ValidateHandle はハンドルの形式（3〜20文字の英数字・_・-）を検証する。
func ValidateHandle(handle string) error {
	if handle == "" {
		return NewValidationError("handle", "ハンドルは必須です。")
	}
	if !handlePattern.MatchString(handle) {
		return NewValidationError("handle", "ハンドルは3〜20文字の英数字、_、- で指定してください。")
	}
	return nil
}

// ValidateWalletPhone はウォレット電話番号（10桁の数字）を検証する。
func ValidateWalletPhone(phone string) error {
	if !walletPhonePattern.MatchString(phone) {
		return NewValidationError("wallet_phone", "電話番号は10桁の数字で指定してください。")
	}
	return nil
}

// ValidateBankSettings は銀行振込の受け取り設定を検証する。
// 銀行名・口座名義が存在し、口座番号が区切り文字を除いて10〜15桁であること。
func ValidateBankSettings(cfg AccountConfig) error {
	var problems []string
	if strings.TrimSpace(cfg.BankName) == "" {
		problems = append(problems, "bank_name")
	}
	if !bankAccountPattern.MatchString(normalizeBankAccount(cfg.BankAccount)) {
		problems = append(problems, "bank_account")
	}
	if strings.TrimSpace(cfg.BankAccountName) == "" {
		problems = append(problems, "bank_account_name")
	}
	if len(problems) > 0 {
		return NewValidationError(strings.Join(problems, ","), "銀行振込の設定が正しくありません。")
	}
	return nil
}

// normalizeBankAccount は口座番号から空白とハイフンを取り除く。
func normalizeBankAccount(s string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(s)
}

// IsRentalAccount はレンタル（期限付き）アカウントかどうかを返す。
func (a *Account) IsRentalAccount() bool {
	return a.Rental != nil && a.Rental.IsRental
}
