// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"time"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string         // エラーコード
	Message  string         // エラーメッセージ
	Category string         // カテゴリ: auth, validation, payment, upstream, system
	Action   string         // ユーザー向け対処方法
	Details  map[string]any // 残り試行回数などの付加情報
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, model.ErrDuplicateProof) のように使う。
func (e *APIError) Is(target error) bool {
	var t *APIError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// 定義済みエラーコード
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeDuplicateProof      = "DUPLICATE_PROOF"
	ErrCodeAccountMismatch     = "ACCOUNT_MISMATCH"
	ErrCodeAmountMismatch      = "AMOUNT_MISMATCH"
	ErrCodeInvalidProof        = "INVALID_PROOF"
	ErrCodeUpstreamRejected    = "UPSTREAM_REJECTED"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeLocked              = "ACCOUNT_LOCKED"
	ErrCodeRentalExpired       = "RENTAL_EXPIRED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAccountExists       = "ACCOUNT_EXISTS"
	ErrCodeFeatureDisabled     = "FEATURE_DISABLED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// errors.Is の比較対象として使う番兵値。
var (
	ErrValidation          = &APIError{Code: ErrCodeValidation}
	ErrDuplicateProof      = &APIError{Code: ErrCodeDuplicateProof}
	ErrAccountMismatch     = &APIError{Code: ErrCodeAccountMismatch}
	ErrAmountMismatch      = &APIError{Code: ErrCodeAmountMismatch}
	ErrInvalidProof        = &APIError{Code: ErrCodeInvalidProof}
	ErrUpstreamRejected    = &APIError{Code: ErrCodeUpstreamRejected}
	ErrUpstreamUnavailable = &APIError{Code: ErrCodeUpstreamUnavailable}
	ErrInvalidCredentials  = &APIError{Code: ErrCodeInvalidCredentials}
	ErrLocked              = &APIError{Code: ErrCodeLocked}
	ErrRentalExpired       = &APIError{Code: ErrCodeRentalExpired}
	ErrNotFound            = &APIError{Code: ErrCodeNotFound}
	ErrAccountExists       = &APIError{Code: ErrCodeAccountExists}
	ErrFeatureDisabled     = &APIError{Code: ErrCodeFeatureDisabled}
	ErrUnauthorized        = &APIError{Code: ErrCodeUnauthorized}
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Details:  map[string]any{"field": field},
	}
}

// NewDuplicateProofError は使用済みスリップの再提出エラーを生成する。
// fieldは重複したキーの種類（transaction_ref または discriminator）。
func NewDuplicateProofError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateProof,
		Message:  "このスリップは既に使用されています。",
		Category: "payment",
		Action:   "新しい振込のスリップを提出してください。",
		Details:  map[string]any{"field": field},
	}
}

// NewAccountMismatchError は受取口座が設定と一致しないエラーを生成する。
func NewAccountMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountMismatch,
		Message:  "受取口座が配信者の設定と一致しません。",
		Category: "payment",
		Action:   "振込先の口座を確認してください。",
	}
}

// NewAmountMismatchError は申告金額とスリップ金額が異なるエラーを生成する。
func NewAmountMismatchError(expected, actual int64) *APIError {
	return &APIError{
		Code:     ErrCodeAmountMismatch,
		Message:  fmt.Sprintf("金額が一致しません: 申告 %d、スリップ %d", expected, actual),
		Category: "payment",
		Action:   "スリップに記載の金額で再度お試しください。",
		Details:  map[string]any{"expected": expected, "actual": actual},
	}
}

// NewInvalidProofError はプロバイダーがスリップを無効と判定したエラーを生成する。
func NewInvalidProofError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProof,
		Message:  fmt.Sprintf("スリップを検証できませんでした: %s", reason),
		Category: "payment",
		Action:   "正しいスリップのQRコードを提出してください。",
	}
}

// NewUpstreamRejectedError はプロバイダーが要求を拒否したエラーを生成する。
func NewUpstreamRejectedError(provider, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamRejected,
		Message:  fmt.Sprintf("%s が要求を拒否しました: %s", provider, reason),
		Category: "upstream",
		Action:   "入力内容を確認して再度お試しください。",
		Details:  map[string]any{"provider": provider},
	}
}

// NewUpstreamUnavailableError はプロバイダーに到達できない・タイムアウトしたエラーを生成する。
func NewUpstreamUnavailableError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  fmt.Sprintf("%s に接続できませんでした。", provider),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
		Details:  map[string]any{"provider": provider},
	}
}

// NewInvalidCredentialsError はパスワード不一致エラーを生成する。
func NewInvalidCredentialsError(remainingAttempts int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ハンドルまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   fmt.Sprintf("残り %d 回失敗するとロックされます。", remainingAttempts),
		Details:  map[string]any{"remaining_attempts": remainingAttempts},
	}
}

// NewLockedError はログインロック中エラーを生成する。
func NewLockedError(lockUntil time.Time) *APIError {
	return &APIError{
		Code:     ErrCodeLocked,
		Message:  "ログイン失敗が続いたためアカウントがロックされています。",
		Category: "auth",
		Action:   "ロック解除までお待ちください。",
		Details:  map[string]any{"lock_until": lockUntil},
	}
}

// NewRentalExpiredError はレンタル期限切れエラーを生成する。
func NewRentalExpiredError(expiredAt time.Time) *APIError {
	return &APIError{
		Code:     ErrCodeRentalExpired,
		Message:  "アカウントの利用期限が切れています。",
		Category: "auth",
		Action:   "管理者に期限の延長を依頼してください。",
		Details:  map[string]any{"expires_at": expiredAt},
	}
}

// NewNotFoundError は対象が見つからないエラーを生成する。
func NewNotFoundError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s が見つかりません。", what),
		Category: "validation",
		Action:   "指定内容を確認してください。",
	}
}

// NewAccountExistsError はハンドル重複エラーを生成する。
func NewAccountExistsError(handle string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountExists,
		Message:  fmt.Sprintf("ハンドル %s は既に使用されています。", handle),
		Category: "validation",
		Action:   "別のハンドルを指定してください。",
	}
}

// NewFeatureDisabledError は受け取り方法が無効化されているエラーを生成する。
func NewFeatureDisabledError(feature string) *APIError {
	return &APIError{
		Code:     ErrCodeFeatureDisabled,
		Message:  fmt.Sprintf("%s は有効になっていません。", feature),
		Category: "validation",
		Action:   "配信者の設定を確認してください。",
	}
}

// NewUnauthorizedError は認証が必要なエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// AsAPIError はerrをAPIErrorに変換する。
// APIError以外は内部エラーとして扱い、元のエラー内容は公開しない。
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError()
}
