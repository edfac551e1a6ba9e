// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/donalert/internal/model"
)

var (
	// ErrAccountNotFound はアカウントが存在しないことを表す。
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountAlreadyExists はハンドルが既に使われていることを表す。
	ErrAccountAlreadyExists = errors.New("account already exists")
)

// MutateFunc はアカウントを変更する関数。
// エラーを返した場合は変更を破棄し、書き込みを行わない。
type MutateFunc func(acc *model.Account) error

// AccountRepository はアカウントドキュメントの永続化インターフェース。
// 1アカウント = 1ドキュメントで、更新は常に全体の読み込み・変更・書き込みで行う。
type AccountRepository interface {
	// Create はアカウントを作成する。既に存在する場合はErrAccountAlreadyExistsを返す。
	Create(ctx context.Context, acc *model.Account) error

	// FindByHandle はアカウントを取得する。見つからない場合はnilを返す。
	// 読み込み時にmodel.MigrateAccountを適用する。
	FindByHandle(ctx context.Context, handle string) (*model.Account, error)

	// Update はアカウントを行ロック付きで読み込み、fnで変更して書き戻す。
	// 同一アカウントへの更新は直列化される。見つからない場合はErrAccountNotFoundを返す。
	Update(ctx context.Context, handle string, fn MutateFunc) (*model.Account, error)

	// Save はアカウントを丸ごと上書き保存する（存在しなければ作成）。リストア用。
	Save(ctx context.Context, acc *model.Account) error

	// Delete はアカウントを削除する。関連するセッションもCASCADE削除される。
	Delete(ctx context.Context, handle string) error

	// ListHandles は全アカウントのハンドルを返す。
	ListHandles(ctx context.Context) ([]string, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// 有効期限の判定は呼び出し側で行う。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Touch は最終アクセス時刻を更新する。
	Touch(ctx context.Context, id string, at time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByHandle は指定アカウントの全セッションを削除する。
	DeleteByHandle(ctx context.Context, handle string) error
}

// AlertLogRepository は配信済みアラートの監査ログの永続化インターフェース。
type AlertLogRepository interface {
	// Insert は配信したアラートを記録する。
	Insert(ctx context.Context, handle string, alert model.Alert, dispatchedAt time.Time) error
	// ListRecent は指定アカウントの直近のアラートを新しい順に返す。
	ListRecent(ctx context.Context, handle string, limit int) ([]model.Alert, error)
}
