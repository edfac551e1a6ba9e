package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/donalert/internal/model"
)

// SQLAccountRepo はaccountsテーブルにJSONドキュメントとしてアカウントを保存するリポジトリ。
// PostgreSQLとSQLiteの両方で動作する。
type SQLAccountRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewPostgresAccountRepo はPostgreSQL用のSQLAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *SQLAccountRepo {
	return &SQLAccountRepo{db: db, dialect: PostgresDialect}
}

// NewSQLiteAccountRepo はSQLite用のSQLAccountRepoを生成する。
// dbは database.OpenSQLite で開いたもの（IMMEDIATEトランザクション）を渡すこと。
func NewSQLiteAccountRepo(db *sql.DB) *SQLAccountRepo {
	return &SQLAccountRepo{db: db, dialect: SQLiteDialect}
}

// Create はアカウントを作成する。
func (r *SQLAccountRepo) Create(ctx context.Context, acc *model.Account) error {
	doc, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.dialect.Q(
		`INSERT INTO accounts (handle, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)`),
		acc.Handle, string(doc), acc.CreatedAt, time.Now(),
	)
	if r.dialect.UniqueViolation(err) {
		return ErrAccountAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// FindByHandle はアカウントを取得する。見つからない場合はnilを返す。
func (r *SQLAccountRepo) FindByHandle(ctx context.Context, handle string) (*model.Account, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx, r.dialect.Q(
		`SELECT document FROM accounts WHERE handle = $1`),
		handle,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return decodeAccount(doc)
}

// Update はアカウントを行ロック付きで読み込み、fnで変更して書き戻す。
// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
func (r *SQLAccountRepo) Update(ctx context.Context, handle string, fn MutateFunc) (*model.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.QueryRowContext(ctx, r.dialect.Q(
		`SELECT document FROM accounts WHERE handle = $1`+r.dialect.LockClause),
		handle,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	acc, err := decodeAccount(doc)
	if err != nil {
		return nil, err
	}

	if err := fn(acc); err != nil {
		return nil, err
	}

	updated, err := json.Marshal(acc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, r.dialect.Q(
		`UPDATE accounts SET document = $1, updated_at = $2 WHERE handle = $3`),
		string(updated), time.Now(), handle,
	); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit account update: %w", err)
	}
	return acc, nil
}

// Save はアカウントを丸ごと上書き保存する。
func (r *SQLAccountRepo) Save(ctx context.Context, acc *model.Account) error {
	doc, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.dialect.Q(
		`INSERT INTO accounts (handle, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (handle) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`),
		acc.Handle, string(doc), acc.CreatedAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// Delete はアカウントを削除する。
func (r *SQLAccountRepo) Delete(ctx context.Context, handle string) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Q(`DELETE FROM accounts WHERE handle = $1`), handle)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// ListHandles は全アカウントのハンドルをハンドル順で返す。
func (r *SQLAccountRepo) ListHandles(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT handle FROM accounts ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var handles []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan handle: %w", err)
		}
		handles = append(handles, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return handles, nil
}

// decodeAccount はJSONドキュメントを復元し、現行スキーマへ移行する。
func decodeAccount(doc []byte) (*model.Account, error) {
	var acc model.Account
	if err := json.Unmarshal(doc, &acc); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	model.MigrateAccount(&acc)
	return &acc, nil
}

// compile-time interface check
var _ AccountRepository = (*SQLAccountRepo)(nil)
