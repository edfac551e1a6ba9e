package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/donalert/internal/model"
)

// SQLSessionRepo はsessionsテーブルを使用したセッションリポジトリ。
type SQLSessionRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewPostgresSessionRepo はPostgreSQL用のSQLSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *SQLSessionRepo {
	return &SQLSessionRepo{db: db, dialect: PostgresDialect}
}

// NewSQLiteSessionRepo はSQLite用のSQLSessionRepoを生成する。
func NewSQLiteSessionRepo(db *sql.DB) *SQLSessionRepo {
	return &SQLSessionRepo{db: db, dialect: SQLiteDialect}
}

// Create はセッションを作成する。
func (r *SQLSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Q(
		`INSERT INTO sessions (id, handle, login_at, last_access_at, client_ip, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6)`),
		session.ID, session.Handle, session.LoginAt, session.LastAccessAt, session.ClientIP, session.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *SQLSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx, r.dialect.Q(
		`SELECT id, handle, login_at, last_access_at, client_ip, user_agent
		 FROM sessions
		 WHERE id = $1`),
		id,
	).Scan(&session.ID, &session.Handle, &session.LoginAt, &session.LastAccessAt, &session.ClientIP, &session.UserAgent)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// Touch は最終アクセス時刻を更新する。
func (r *SQLSessionRepo) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Q(
		`UPDATE sessions SET last_access_at = $1 WHERE id = $2`),
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *SQLSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Q(`DELETE FROM sessions WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByHandle は指定アカウントの全セッションを削除する。
func (r *SQLSessionRepo) DeleteByHandle(ctx context.Context, handle string) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Q(`DELETE FROM sessions WHERE handle = $1`), handle)
	if err != nil {
		return fmt.Errorf("failed to delete account sessions: %w", err)
	}
	return nil
}

// DeleteLoggedInBefore はcutoffより前にログインしたセッションを削除し、件数を返す。
func (r *SQLSessionRepo) DeleteLoggedInBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, r.dialect.Q(`DELETE FROM sessions WHERE login_at < $1`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return int(n), nil
}

// compile-time interface check
var _ SessionRepository = (*SQLSessionRepo)(nil)
