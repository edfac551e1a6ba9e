package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/donalert/internal/model"
)

// SQLAlertLogRepo はalert_logテーブルに配信済みアラートを記録するリポジトリ。
type SQLAlertLogRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewPostgresAlertLogRepo はPostgreSQL用のSQLAlertLogRepoを生成する。
func NewPostgresAlertLogRepo(db *sql.DB) *SQLAlertLogRepo {
	return &SQLAlertLogRepo{db: db, dialect: PostgresDialect}
}

// NewSQLiteAlertLogRepo はSQLite用のSQLAlertLogRepoを生成する。
func NewSQLiteAlertLogRepo(db *sql.DB) *SQLAlertLogRepo {
	return &SQLAlertLogRepo{db: db, dialect: SQLiteDialect}
}

// Insert は配信したアラートを記録する。
func (r *SQLAlertLogRepo) Insert(ctx context.Context, handle string, alert model.Alert, dispatchedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Q(
		`INSERT INTO alert_log (handle, donation_id, donor_name, amount, message, donated_at, dispatched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		handle, alert.ID, alert.Name, alert.Amount, alert.Message, alert.Timestamp, dispatchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert log: %w", err)
	}
	return nil
}

// ListRecent は指定アカウントの直近のアラートを新しい順に返す。
func (r *SQLAlertLogRepo) ListRecent(ctx context.Context, handle string, limit int) ([]model.Alert, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Q(
		`SELECT donation_id, donor_name, amount, message, donated_at
		 FROM alert_log
		 WHERE handle = $1
		 ORDER BY id DESC
		 LIMIT $2`),
		handle, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert log: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.Name, &a.Amount, &a.Message, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan alert log: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert log: %w", err)
	}
	return alerts, nil
}

// DeleteDispatchedBefore はcutoffより前に配信した記録を削除し、件数を返す。
func (r *SQLAlertLogRepo) DeleteDispatchedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, r.dialect.Q(`DELETE FROM alert_log WHERE dispatched_at < $1`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete alert log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted alert log: %w", err)
	}
	return int(n), nil
}

// compile-time interface check
var _ AlertLogRepository = (*SQLAlertLogRepo)(nil)
