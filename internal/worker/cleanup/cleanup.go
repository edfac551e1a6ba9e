// Package cleanup は不要になったセッションと配信ログの自動削除ジョブを提供する。
// 失効から時間の経ったセッションと、保持期間（デフォルト90日）を超過した
// alert_logを日次バッチで削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SessionPruner は指定時刻より前にログインしたセッションを削除する。
type SessionPruner interface {
	DeleteLoggedInBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AlertLogPruner は指定時刻より前に配信したアラートの記録を削除する。
type AlertLogPruner interface {
	DeleteDispatchedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CleanupJob は日次実行のバッチジョブ。冪等で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	sessions SessionPruner
	alerts   AlertLogPruner
	logger   *slog.Logger

	SessionTTL    time.Duration // セッションの有効期間（デフォルト: 24時間）
	RetentionDays int           // alert_logの保持日数（デフォルト: 90）

	now func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionPruner, alerts AlertLogPruner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		alerts:        alerts,
		logger:        logger,
		SessionTTL:    24 * time.Hour,
		RetentionDays: 90,
		now:           time.Now,
	}
}

// Run は失効済みセッションと保持期間を超過した配信ログを削除する。
// 片方が失敗してももう片方は実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	sessions, sessErr := j.sessions.DeleteLoggedInBefore(ctx, start.Add(-j.SessionTTL))
	if sessErr != nil {
		j.logger.Error("セッションのクリーンアップに失敗しました", slog.String("error", sessErr.Error()))
		sessErr = fmt.Errorf("セッションのクリーンアップに失敗: %w", sessErr)
	}

	alerts, alertErr := j.alerts.DeleteDispatchedBefore(ctx, start.AddDate(0, 0, -j.RetentionDays))
	if alertErr != nil {
		j.logger.Error("配信ログのクリーンアップに失敗しました",
			slog.String("error", alertErr.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		alertErr = fmt.Errorf("配信ログのクリーンアップに失敗: %w", alertErr)
	}

	if err := errors.Join(sessErr, alertErr); err != nil {
		return err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int("deleted_sessions", sessions),
		slog.Int("deleted_alert_logs", alerts),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後はintervalごとにRunを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
