// Package rental はレンタルアカウントの期限切れ処理を定期実行するジョブを提供する。
//
// MarkExpiredは期限の過ぎたアカウントにExpiredフラグを立てる。
// PurgeExpiredは猶予期間を過ぎたアカウントをバックアップしてから削除する。
// バックアップに失敗したアカウントは削除しない。
package rental

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/donalert/internal/auth"
	"github.com/hitoshi/donalert/internal/locker"
	"github.com/hitoshi/donalert/internal/model"
	"github.com/hitoshi/donalert/internal/repository"
)

var errUnchanged = errors.New("unchanged")

// Backuper は削除前のバックアップを行う。
type Backuper interface {
	BackupAccount(ctx context.Context, handle string) (string, error)
}

// SweepConfig はスイープジョブの設定パラメータ。
type SweepConfig struct {
	// Interval は実行間隔（デフォルト: 1時間）。
	Interval time.Duration
	// PurgeGraceDays は期限切れから削除までの猶予日数（デフォルト: 7日）。
	PurgeGraceDays int
}

// DefaultSweepConfig はデフォルトの設定を返す。
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:       time.Hour,
		PurgeGraceDays: 7,
	}
}

// Sweeper はレンタル期限のスイープジョブ。
type Sweeper struct {
	accounts repository.AccountRepository
	sessions repository.SessionRepository
	locks    *locker.KeyedMutex
	backups  Backuper
	logger   *slog.Logger
	config   SweepConfig

	now func() time.Time
}

// NewSweeper はSweeperを生成する。locksは台帳・認証と共有すること。
func NewSweeper(
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	locks *locker.KeyedMutex,
	backups Backuper,
	logger *slog.Logger,
	config SweepConfig,
) *Sweeper {
	return &Sweeper{
		accounts: accounts,
		sessions: sessions,
		locks:    locks,
		backups:  backups,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Start はコンテキストがキャンセルされるまで一定間隔でスイープを実行する。
// 起動直後に1回実行する。
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("レンタルスイープジョブを開始しました",
		slog.Duration("interval", s.config.Interval),
		slog.Int("purge_grace_days", s.config.PurgeGraceDays),
	)

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("レンタルスイープジョブを停止しました")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if _, err := s.MarkExpired(ctx); err != nil {
		s.logger.Error("期限切れの判定に失敗しました", slog.String("error", err.Error()))
	}
	if _, err := s.PurgeExpired(ctx); err != nil {
		s.logger.Error("期限切れアカウントの削除に失敗しました", slog.String("error", err.Error()))
	}
}

// MarkExpired は全レンタルアカウントのExpiredフラグを期限と現在時刻から更新し、
// 新たに期限切れになった件数を返す。延長済みで期限内に戻ったアカウントはフラグを外す。
func (s *Sweeper) MarkExpired(ctx context.Context) (int, error) {
	handles, err := s.accounts.ListHandles(ctx)
	if err != nil {
		return 0, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}

	now := s.now()
	marked := 0
	for _, handle := range handles {
		if ctx.Err() != nil {
			return marked, ctx.Err()
		}

		newlyExpired := false
		err := s.update(ctx, handle, func(acc *model.Account) error {
			if !acc.IsRentalAccount() {
				return errUnchanged
			}
			expired := auth.CheckExpiry(acc.Rental, now).IsExpired
			if acc.Rental.Expired == expired {
				return errUnchanged
			}
			acc.Rental.Expired = expired
			newlyExpired = expired
			return nil
		})
		if err != nil {
			s.logger.Error("期限切れフラグの更新に失敗しました",
				slog.String("handle", handle),
				slog.String("error", err.Error()),
			)
			continue
		}
		if newlyExpired {
			marked++
			s.logger.Info("レンタルアカウントを期限切れにしました", slog.String("handle", handle))
		}
	}

	s.logger.Info("期限切れの判定が完了しました",
		slog.Int("accounts", len(handles)),
		slog.Int("marked", marked),
	)
	return marked, nil
}

// PurgeExpired は期限から猶予日数を過ぎたレンタルアカウントをバックアップして削除し、
// 削除した件数を返す。
func (s *Sweeper) PurgeExpired(ctx context.Context) (int, error) {
	handles, err := s.accounts.ListHandles(ctx)
	if err != nil {
		return 0, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}

	cutoff := s.now().AddDate(0, 0, -s.config.PurgeGraceDays)
	purged := 0
	for _, handle := range handles {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}

		ok, err := s.purge(ctx, handle, cutoff)
		if err != nil {
			s.logger.Error("アカウントの削除をスキップしました",
				slog.String("handle", handle),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			purged++
		}
	}

	s.logger.Info("期限切れアカウントの削除が完了しました",
		slog.Int("accounts", len(handles)),
		slog.Int("purged", purged),
	)
	return purged, nil
}

// purge はロックを保持したまま対象判定・バックアップ・削除を行う。
func (s *Sweeper) purge(ctx context.Context, handle string, cutoff time.Time) (bool, error) {
	unlock := s.locks.Lock(handle)
	defer unlock()

	acc, err := s.accounts.FindByHandle(ctx, handle)
	if err != nil {
		return false, err
	}
	if acc == nil || !acc.IsRentalAccount() || !acc.Rental.ExpiresAt.Before(cutoff) {
		return false, nil
	}

	key, err := s.backups.BackupAccount(ctx, handle)
	if err != nil {
		return false, fmt.Errorf("バックアップに失敗しました: %w", err)
	}

	if err := s.sessions.DeleteByHandle(ctx, handle); err != nil {
		return false, fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	if err := s.accounts.Delete(ctx, handle); err != nil {
		return false, fmt.Errorf("アカウントの削除に失敗しました: %w", err)
	}

	s.logger.Info("期限切れアカウントを削除しました",
		slog.String("handle", handle),
		slog.Time("expires_at", acc.Rental.ExpiresAt),
		slog.String("backup", key),
	)
	return true, nil
}

func (s *Sweeper) update(ctx context.Context, handle string, fn repository.MutateFunc) error {
	unlock := s.locks.Lock(handle)
	defer unlock()

	_, err := s.accounts.Update(ctx, handle, fn)
	if errors.Is(err, errUnchanged) || errors.Is(err, repository.ErrAccountNotFound) {
		return nil
	}
	return err
}
