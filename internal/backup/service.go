package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/donalert/internal/locker"
	"github.com/hitoshi/donalert/internal/model"
	"github.com/hitoshi/donalert/internal/repository"
)

const keyTimeFormat = "20060102T150405.000Z"

// Archive はバックアップ1件の内容。
type Archive struct {
	CreatedAt time.Time        `json:"created_at"`
	Accounts  []*model.Account `json:"accounts"`
}

// AccountNormalizer はリストアしたアカウントを保存前に台帳の不変条件へ揃える。
// ledger.Ledgerが実装する。
type AccountNormalizer interface {
	Normalize(acc *model.Account)
}

// Service はアカウントのバックアップとリストアを行う。
type Service struct {
	accounts   repository.AccountRepository
	locks      *locker.KeyedMutex
	normalizer AccountNormalizer
	store      Store
	logger     *slog.Logger

	now func() time.Time
}

// NewService はServiceを生成する。locksは台帳・認証と共有すること。
func NewService(
	accounts repository.AccountRepository,
	locks *locker.KeyedMutex,
	normalizer AccountNormalizer,
	store Store,
	logger *slog.Logger,
) *Service {
	return &Service{
		accounts:   accounts,
		locks:      locks,
		normalizer: normalizer,
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// BackupAccount は1アカウントのアーカイブを保存し、キーを返す。
func (s *Service) BackupAccount(ctx context.Context, handle string) (string, error) {
	acc, err := s.accounts.FindByHandle(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("failed to load account: %w", err)
	}
	if acc == nil {
		return "", model.NewNotFoundError("アカウント")
	}

	now := s.now().UTC()
	key := fmt.Sprintf("accounts/%s/%s.json", handle, now.Format(keyTimeFormat))
	if err := s.write(ctx, key, Archive{CreatedAt: now, Accounts: []*model.Account{acc}}); err != nil {
		return "", err
	}

	s.logger.Info("アカウントをバックアップしました",
		slog.String("handle", handle),
		slog.String("key", key),
	)
	return key, nil
}

// BackupAll は全アカウントを1つのアーカイブに保存し、キーを返す。
func (s *Service) BackupAll(ctx context.Context) (string, error) {
	handles, err := s.accounts.ListHandles(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list accounts: %w", err)
	}

	accounts := make([]*model.Account, 0, len(handles))
	for _, h := range handles {
		acc, err := s.accounts.FindByHandle(ctx, h)
		if err != nil {
			return "", fmt.Errorf("failed to load account %s: %w", h, err)
		}
		if acc != nil {
			accounts = append(accounts, acc)
		}
	}

	now := s.now().UTC()
	key := fmt.Sprintf("full/%s.json", now.Format(keyTimeFormat))
	if err := s.write(ctx, key, Archive{CreatedAt: now, Accounts: accounts}); err != nil {
		return "", err
	}

	s.logger.Info("全アカウントをバックアップしました",
		slog.Int("accounts", len(accounts)),
		slog.String("key", key),
	)
	return key, nil
}

// Restore はアーカイブ内のアカウントを丸ごと上書きし、復元した件数を返す。
// 読み込んだドキュメントには現行スキーマへの移行を適用し、
// 保存されていた集計は使わず寄付から再計算する。
func (s *Service) Restore(ctx context.Context, key string) (int, error) {
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, model.NewNotFoundError("バックアップ")
	}
	if err != nil {
		return 0, err
	}

	var archive Archive
	if err := json.Unmarshal(data, &archive); err != nil {
		return 0, model.NewValidationError("key", "バックアップの形式が正しくありません。")
	}

	restored := 0
	for _, acc := range archive.Accounts {
		if acc == nil || model.ValidateHandle(acc.Handle) != nil {
			s.logger.Warn("不正なアカウントをスキップしました", slog.String("key", key))
			continue
		}
		model.MigrateAccount(acc)
		s.normalizer.Normalize(acc)
		if err := s.save(ctx, acc); err != nil {
			return restored, err
		}
		restored++
	}

	s.logger.Info("バックアップをリストアしました",
		slog.String("key", key),
		slog.Int("accounts", restored),
	)
	return restored, nil
}

// List はprefixで始まるバックアップのキーを返す。
func (s *Service) List(ctx context.Context, prefix string) ([]string, error) {
	return s.store.List(ctx, prefix)
}

func (s *Service) save(ctx context.Context, acc *model.Account) error {
	unlock := s.locks.Lock(acc.Handle)
	defer unlock()
	if err := s.accounts.Save(ctx, acc); err != nil {
		return fmt.Errorf("failed to restore account %s: %w", acc.Handle, err)
	}
	return nil
}

func (s *Service) write(ctx context.Context, key string, archive Archive) error {
	data, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}
	if err := s.store.Put(ctx, key, data); err != nil {
		s.logger.Error("バックアップの保存に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
