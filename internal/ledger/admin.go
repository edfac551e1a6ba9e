package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/donalert/internal/model"
)

const (
	activeAccountWindow = 7 * 24 * time.Hour
	topAccountsLimit    = 5
)

// PruneOlderThan は全アカウントからdays日より古い寄付を削除し、削除件数を返す。
// 1アカウントの失敗は記録して次に進む。
func (l *Ledger) PruneOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, model.NewValidationError("days", "日数は1以上で指定してください。")
	}
	handles, err := l.accounts.ListHandles(ctx)
	if err != nil {
		return 0, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}

	cutoff := l.now().Add(-time.Duration(days) * 24 * time.Hour)
	total := 0
	for _, handle := range handles {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		removed := 0
		_, err := l.Mutate(ctx, handle, func(acc *model.Account) error {
			kept := acc.Donations[:0]
			for _, d := range acc.Donations {
				if d.CreatedAt.Before(cutoff) {
					removed++
					continue
				}
				kept = append(kept, d)
			}
			acc.Donations = kept
			return nil
		})
		if err != nil {
			l.logger.Error("古い寄付の削除に失敗しました",
				slog.String("handle", handle),
				slog.String("error", err.Error()),
			)
			continue
		}
		total += removed
	}

	l.logger.Info("古い寄付を削除しました",
		slog.Int("days", days),
		slog.Int("removed", total),
		slog.Int("accounts", len(handles)),
	)
	return total, nil
}

// Export はアカウントの寄付を新しい順で返す。
func (l *Ledger) Export(ctx context.Context, handle string) ([]model.Donation, error) {
	acc, err := l.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	return acc.Donations, nil
}

// Import は寄付を取り込み、取り込んだ件数を返す。
// IDまたは証跡キー（参照番号・ディスクリミネーター）が既存と重複するもの、
// 金額や名前が不正なものはスキップする。保持件数の上限は通常の追加と同じく適用する。
func (l *Ledger) Import(ctx context.Context, handle string, donations []model.Donation) (int, error) {
	imported := 0
	_, err := l.Mutate(ctx, handle, func(acc *model.Account) error {
		ids := make(map[string]struct{}, len(acc.Donations))
		for _, d := range acc.Donations {
			ids[d.ID] = struct{}{}
		}

		now := l.now()
		for _, d := range donations {
			if strings.TrimSpace(d.Name) == "" || d.Amount <= 0 || !d.PaymentMethod.Valid() {
				continue
			}
			if _, dup := ids[d.ID]; dup && d.ID != "" {
				continue
			}
			if CheckProof(acc, d.TransactionRef, d.Discriminator) != nil {
				continue
			}
			if d.ID == "" {
				id, err := l.newID()
				if err != nil {
					return fmt.Errorf("failed to generate donation id: %w", err)
				}
				d.ID = id
			}
			if d.CreatedAt.IsZero() {
				d.CreatedAt = now
			}
			acc.Donations = append(acc.Donations, d)
			ids[d.ID] = struct{}{}
			imported++
		}

		l.trimDonations(acc)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return imported, nil
}

// Normalize は外部から持ち込んだアカウントを台帳の不変条件に合わせる。
// 寄付を新しい順に並べて保持件数に切り詰め、集計を寄付から再計算する。
func (l *Ledger) Normalize(acc *model.Account) {
	l.trimDonations(acc)
	acc.Stats = ComputeStats(acc.Donations, l.now(), l.config.Location)
}

func (l *Ledger) trimDonations(acc *model.Account) {
	sort.SliceStable(acc.Donations, func(i, j int) bool {
		return acc.Donations[i].CreatedAt.After(acc.Donations[j].CreatedAt)
	})
	if len(acc.Donations) > l.config.Retention {
		acc.Donations = acc.Donations[:l.config.Retention]
	}
}

// GlobalStats は全アカウント横断の集計を返す。
func (l *Ledger) GlobalStats(ctx context.Context) (*model.GlobalStats, error) {
	handles, err := l.accounts.ListHandles(ctx)
	if err != nil {
		return nil, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}

	now := l.now()
	stats := &model.GlobalStats{TopAccounts: []model.AccountTotals{}}
	for _, handle := range handles {
		acc, err := l.accounts.FindByHandle(ctx, handle)
		if err != nil {
			return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
		}
		if acc == nil {
			continue
		}

		stats.TotalAccounts++
		stats.TotalDonations += acc.Stats.TotalDonations
		stats.TotalAmount += acc.Stats.TotalAmount
		if now.Sub(acc.LastActiveAt) <= activeAccountWindow {
			stats.ActiveAccounts++
		}
		stats.TopAccounts = append(stats.TopAccounts, model.AccountTotals{
			Handle:      acc.Handle,
			StreamTitle: acc.Config.StreamTitle,
			TotalAmount: acc.Stats.TotalAmount,
		})
	}

	sort.SliceStable(stats.TopAccounts, func(i, j int) bool {
		return stats.TopAccounts[i].TotalAmount > stats.TopAccounts[j].TotalAmount
	})
	if len(stats.TopAccounts) > topAccountsLimit {
		stats.TopAccounts = stats.TopAccounts[:topAccountsLimit]
	}
	return stats, nil
}

// SlipUsage は全アカウントの銀行振込スリップの使用状況を返す。
func (l *Ledger) SlipUsage(ctx context.Context) (*model.SlipUsage, error) {
	handles, err := l.accounts.ListHandles(ctx)
	if err != nil {
		return nil, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}

	refs := make(map[string]struct{})
	discriminators := make(map[string]struct{})
	usage := &model.SlipUsage{}
	for _, handle := range handles {
		acc, err := l.accounts.FindByHandle(ctx, handle)
		if err != nil {
			return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
		}
		if acc == nil {
			continue
		}
		for _, d := range acc.Donations {
			if d.PaymentMethod != model.PaymentMethodBankTransfer {
				continue
			}
			usage.TotalBankTransfers++
			if d.TransactionRef != "" {
				refs[d.TransactionRef] = struct{}{}
			}
			if d.Discriminator != "" {
				discriminators[d.Discriminator] = struct{}{}
			}
		}
	}
	usage.UniqueTransactionRefs = len(refs)
	usage.UniqueDiscriminators = len(discriminators)
	return usage, nil
}
