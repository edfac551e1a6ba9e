package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/donalert/internal/model"
)

// SortOrder は寄付一覧の並び順。
type SortOrder string

const (
	SortNewest     SortOrder = "newest"
	SortOldest     SortOrder = "oldest"
	SortAmountDesc SortOrder = "amount_desc"
	SortAmountAsc  SortOrder = "amount_asc"
)

// Criteria は寄付一覧の絞り込み条件。ゼロ値のフィールドは条件に含めない。
type Criteria struct {
	// Search は名前・メッセージに対する大文字小文字を区別しない部分一致。
	Search string
	// From, To は作成日時の範囲（両端を含む）。
	From *time.Time
	To   *time.Time
	// Method は支払い手段。
	Method    model.PaymentMethod
	MinAmount int64
	MaxAmount int64
	Sort      SortOrder
	// Offset は並べ替え後に読み飛ばす件数。
	Offset int
	// Limit は返却件数の上限（0は無制限）。
	Limit int
}

// Filter はcriteriaに一致する寄付を返す。元のスライスは変更しない。
func Filter(donations []model.Donation, c Criteria) []model.Donation {
	search := strings.ToLower(strings.TrimSpace(c.Search))

	result := make([]model.Donation, 0, len(donations))
	for _, d := range donations {
		if search != "" &&
			!strings.Contains(strings.ToLower(d.Name), search) &&
			!strings.Contains(strings.ToLower(d.Message), search) {
			continue
		}
		if c.From != nil && d.CreatedAt.Before(*c.From) {
			continue
		}
		if c.To != nil && d.CreatedAt.After(*c.To) {
			continue
		}
		if c.Method != "" && d.PaymentMethod != c.Method {
			continue
		}
		if c.MinAmount > 0 && d.Amount < c.MinAmount {
			continue
		}
		if c.MaxAmount > 0 && d.Amount > c.MaxAmount {
			continue
		}
		result = append(result, d)
	}

	switch c.Sort {
	case SortOldest:
		sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	case SortAmountDesc:
		sort.SliceStable(result, func(i, j int) bool { return result[i].Amount > result[j].Amount })
	case SortAmountAsc:
		sort.SliceStable(result, func(i, j int) bool { return result[i].Amount < result[j].Amount })
	default:
		sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	}

	if c.Offset > 0 {
		if c.Offset >= len(result) {
			return result[:0]
		}
		result = result[c.Offset:]
	}
	if c.Limit > 0 && len(result) > c.Limit {
		result = result[:c.Limit]
	}
	return result
}

// ParseSortOrder は文字列を並び順に変換する。未知の値は新しい順とする。
func ParseSortOrder(s string) SortOrder {
	switch SortOrder(s) {
	case SortOldest, SortAmountDesc, SortAmountAsc:
		return SortOrder(s)
	default:
		return SortNewest
	}
}
