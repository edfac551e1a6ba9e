package ledger

import (
	"math"
	"strings"
	"time"

	"github.com/hitoshi/donalert/internal/model"
)

// ComputeStats は寄付コレクションから集計値を全件再計算する。
// 「今日」と「今月」はlocのカレンダーで判定する。
func ComputeStats(donations []model.Donation, now time.Time, loc *time.Location) model.Stats {
	if loc == nil {
		loc = time.UTC
	}
	stats := model.Stats{
		ByMethod: make(map[model.PaymentMethod]model.MethodStats),
	}
	if len(donations) == 0 {
		return stats
	}

	localNow := now.In(loc)
	todayY, todayM, todayD := localNow.Date()

	donors := make(map[string]struct{}, len(donations))
	for i := range donations {
		d := &donations[i]

		stats.TotalDonations++
		stats.TotalAmount += d.Amount
		if d.Amount > stats.HighestDonation {
			stats.HighestDonation = d.Amount
		}
		donors[strings.ToLower(d.Name)] = struct{}{}

		m := stats.ByMethod[d.PaymentMethod]
		m.Count++
		m.Amount += d.Amount
		stats.ByMethod[d.PaymentMethod] = m

		y, mo, day := d.CreatedAt.In(loc).Date()
		if y == todayY && mo == todayM {
			stats.ThisMonthAmount += d.Amount
			if day == todayD {
				stats.TodayDonations++
				stats.TodayAmount += d.Amount
			}
		}

		if stats.LastDonationAt == nil || d.CreatedAt.After(*stats.LastDonationAt) {
			t := d.CreatedAt
			stats.LastDonationAt = &t
		}
	}

	stats.UniqueDonors = len(donors)
	stats.AverageAmount = int64(math.Round(float64(stats.TotalAmount) / float64(stats.TotalDonations)))
	return stats
}
