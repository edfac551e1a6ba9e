package ledger

import (
	"testing"
	"time"

	"github.com/hitoshi/donalert/internal/model"
)

func TestComputeStats_Empty(t *testing.T) {
	s := ComputeStats(nil, testNow, time.UTC)
	if s.TotalDonations != 0 || s.AverageAmount != 0 || s.LastDonationAt != nil {
		t.Errorf("stats = %+v, want zero", s)
	}
	if s.ByMethod == nil {
		t.Error("ByMethod must be non-nil")
	}
}

func TestComputeStats_Aggregates(t *testing.T) {
	bangkok := time.FixedZone("ICT", 7*60*60)
	// 2024-06-15 10:00 UTC = 17:00 ICT
	now := testNow

	donations := []model.Donation{
		{Name: "Alice", Amount: 100, PaymentMethod: model.PaymentMethodManual, CreatedAt: now.Add(-1 * time.Hour)},
		{Name: "alice", Amount: 250, PaymentMethod: model.PaymentMethodWallet, CreatedAt: now.Add(-2 * time.Hour)},
		// 2024-06-14 17:30 UTC = 2024-06-15 00:30 ICT: 現地時間では今日
		{Name: "Bob", Amount: 50, PaymentMethod: model.PaymentMethodBankTransfer, CreatedAt: time.Date(2024, 6, 14, 17, 30, 0, 0, time.UTC)},
		// 2024-06-14 16:30 UTC = 2024-06-14 23:30 ICT: 昨日
		{Name: "Carol", Amount: 1, PaymentMethod: model.PaymentMethodBankTransfer, CreatedAt: time.Date(2024, 6, 14, 16, 30, 0, 0, time.UTC)},
		// 先月
		{Name: "Dave", Amount: 1000, PaymentMethod: model.PaymentMethodManual, CreatedAt: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)},
	}

	s := ComputeStats(donations, now, bangkok)

	if s.TotalDonations != 5 {
		t.Errorf("TotalDonations = %d, want 5", s.TotalDonations)
	}
	if s.TotalAmount != 1401 {
		t.Errorf("TotalAmount = %d, want 1401", s.TotalAmount)
	}
	// 1401 / 5 = 280.2
	if s.AverageAmount != 280 {
		t.Errorf("AverageAmount = %d, want 280", s.AverageAmount)
	}
	if s.HighestDonation != 1000 {
		t.Errorf("HighestDonation = %d, want 1000", s.HighestDonation)
	}
	// Alice と alice は同一人物として数える
	if s.UniqueDonors != 4 {
		t.Errorf("UniqueDonors = %d, want 4", s.UniqueDonors)
	}
	if s.TodayDonations != 3 || s.TodayAmount != 400 {
		t.Errorf("Today = %d/%d, want 3/400", s.TodayDonations, s.TodayAmount)
	}
	if s.ThisMonthAmount != 401 {
		t.Errorf("ThisMonthAmount = %d, want 401", s.ThisMonthAmount)
	}
	if got := s.ByMethod[model.PaymentMethodBankTransfer]; got.Count != 2 || got.Amount != 51 {
		t.Errorf("ByMethod[bank_transfer] = %+v, want {2 51}", got)
	}
	if s.LastDonationAt == nil || !s.LastDonationAt.Equal(now.Add(-1*time.Hour)) {
		t.Errorf("LastDonationAt = %v", s.LastDonationAt)
	}
}

func TestComputeStats_AverageRoundsHalfUp(t *testing.T) {
	donations := []model.Donation{
		{Name: "a", Amount: 1, CreatedAt: testNow},
		{Name: "b", Amount: 2, CreatedAt: testNow},
	}
	if got := ComputeStats(donations, testNow, time.UTC).AverageAmount; got != 2 {
		t.Errorf("AverageAmount = %d, want 2 (1.5 rounds up)", got)
	}
}
