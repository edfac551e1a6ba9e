package model

import "time"

// Stats は寄付コレクションから導出される集計値。
// 常にDonationsの純関数として全件再計算され、差分更新はしない。
type Stats struct {
	TotalDonations  int                           `json:"total_donations"`
	TotalAmount     int64                         `json:"total_amount"`
	AverageAmount   int64                         `json:"average_amount"`
	HighestDonation int64                         `json:"highest_donation"`
	UniqueDonors    int                           `json:"unique_donors"`
	ByMethod        map[PaymentMethod]MethodStats `json:"by_method"`
	TodayDonations  int                           `json:"today_donations"`
	TodayAmount     int64                         `json:"today_amount"`
	ThisMonthAmount int64                         `json:"this_month_amount"`
	LastDonationAt  *time.Time                    `json:"last_donation_at,omitempty"`
}

// MethodStats は支払い手段ごとの件数と金額。
type MethodStats struct {
	Count  int   `json:"count"`
	Amount int64 `json:"amount"`
}

// GlobalStats は全アカウント横断の集計値。
type GlobalStats struct {
	TotalAccounts  int             `json:"total_accounts"`
	TotalDonations int             `json:"total_donations"`
	TotalAmount    int64           `json:"total_amount"`
	ActiveAccounts int             `json:"active_accounts"`
	TopAccounts    []AccountTotals `json:"top_accounts"`
}

// AccountTotals はアカウントごとの合計金額。
type AccountTotals struct {
	Handle      string `json:"handle"`
	StreamTitle string `json:"stream_title"`
	TotalAmount int64  `json:"total_amount"`
}

// SlipUsage は銀行振込スリップの使用状況。
type SlipUsage struct {
	TotalBankTransfers    int `json:"total_bank_transfers"`
	UniqueTransactionRefs int `json:"unique_transaction_refs"`
	UniqueDiscriminators  int `json:"unique_discriminators"`
}

// UsedSlip は使用済みスリップの証跡。
type UsedSlip struct {
	DonationID     string    `json:"donation_id"`
	TransactionRef string    `json:"transaction_ref"`
	Discriminator  string    `json:"discriminator"`
	Amount         int64     `json:"amount"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}
