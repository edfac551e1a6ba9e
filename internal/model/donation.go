package model

import "time"

// PaymentMethod は支払い手段を表す。
type PaymentMethod string

const (
	// PaymentMethodManual は配信者による手動登録。
	PaymentMethodManual PaymentMethod = "manual"
	// PaymentMethodWallet はウォレットのギフトバウチャー。
	PaymentMethodWallet PaymentMethod = "truewallet"
	// PaymentMethodBankTransfer は銀行振込スリップ。
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// Valid は既知の支払い手段かどうかを返す。
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodManual, PaymentMethodWallet, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// Donation は確定した寄付1件を表す。作成後は変更されない。
type Donation struct {
	ID            string        `json:"id"`
	CreatedAt     time.Time     `json:"created_at"`
	Name          string        `json:"name"`
	Amount        int64         `json:"amount"`
	Message       string        `json:"message"`
	PaymentMethod PaymentMethod `json:"payment_method"`

	// ウォレット
	VoucherCode string `json:"voucher_code,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`

	// 銀行振込
	TransactionRef string        `json:"transaction_ref,omitempty"`
	Discriminator  string        `json:"discriminator,omitempty"`
	BankName       string        `json:"bank_name,omitempty"`
	BankAccount    string        `json:"bank_account,omitempty"`
	Slip           *SlipSnapshot `json:"slip,omitempty"`

	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// SlipSnapshot は監査用に保存するスリップ検証プロバイダーの応答。
type SlipSnapshot struct {
	TransDate     string    `json:"trans_date"`
	TransTime     string    `json:"trans_time"`
	SendingBank   string    `json:"sending_bank"`
	ReceivingBank string    `json:"receiving_bank"`
	Sender        SlipParty `json:"sender"`
	Receiver      SlipParty `json:"receiver"`
}

// SlipParty はスリップの送金者・受取人。
type SlipParty struct {
	DisplayName string      `json:"displayName,omitempty"`
	Name        string      `json:"name,omitempty"`
	Account     SlipAccount `json:"account"`
}

// SlipAccount は一部がマスクされた口座情報。
type SlipAccount struct {
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
}

// DonationInput は台帳への追加リクエスト。IDとタイムスタンプは台帳が割り当てる。
type DonationInput struct {
	Name          string
	Amount        int64
	Message       string
	PaymentMethod PaymentMethod

	VoucherCode string
	PhoneNumber string

	TransactionRef string
	Discriminator  string
	BankName       string
	BankAccount    string
	Slip           *SlipSnapshot

	ClientIP  string
	UserAgent string
}

// Alert は表示クライアントへ配信するペイロード。
type Alert struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Amount    int64     `json:"amount"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFromDonation は寄付から配信用ペイロードを作る。
func AlertFromDonation(d *Donation) Alert {
	return Alert{
		ID:        d.ID,
		Name:      d.Name,
		Amount:    d.Amount,
		Message:   d.Message,
		Timestamp: d.CreatedAt,
	}
}
