package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/donalert/internal/auth"
	"github.com/hitoshi/donalert/internal/bankmatch"
	"github.com/hitoshi/donalert/internal/donation"
	"github.com/hitoshi/donalert/internal/ledger"
	"github.com/hitoshi/donalert/internal/middleware"
	"github.com/hitoshi/donalert/internal/model"
)

// LedgerInterface はアカウントハンドラーが必要とする台帳の操作。
type LedgerInterface interface {
	Get(ctx context.Context, handle string) (*model.Account, error)
	Query(ctx context.Context, handle string, c ledger.Criteria) ([]model.Donation, error)
	Stats(ctx context.Context, handle string) (model.Stats, error)
	UsedSlips(ctx context.Context, handle string, limit int) ([]model.UsedSlip, error)
	UpdateConfig(ctx context.Context, handle string, cfg model.AccountConfig) (*model.Account, error)
	Export(ctx context.Context, handle string) ([]model.Donation, error)
	Import(ctx context.Context, handle string, donations []model.Donation) (int, error)
}

// ManualSubmitter は手動アラートの登録に必要なインターフェース。
type ManualSubmitter interface {
	SubmitManual(ctx context.Context, handle string, req donation.ManualRequest, from donation.Submitter) (*model.Donation, error)
}

// URLValidator はWebhook URLの検証に必要なインターフェース。
type URLValidator interface {
	ValidateURL(raw string) error
}

// AlertLogReader は配信済みアラートの監査ログの読み取りに必要なインターフェース。
type AlertLogReader interface {
	ListRecent(ctx context.Context, handle string, limit int) ([]model.Alert, error)
}

// AccountHandler は配信者本人向けのHTTPハンドラー。
// セッション・アカウント一致・有効期限のミドルウェアの後に配置する。
type AccountHandler struct {
	errorWriter
	ledger    LedgerInterface
	donations ManualSubmitter
	urls      URLValidator
	alertLog  AlertLogReader
	location  *time.Location
	now       func() time.Time
}

// NewAccountHandler はAccountHandlerを生成する。
// locは日付だけの絞り込み条件を解釈するタイムゾーンで、集計の日付境界と揃える。nilはUTC。
func NewAccountHandler(
	l LedgerInterface,
	donations ManualSubmitter,
	urls URLValidator,
	alertLog AlertLogReader,
	loc *time.Location,
	logger *slog.Logger,
) *AccountHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AccountHandler{
		errorWriter: errorWriter{logger: logger},
		ledger:      l,
		donations:   donations,
		urls:        urls,
		alertLog:    alertLog,
		location:    loc,
		now:         time.Now,
	}
}

type accountResponse struct {
	Handle    string              `json:"handle"`
	CreatedAt time.Time           `json:"created_at"`
	Config    model.AccountConfig `json:"config"`
	Rental    *model.RentalState  `json:"rental,omitempty"`
	Expiry    model.ExpiryStatus  `json:"expiry"`
}

// handle はセッションで認証済みのハンドルを返す。
// URLの{handle}ではなく認証済みの値で台帳を操作する。
func (h *AccountHandler) handle(r *http.Request) string {
	handle, _ := middleware.HandleFromContext(r.Context())
	return handle
}

func (h *AccountHandler) toAccountResponse(acc *model.Account) accountResponse {
	return accountResponse{
		Handle:    acc.Handle,
		CreatedAt: acc.CreatedAt,
		Config:    acc.Config,
		Rental:    acc.Rental,
		Expiry:    auth.CheckExpiry(acc.Rental, h.now()),
	}
}

// GetConfig はアカウント設定とレンタル期限を返す。
// GET /api/accounts/{handle}
func (h *AccountHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	acc, err := h.ledger.Get(r.Context(), h.handle(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, h.toAccountResponse(acc))
}

// UpdateConfig はアカウント設定を置き換える。
// Webhook URLは内部ネットワーク宛てでないことを保存前に確認する。
// PUT /api/accounts/{handle}/config
func (h *AccountHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.AccountConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		h.fail(w, r, err)
		return
	}
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	if cfg.WebhookURL != "" {
		if err := h.urls.ValidateURL(cfg.WebhookURL); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	acc, err := h.ledger.UpdateConfig(r.Context(), h.handle(r), cfg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, h.toAccountResponse(acc))
}

// ListDonations は絞り込み条件に一致する寄付を返す。
// GET /api/accounts/{handle}/donations?search=&from=&to=&method=&min=&max=&sort=&limit=&offset=&page=
func (h *AccountHandler) ListDonations(w http.ResponseWriter, r *http.Request) {
	c, err := parseCriteria(r, h.location)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	donations, err := h.ledger.Query(r.Context(), h.handle(r), c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, donations)
}

// Stats は寄付の集計を返す。
// GET /api/accounts/{handle}/stats
func (h *AccountHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context(), h.handle(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// UsedSlips は使用済みの銀行振込スリップを返す。
// GET /api/accounts/{handle}/used-slips?limit=
func (h *AccountHandler) UsedSlips(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slips, err := h.ledger.UsedSlips(r.Context(), h.handle(r), int(limit))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, slips)
}

type manualAlertRequest struct {
	Name    string `json:"name"`
	Amount  int64  `json:"amount"`
	Message string `json:"message"`
}

// ManualAlert は配信者が手動で寄付を登録し、アラートを表示する。
// POST /api/accounts/{handle}/alerts
func (h *AccountHandler) ManualAlert(w http.ResponseWriter, r *http.Request) {
	var req manualAlertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.donations.SubmitManual(r.Context(), h.handle(r), donation.ManualRequest{
		Name:    req.Name,
		Amount:  req.Amount,
		Message: req.Message,
	}, submitterOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, d)
}

// AlertHistory は配信済みアラートの監査ログを新しい順に返す。
// GET /api/accounts/{handle}/alerts?limit=
func (h *AccountHandler) AlertHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	alerts, err := h.alertLog.ListRecent(r.Context(), h.handle(r), int(limit))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, alerts)
}

type exportResponse struct {
	Handle     string           `json:"handle"`
	ExportedAt time.Time        `json:"exported_at"`
	Donations  []model.Donation `json:"donations"`
}

// Export は保持している寄付をJSONで書き出す。
// GET /api/accounts/{handle}/export
func (h *AccountHandler) Export(w http.ResponseWriter, r *http.Request) {
	handle := h.handle(r)
	donations, err := h.ledger.Export(r.Context(), handle)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+handle+`-donations.json"`)
	writeData(w, http.StatusOK, exportResponse{Handle: handle, ExportedAt: h.now(), Donations: donations})
}

type importRequest struct {
	Donations []model.Donation `json:"donations"`
}

type importResponse struct {
	Imported int `json:"imported"`
}

// Import は書き出した寄付を取り込む。既存と重複するものは読み飛ばす。
// POST /api/accounts/{handle}/import
func (h *AccountHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.ledger.Import(r.Context(), h.handle(r), req.Donations)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, importResponse{Imported: n})
}

type bankMatchRequest struct {
	ProviderAccount string `json:"provider_account"`
}

type bankMatchResponse struct {
	Matches         bool   `json:"matches"`
	Rule            string `json:"rule,omitempty"`
	DeclaredAccount string `json:"declared_account"`
}

// CheckBankMatch は登録口座とプロバイダーが返す口座値の照合結果を返す。
// 受け取り設定の確認用で、台帳は変更しない。
// POST /api/accounts/{handle}/bank-match
func (h *AccountHandler) CheckBankMatch(w http.ResponseWriter, r *http.Request) {
	var req bankMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.ProviderAccount) == "" {
		h.fail(w, r, model.NewValidationError("provider_account", "照合する口座番号を指定してください。"))
		return
	}
	acc, err := h.ledger.Get(r.Context(), h.handle(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rule := bankmatch.Explain(acc.Config.BankAccount, req.ProviderAccount)
	writeData(w, http.StatusOK, bankMatchResponse{
		Matches:         rule != bankmatch.RuleNone,
		Rule:            string(rule),
		DeclaredAccount: bankmatch.Mask(acc.Config.BankAccount),
	})
}

const defaultPageSize = 50

// parseCriteria はクエリパラメータから寄付の絞り込み条件を組み立てる。
func parseCriteria(r *http.Request, loc *time.Location) (ledger.Criteria, error) {
	q := r.URL.Query()
	c := ledger.Criteria{
		Search: q.Get("search"),
		Sort:   ledger.ParseSortOrder(q.Get("sort")),
	}

	if m := q.Get("method"); m != "" {
		c.Method = model.PaymentMethod(m)
		if !c.Method.Valid() {
			return c, model.NewValidationError("method", "支払い方法が不正です。")
		}
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &c.From}, {"to", &c.To}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, dateOnly, err := parseTimeParam(v, loc)
		if err != nil {
			return c, model.NewValidationError(p.key, "日時はRFC3339またはYYYY-MM-DDで指定してください。")
		}
		// 日付だけの終端はその日の終わりまでを含める
		if dateOnly && p.key == "to" {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		*p.dst = &t
	}

	var err error
	if c.MinAmount, err = queryInt(r, "min"); err != nil {
		return c, err
	}
	if c.MaxAmount, err = queryInt(r, "max"); err != nil {
		return c, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return c, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return c, err
	}
	page, err := queryInt(r, "page")
	if err != nil {
		return c, err
	}
	c.Limit = int(limit)
	c.Offset = int(offset)
	// pageは1始まり。件数未指定のページ指定は1ページ50件とする
	if page > 0 {
		if c.Limit == 0 {
			c.Limit = defaultPageSize
		}
		c.Offset = int(page-1) * c.Limit
	}
	return c, nil
}

// parseTimeParam はRFC3339または日付だけの値を読む。日付だけの値はlocの0時とする。
func parseTimeParam(v string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, false, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, loc)
	return t, true, err
}

// queryInt は0以上の整数のクエリパラメータを読む。未指定は0。
func queryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, model.NewValidationError(key, key+"は0以上の整数で指定してください。")
	}
	return n, nil
}
