package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/donalert/internal/alert"
	"github.com/hitoshi/donalert/internal/model"
	"github.com/hitoshi/donalert/internal/slipverify"
)

// AccountAdmin はアカウントのライフサイクル管理に必要なインターフェース。
type AccountAdmin interface {
	CreateAccount(ctx context.Context, handle string, cfg *model.AccountConfig, rentalDays *int) (*model.Account, string, error)
	ExtendRental(ctx context.Context, handle string, additionalDays int) (*model.RentalState, error)
	ConvertToRental(ctx context.Context, handle string, days int) (*model.RentalState, error)
	ResetPassword(ctx context.Context, handle string) (string, error)
}

// LedgerAdmin は台帳全体に対する管理操作のインターフェース。
type LedgerAdmin interface {
	PruneOlderThan(ctx context.Context, days int) (int, error)
	GlobalStats(ctx context.Context) (*model.GlobalStats, error)
	SlipUsage(ctx context.Context) (*model.SlipUsage, error)
}

// RentalSweeper はレンタル期限のスイープ操作のインターフェース。
type RentalSweeper interface {
	MarkExpired(ctx context.Context) (int, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// BackupService はバックアップ操作のインターフェース。
type BackupService interface {
	BackupAccount(ctx context.Context, handle string) (string, error)
	BackupAll(ctx context.Context) (string, error)
	Restore(ctx context.Context, key string) (int, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// AlertQueueAdmin はアラートキューの管理操作のインターフェース。
type AlertQueueAdmin interface {
	Clear() int
	Pending() []alert.Item
	History() []alert.Item
	State() alert.State
}

// SlipProviderChecker はスリップ照会APIの接続確認のインターフェース。
type SlipProviderChecker interface {
	CheckSlipProvider(ctx context.Context) (*slipverify.PingResult, error)
}

// AdminHandler は管理APIのHTTPハンドラー。
type AdminHandler struct {
	errorWriter
	accounts AccountAdmin
	ledger   LedgerAdmin
	sweeper  RentalSweeper
	backups  BackupService
	queue    AlertQueueAdmin
	slips    SlipProviderChecker
}

// AdminDeps はAdminHandlerの依存関係。
type AdminDeps struct {
	Accounts AccountAdmin
	Ledger   LedgerAdmin
	Sweeper  RentalSweeper
	Backups  BackupService
	Queue    AlertQueueAdmin
	Slips    SlipProviderChecker
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(deps AdminDeps, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		errorWriter: errorWriter{logger: logger},
		accounts:    deps.Accounts,
		ledger:      deps.Ledger,
		sweeper:     deps.Sweeper,
		backups:     deps.Backups,
		queue:       deps.Queue,
		slips:       deps.Slips,
	}
}

type createAccountRequest struct {
	Handle     string               `json:"handle"`
	Config     *model.AccountConfig `json:"config,omitempty"`
	RentalDays *int                 `json:"rental_days,omitempty"`
}

type createAccountResponse struct {
	Handle   string             `json:"handle"`
	Password string             `json:"password"`
	Rental   *model.RentalState `json:"rental,omitempty"`
}

// CreateAccount はアカウントを作成し、生成したパスワードを一度だけ返す。
// POST /api/admin/accounts
func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	acc, password, err := h.accounts.CreateAccount(r.Context(), strings.TrimSpace(req.Handle), req.Config, req.RentalDays)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, createAccountResponse{Handle: acc.Handle, Password: password, Rental: acc.Rental})
}

type daysRequest struct {
	Days int `json:"days"`
}

// ExtendRental はレンタル期限を延長する。
// POST /api/admin/accounts/{handle}/extend
func (h *AdminHandler) ExtendRental(w http.ResponseWriter, r *http.Request) {
	var req daysRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rental, err := h.accounts.ExtendRental(r.Context(), chi.URLParam(r, "handle"), req.Days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rental)
}

// ConvertToRental は通常アカウントをレンタルアカウントに変換する。
// POST /api/admin/accounts/{handle}/convert
func (h *AdminHandler) ConvertToRental(w http.ResponseWriter, r *http.Request) {
	var req daysRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rental, err := h.accounts.ConvertToRental(r.Context(), chi.URLParam(r, "handle"), req.Days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rental)
}

// ResetPassword はパスワードを再生成して返す。
// POST /api/admin/accounts/{handle}/reset-password
func (h *AdminHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	password, err := h.accounts.ResetPassword(r.Context(), handle)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"handle": handle, "password": password})
}

type countResponse struct {
	Count int `json:"count"`
}

// SweepExpired はレンタル期限切れのフラグを一括で更新する。
// POST /api/admin/sweeps/expire
func (h *AdminHandler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.MarkExpired(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, countResponse{Count: n})
}

// PurgeExpired は猶予期間を過ぎた期限切れアカウントをバックアップ後に削除する。
// POST /api/admin/sweeps/purge
func (h *AdminHandler) PurgeExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.PurgeExpired(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, countResponse{Count: n})
}

// PruneDonations は指定日数より古い寄付を全アカウントから削除する。
// POST /api/admin/donations/prune
func (h *AdminHandler) PruneDonations(w http.ResponseWriter, r *http.Request) {
	var req daysRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.ledger.PruneOlderThan(r.Context(), req.Days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, countResponse{Count: n})
}

type backupRequest struct {
	// Handle が空の場合は全アカウントをバックアップする。
	Handle string `json:"handle"`
}

type backupKey struct {
	Key string `json:"key"`
}

// Backup はアカウントのバックアップを作成し、保存先のキーを返す。
// POST /api/admin/backups
func (h *AdminHandler) Backup(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	var (
		key string
		err error
	)
	if req.Handle == "" {
		key, err = h.backups.BackupAll(r.Context())
	} else {
		key, err = h.backups.BackupAccount(r.Context(), req.Handle)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, backupKey{Key: key})
}

// ListBackups は保存済みバックアップのキーを返す。
// GET /api/admin/backups?prefix=
func (h *AdminHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	keys, err := h.backups.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, keys)
}

// Restore はバックアップからアカウントを復元する。
// POST /api/admin/backups/restore
func (h *AdminHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req backupKey
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Key == "" {
		h.fail(w, r, model.NewValidationError("key", "バックアップのキーを指定してください。"))
		return
	}
	n, err := h.backups.Restore(r.Context(), req.Key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, countResponse{Count: n})
}

// GlobalStats は全アカウントの集計を返す。
// GET /api/admin/stats
func (h *AdminHandler) GlobalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.GlobalStats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// SlipUsage は銀行振込スリップの利用状況を返す。
// GET /api/admin/slips
func (h *AdminHandler) SlipUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.ledger.SlipUsage(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, usage)
}

// TestSlipProvider はスリップ照会APIへの接続を確認する。
// POST /api/admin/slips/test
func (h *AdminHandler) TestSlipProvider(w http.ResponseWriter, r *http.Request) {
	res, err := h.slips.CheckSlipProvider(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

type queueResponse struct {
	State   alert.State  `json:"state"`
	Pending []alert.Item `json:"pending"`
	History []alert.Item `json:"history"`
}

// QueueStatus はアラートキューの状態を返す。
// GET /api/admin/queue
func (h *AdminHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, queueResponse{
		State:   h.queue.State(),
		Pending: h.queue.Pending(),
		History: h.queue.History(),
	})
}

// ClearQueue は配信待ちのアラートを破棄する。
// DELETE /api/admin/queue
func (h *AdminHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, countResponse{Count: h.queue.Clear()})
}
