package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/donalert/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Sessions          middleware.SessionValidator
	Guard             middleware.AccountGuard
	AdminToken        string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// 認証
	AuthService   AuthServiceInterface
	LoginRecorder LoginRecorder
	SessionTTL    time.Duration

	// 寄付と台帳
	Donations DonationServiceInterface
	Ledger    LedgerInterface
	URLs      URLValidator
	AlertLog  AlertLogReader

	// StatsLocation は日付だけの絞り込み条件を解釈するタイムゾーン
	StatsLocation *time.Location

	// 表示
	Hub AlertSubscriber

	// 管理
	Admin AdminDeps

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → (ルートごと) RateLimit / Session → AccountMatch → ActiveAccount / Admin
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusRecorder))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.LoginRecorder, deps.SessionTTL, deps.Logger)
	donationHandler := NewDonationHandler(deps.Donations, deps.Ledger, deps.Logger)
	accountHandler := NewAccountHandler(deps.Ledger, deps.Donations, deps.URLs, deps.AlertLog, deps.StatsLocation, deps.Logger)
	adminHandler := NewAdminHandler(deps.Admin, deps.Logger)
	displayHandler := NewDisplayHandler(deps.Ledger, deps.Hub, deps.Logger)
	healthHandler := NewHealthHandler(deps.HealthChecker, deps.Admin.Queue, deps.Logger)

	// --- 運用 ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 表示クライアント ---
	r.Get("/ws/{handle}", displayHandler.Serve)

	// --- 公開の寄付受付 ---
	r.Route("/api/u/{handle}", func(r chi.Router) {
		r.Get("/", donationHandler.Profile)
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.DonateMiddleware())
			r.Post("/redeem-voucher", donationHandler.RedeemVoucher)
			r.Post("/verify-slip", donationHandler.VerifySlip)
		})
	})

	// --- 認証 ---
	r.Route("/api/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
	})

	// --- 配信者本人 ---
	// ミドルウェアスタック: Session → AccountMatch → ActiveAccount
	r.Route("/api/accounts/{handle}", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.Logger))
		r.Use(middleware.RequireAccountMatch)
		r.Use(middleware.NewActiveAccountMiddleware(deps.Guard, deps.Logger))

		r.Get("/", accountHandler.GetConfig)
		r.Put("/config", accountHandler.UpdateConfig)
		r.Get("/donations", accountHandler.ListDonations)
		r.Get("/stats", accountHandler.Stats)
		r.Get("/used-slips", accountHandler.UsedSlips)
		r.Get("/alerts", accountHandler.AlertHistory)
		r.Post("/alerts", accountHandler.ManualAlert)
		r.Get("/export", accountHandler.Export)
		r.Post("/import", accountHandler.Import)
		r.Post("/bank-match", accountHandler.CheckBankMatch)
	})

	// --- 管理 ---
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.NewAdminMiddleware(deps.AdminToken))

		r.Post("/accounts", adminHandler.CreateAccount)
		r.Route("/accounts/{handle}", func(r chi.Router) {
			r.Post("/extend", adminHandler.ExtendRental)
			r.Post("/convert", adminHandler.ConvertToRental)
			r.Post("/reset-password", adminHandler.ResetPassword)
		})

		r.Post("/sweeps/expire", adminHandler.SweepExpired)
		r.Post("/sweeps/purge", adminHandler.PurgeExpired)
		r.Post("/donations/prune", adminHandler.PruneDonations)

		r.Get("/backups", adminHandler.ListBackups)
		r.Post("/backups", adminHandler.Backup)
		r.Post("/backups/restore", adminHandler.Restore)

		r.Get("/stats", adminHandler.GlobalStats)
		r.Get("/slips", adminHandler.SlipUsage)
		r.Post("/slips/test", adminHandler.TestSlipProvider)

		r.Get("/queue", adminHandler.QueueStatus)
		r.Delete("/queue", adminHandler.ClearQueue)
	})

	return r
}
