package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/donalert/internal/auth"
	"github.com/hitoshi/donalert/internal/middleware"
	"github.com/hitoshi/donalert/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	VerifyLogin(ctx context.Context, handle, password string, client auth.ClientInfo) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// LoginRecorder はログイン結果の計上に必要なインターフェース。
type LoginRecorder interface {
	RecordLogin(outcome string)
}

// AuthHandler はログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	errorWriter
	service    AuthServiceInterface
	recorder   LoginRecorder
	sessionTTL time.Duration
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, recorder LoginRecorder, sessionTTL time.Duration, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		errorWriter: errorWriter{logger: logger},
		service:     service,
		recorder:    recorder,
		sessionTTL:  sessionTTL,
	}
}

type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Handle    string    `json:"handle"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login はパスワードを検証し、Bearerトークンとして使うセッションIDを返す。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	session, err := h.service.VerifyLogin(r.Context(), req.Handle, req.Password, auth.ClientInfo{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.recorder.RecordLogin(loginOutcome(err))
		h.fail(w, r, err)
		return
	}
	h.recorder.RecordLogin("success")

	writeData(w, http.StatusOK, loginResponse{
		Token:     session.ID,
		Handle:    session.Handle,
		ExpiresAt: session.ExpiresAt(h.sessionTTL),
	})
}

// Logout はセッションを破棄する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.BearerToken(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

func loginOutcome(err error) string {
	apiErr := model.AsAPIError(err)
	switch apiErr.Code {
	case model.ErrCodeInvalidCredentials:
		return "invalid_credentials"
	case model.ErrCodeLocked:
		return "locked"
	case model.ErrCodeRentalExpired:
		return "expired"
	case model.ErrCodeUnauthorized, model.ErrCodeNotFound:
		return "unknown_account"
	default:
		return "error"
	}
}
