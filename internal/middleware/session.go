// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/donalert/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// handleContextKey はリクエストコンテキストに認証済みハンドルを格納するためのキー。
	handleContextKey = contextKey("handle")
	// sessionIDContextKey はリクエストコンテキストにセッションIDを格納するためのキー。
	sessionIDContextKey = contextKey("session_id")
)

// SessionValidator はセッションの検証に必要なインターフェース。
// auth.Serviceの部分集合として定義する。
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (*model.Session, error)
}

// AccountGuard はアカウントの有効性確認に必要なインターフェース。
type AccountGuard interface {
	EnsureActive(ctx context.Context, handle string) (*model.Account, error)
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// NewSessionMiddleware はAuthorization: Bearer ヘッダーからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みハンドルとセッションIDをリクエストコンテキストに注入する。
func NewSessionMiddleware(validator SessionValidator, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			session, err := validator.ValidateSession(r.Context(), token)
			if err != nil {
				WriteError(w, r, logger, err)
				return
			}

			ctx := ContextWithHandle(r.Context(), session.Handle)
			ctx = context.WithValue(ctx, sessionIDContextKey, session.ID)
			recordHandle(ctx, session.Handle)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccountMatch はURLの{handle}と認証済みハンドルが一致することを確認する。
// ハンドルは大文字小文字を区別するため完全一致で比較する。
// 一致しない場合は401を返す。NewSessionMiddlewareの後に配置すること。
func RequireAccountMatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, err := HandleFromContext(r.Context())
		if err != nil || handle != chi.URLParam(r, "handle") {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewActiveAccountMiddleware は認証済みアカウントが存在し、
// レンタル期限切れでないことを確認するミドルウェアを返す。
func NewActiveAccountMiddleware(guard AccountGuard, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle, err := HandleFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if _, err := guard.EnsureActive(r.Context(), handle); err != nil {
				WriteError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandleFromContext はリクエストコンテキストから認証済みハンドルを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func HandleFromContext(ctx context.Context) (string, error) {
	handle, ok := ctx.Value(handleContextKey).(string)
	if !ok || handle == "" {
		return "", fmt.Errorf("handle not found in context")
	}
	return handle, nil
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// ContextWithHandle はコンテキストに認証済みハンドルを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, handleContextKey, handle)
}
