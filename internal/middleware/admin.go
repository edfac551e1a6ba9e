package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/hitoshi/donalert/internal/model"
)

// NewAdminMiddleware は管理APIをBearerトークンで保護するミドルウェアを返す。
// トークンが空の場合は管理APIを常に拒否する。
func NewAdminMiddleware(token string) func(next http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := []byte(BearerToken(r))
			if len(expected) == 0 || subtle.ConstantTimeCompare(given, expected) != 1 {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			recordHandle(r.Context(), "admin")
			next.ServeHTTP(w, r)
		})
	}
}
