// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/donalert/internal/middleware"
	"github.com/hitoshi/donalert/internal/model"
)

// maxBodyBytes はJSONリクエストボディの上限。
// スリップのペイロードやインポートを含めても十分な大きさにしている。
const maxBodyBytes = 4 << 20

// successResponse は成功時の共通レスポンス。
type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// writeJSON はステータスとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeData は{"success":true,"data":...}形式で書き込む。
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successResponse{Success: true, Data: data})
}

// decodeJSON はリクエストボディをvに読み込む。失敗した場合はVALIDATION_ERRORを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewValidationError("body", "リクエストボディが空です。")
		}
		return model.NewValidationError("body", "リクエストボディの解析に失敗しました。")
	}
	return nil
}

// errorWriter はロガーを束ねたエラーレスポンスの書き込み関数を持つ。
type errorWriter struct {
	logger *slog.Logger
}

func (e errorWriter) fail(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, e.logger, err)
}
