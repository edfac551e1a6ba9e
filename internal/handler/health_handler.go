package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/donalert/internal/alert"
)

// HealthChecker はデータベースの疎通確認に必要なインターフェース。
// *sql.DBはこれを満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// QueueStateReader はアラートキューの状態取得に必要なインターフェース。
type QueueStateReader interface {
	State() alert.State
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db     HealthChecker
	queue  QueueStateReader
	logger *slog.Logger
}

// NewHealthHandler はHealthHandlerを生成する。dbがnilの場合はDBの確認を省略する。
func NewHealthHandler(db HealthChecker, queue QueueStateReader, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, logger: logger}
}

type healthResponse struct {
	Status   string      `json:"status"`
	Database string      `json:"database"`
	Queue    alert.State `json:"queue"`
}

// Health はDBとアラートキューの状態を返す。DBに接続できない場合は503を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "skipped", Queue: h.queue.State()}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Error("ヘルスチェックでDBに接続できませんでした", slog.String("error", err.Error()))
			resp.Status = "unavailable"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	writeJSON(w, status, resp)
}
