package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/hitoshi/donalert/internal/alert"
)

const displayWriteTimeout = 10 * time.Second

// AlertSubscriber は表示クライアントの購読に必要なインターフェース。
type AlertSubscriber interface {
	Subscribe(handle string) *alert.Subscription
}

// displayFrame は表示クライアントへ送るフレーム。
type displayFrame struct {
	Type   string `json:"type"`
	Handle string `json:"handle,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// DisplayHandler は配信画面（OBSのブラウザソースなど）へアラートを届けるWebSocketハンドラー。
type DisplayHandler struct {
	errorWriter
	accounts AccountReader
	hub      AlertSubscriber
	logger   *slog.Logger
}

// NewDisplayHandler はDisplayHandlerを生成する。
func NewDisplayHandler(accounts AccountReader, hub AlertSubscriber, logger *slog.Logger) *DisplayHandler {
	return &DisplayHandler{
		errorWriter: errorWriter{logger: logger},
		accounts:    accounts,
		hub:         hub,
		logger:      logger,
	}
}

// Serve はアカウントの存在を確認してからWebSocketへ昇格する。
// ブラウザソースはローカルファイルから開かれることがあるため、Originは検査しない。
// GET /ws/{handle}
func (h *DisplayHandler) Serve(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accounts.Get(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	handle := acc.Handle

	server := websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			h.stream(conn, handle)
		},
	}
	server.ServeHTTP(w, r)
}

// stream は接続が切れるまで購読したアラートを送り続ける。
func (h *DisplayHandler) stream(conn *websocket.Conn, handle string) {
	defer conn.Close()

	sub := h.hub.Subscribe(handle)
	defer sub.Close()

	h.logger.Info("表示クライアントが接続しました", slog.String("handle", handle))
	defer h.logger.Info("表示クライアントが切断しました", slog.String("handle", handle))

	// クライアントからのフレームは使わないが、切断の検知のために読み続ける
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		var discard []byte
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	if err := h.send(conn, displayFrame{Type: "connected", Handle: handle}); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case a, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.send(conn, displayFrame{Type: "donation", Handle: handle, Data: a}); err != nil {
				h.logger.Warn("アラートの送信に失敗しました",
					slog.String("handle", handle),
					slog.String("donation_id", a.ID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

func (h *DisplayHandler) send(conn *websocket.Conn, frame displayFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(displayWriteTimeout)); err != nil {
		return err
	}
	return websocket.JSON.Send(conn, frame)
}
