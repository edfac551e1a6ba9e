// Package webhook は寄付確定時に配信者が設定したURLへ通知を送る。
// 通知は失敗してもログに残すだけで、寄付の確定には影響しない。
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/donalert/internal/model"
)

const defaultTimeout = 10 * time.Second

// Payload はWebhookで送るJSON本文。
type Payload struct {
	Event    string      `json:"event"`
	Handle   string      `json:"handle"`
	Donation model.Alert `json:"donation"`
	SentAt   time.Time   `json:"sent_at"`
}

// Notifier はWebhookの送信を行う。
// httpClientには security.OutboundGuard が生成したクライアントを渡すこと。
type Notifier struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration

	wg  sync.WaitGroup
	now func() time.Time
}

// NewNotifier はNotifierを生成する。
func NewNotifier(httpClient *http.Client, logger *slog.Logger) *Notifier {
	return &Notifier{
		httpClient: httpClient,
		logger:     logger,
		timeout:    defaultTimeout,
		now:        time.Now,
	}
}

// Notify はアラートをurlへPOSTする。2xx以外の応答はエラーとして返す。
func (n *Notifier) Notify(ctx context.Context, url, handle string, a model.Alert) error {
	body, err := json.Marshal(Payload{
		Event:    "donation",
		Handle:   handle,
		Donation: a,
		SentAt:   n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "donalert-webhook/1.0")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Dispatch は別ゴルーチンでNotifyを呼ぶ。urlが空の場合は何もしない。
// 結果はログにのみ残す。
func (n *Notifier) Dispatch(url, handle string, a model.Alert) {
	if url == "" {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if err := n.Notify(ctx, url, handle, a); err != nil {
			n.logger.Warn("Webhookの送信に失敗しました",
				slog.String("handle", handle),
				slog.String("donation_id", a.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		n.logger.Info("Webhookを送信しました",
			slog.String("handle", handle),
			slog.String("donation_id", a.ID),
		)
	}()
}

// Wait は送信中のWebhookがすべて終わるまで待つ。シャットダウン時に使う。
func (n *Notifier) Wait() {
	n.wg.Wait()
}
