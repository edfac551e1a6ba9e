// Package slipverify は振込スリップ検証プロバイダーのクライアントを提供する。
// スリップのQRコードのペイロードを送り、取引内容と重複判定用の識別子を受け取る。
package slipverify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/donalert/internal/model"
)

const (
	// DefaultEndpoint はスリップ照会APIのエンドポイント。
	DefaultEndpoint = "https://suba.rdcw.co.th/v1/inquiry"

	providerName = "slipverify"
	pingPayload  = "test"

	// maxBodySize は読み込むレスポンスボディの上限（1MB）。
	maxBodySize = 1 << 20
)

// Client はスリップ照会APIのクライアント。
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	endpoint     string
	clientID     string
	clientSecret string
}

// Result は照会結果。ValidがfalseのときDataは信用しない。
type Result struct {
	Valid         bool     `json:"valid"`
	Discriminator string   `json:"discriminator"`
	Data          SlipData `json:"data"`
}

// SlipData はプロバイダーが返す取引内容。
type SlipData struct {
	Amount        float64         `json:"amount"`
	TransRef      string          `json:"transRef"`
	TransDate     string          `json:"transDate"`
	TransTime     string          `json:"transTime"`
	SendingBank   string          `json:"sendingBank"`
	ReceivingBank string          `json:"receivingBank"`
	Sender        model.SlipParty `json:"sender"`
	Receiver      model.SlipParty `json:"receiver"`
}

// Snapshot は監査用に保存するスリップの内容を返す。
func (d SlipData) Snapshot() *model.SlipSnapshot {
	return &model.SlipSnapshot{
		TransDate:     d.TransDate,
		TransTime:     d.TransTime,
		SendingBank:   d.SendingBank,
		ReceivingBank: d.ReceivingBank,
		Sender:        d.Sender,
		Receiver:      d.Receiver,
	}
}

// PingResult は接続テストの結果。
type PingResult struct {
	StatusCode int  `json:"status"`
	Connected  bool `json:"connected"`
}

// NewClient はClientを生成する。endpointが空の場合は本番のエンドポイントを使う。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint, clientID, clientSecret string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		httpClient:   httpClient,
		logger:       logger,
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Inquire はスリップのペイロードを照会する。
// 通信失敗・タイムアウト・2xx以外の応答・解釈できない応答はUPSTREAM_UNAVAILABLEを返す。
func (c *Client) Inquire(ctx context.Context, payload string) (*Result, error) {
	resp, err := c.post(ctx, payload)
	if err != nil {
		c.logger.Error("スリップ照会APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamUnavailableError(providerName)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("スリップ照会APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewUpstreamUnavailableError(providerName)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamUnavailableError(providerName)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("スリップ照会APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamUnavailableError(providerName)
	}

	c.logger.Info("スリップを照会しました",
		slog.Bool("valid", result.Valid),
		slog.String("trans_ref", result.Data.TransRef),
		slog.Float64("amount", result.Data.Amount),
	)
	return &result, nil
}

// Ping はダミーのペイロードで照会APIへの到達性と認証情報を確認する。
// 到達できない場合のみエラーを返し、HTTPステータスは結果に含める。
func (c *Client) Ping(ctx context.Context) (*PingResult, error) {
	resp, err := c.post(ctx, pingPayload)
	if err != nil {
		c.logger.Warn("スリップ照会APIの接続テストに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamUnavailableError(providerName)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return &PingResult{
		StatusCode: resp.StatusCode,
		Connected:  resp.StatusCode >= 200 && resp.StatusCode < 300,
	}, nil
}

func (c *Client) post(ctx context.Context, payload string) (*http.Response, error) {
	body, err := json.Marshal(map[string]string{"payload": payload})
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	return c.httpClient.Do(req)
}
