// Package truewallet はTrueMoneyウォレットのギフトバウチャー受け取りAPIのクライアントを提供する。
package truewallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/hitoshi/donalert/internal/model"
)

const (
	// DefaultEndpoint はバウチャーAPIのベースURL。
	DefaultEndpoint = "https://gift.truemoney.com/campaign/vouchers"
	// voucherLinkPrefix は共有リンク形式で貼り付けられたバウチャーの接頭辞。
	voucherLinkPrefix = "https://gift.truemoney.com/campaign/?v="

	providerName = "truewallet"
	statusOK     = "SUCCESS"

	// maxBodySize は読み込むレスポンスボディの上限（1MB）。
	maxBodySize = 1 << 20
)

var voucherCodePattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// Client はバウチャー受け取りAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// RedeemResult は受け取りに成功したバウチャーの情報。
type RedeemResult struct {
	VoucherCode string
	Amount      int64
	OwnerName   string
}

// NewClient はClientを生成する。endpointが空の場合は本番のエンドポイントを使う。
// タイムアウトはhttpClientに設定しておくこと。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(endpoint, "/"),
	}
}

// NormalizeVoucher は共有リンクの接頭辞を取り除き、バウチャーコードを検証する。
func NormalizeVoucher(voucher string) (string, error) {
	code := strings.TrimSpace(strings.Replace(voucher, voucherLinkPrefix, "", 1))
	if code == "" {
		return "", model.NewValidationError("voucher", "バウチャーコードを入力してください。")
	}
	if !voucherCodePattern.MatchString(code) {
		return "", model.NewValidationError("voucher", "バウチャーコードは英数字のみで指定してください。")
	}
	return code, nil
}

type redeemRequest struct {
	Mobile      string `json:"mobile"`
	VoucherHash string `json:"voucher_hash"`
}

type redeemResponse struct {
	Status *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	Data struct {
		Voucher struct {
			RedeemedAmountBaht json.RawMessage `json:"redeemed_amount_baht"`
		} `json:"voucher"`
		OwnerProfile struct {
			FullName string `json:"full_name"`
		} `json:"owner_profile"`
	} `json:"data"`
}

// Redeem はバウチャーを電話番号のウォレットで受け取る。
// プロバイダーが成功以外を返した場合はUPSTREAM_REJECTED、
// 通信失敗・タイムアウト・解釈できない応答はUPSTREAM_UNAVAILABLEを返す。
func (c *Client) Redeem(ctx context.Context, phone, voucher string) (*RedeemResult, error) {
	code, err := NormalizeVoucher(voucher)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(redeemRequest{Mobile: phone, VoucherHash: code})
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	reqURL := fmt.Sprintf("%s/%s/redeem", c.endpoint, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("バウチャーAPIの呼び出しに失敗しました",
			slog.String("voucher", code),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamUnavailableError(providerName)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamUnavailableError(providerName)
	}

	// エラー時もステータスコード付きのJSONが返るため、HTTPステータスより本文を優先する
	var result redeemResponse
	if err := json.Unmarshal(body, &result); err != nil || result.Status == nil {
		c.logger.Error("バウチャーAPIの応答を解釈できませんでした",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewUpstreamUnavailableError(providerName)
	}

	if result.Status.Code != statusOK {
		reason := result.Status.Message
		if reason == "" {
			reason = result.Status.Code
		}
		c.logger.Warn("バウチャーの受け取りが拒否されました",
			slog.String("voucher", code),
			slog.String("status", result.Status.Code),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewUpstreamRejectedError(providerName, reason)
	}

	amount, err := parseBaht(result.Data.Voucher.RedeemedAmountBaht)
	if err != nil {
		c.logger.Error("受け取り金額を解釈できませんでした",
			slog.String("voucher", code),
			slog.String("raw", string(result.Data.Voucher.RedeemedAmountBaht)),
		)
		return nil, model.NewUpstreamUnavailableError(providerName)
	}

	return &RedeemResult{
		VoucherCode: code,
		Amount:      amount,
		OwnerName:   result.Data.OwnerProfile.FullName,
	}, nil
}

// parseBaht は文字列または数値で表された金額を整数バーツに変換する。小数部は切り捨てる。
func parseBaht(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	s := string(raw)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	whole, _, _ := strings.Cut(s, ".")
	if whole == "" {
		return 0, nil
	}
	return strconv.ParseInt(whole, 10, 64)
}
