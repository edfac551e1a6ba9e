package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/hitoshi/donalert/internal/model"
)

// OutboundGuard は配信者が設定したURL（Webhook）への通信をSSRFから守る。
type OutboundGuard interface {
	// NewClient はプライベート・ループバック・リンクローカル宛ての接続を
	// ダイヤル時に拒否するHTTPクライアントを返す。
	NewClient(timeout time.Duration) *http.Client

	// ValidateURL は設定保存時にURLを静的に検証する。
	// DNS解決後の検証はNewClientのクライアント側で行われる。
	ValidateURL(rawURL string) error
}

var blockedPrefixes = mustParsePrefixes(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

var blockedHostSuffixes = []string{"localhost", ".local", ".internal"}

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		prefixes = append(prefixes, netip.MustParsePrefix(cidr))
	}
	return prefixes
}

type outboundGuard struct{}

// NewOutboundGuard はOutboundGuardを生成する。
func NewOutboundGuard() *outboundGuard {
	return &outboundGuard{}
}

// NewClient はOutboundGuardを実装する。
func (g *outboundGuard) NewClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(config).Client
}

// ValidateURL はOutboundGuardを実装する。問題があればwebhook_urlのVALIDATION_ERRORを返す。
func (g *outboundGuard) ValidateURL(rawURL string) error {
	if reason := checkURL(rawURL); reason != "" {
		return model.NewValidationError("webhook_url", fmt.Sprintf("Webhook URLを使用できません: %s", reason))
	}
	return nil
}

func checkURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || rawURL == "" {
		return "invalid url"
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return "scheme must be http or https"
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "missing host"
	}
	if port := parsed.Port(); port != "" && port != "80" && port != "443" {
		return "port not allowed"
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return "private address"
			}
		}
		return ""
	}

	for _, suffix := range blockedHostSuffixes {
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, suffix) {
			return "internal host"
		}
	}
	return ""
}
