// Package security は外部入力と外部への通信を安全に扱う機能を提供する。
//
// 寄付者が入力した名前・メッセージはオーバーレイにそのまま表示されるため、
// HTMLを含まないプレーンテキストに落としてから台帳に保存する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は寄付者入力をプレーンテキストに正規化する。
type TextSanitizer interface {
	// Clean はタグを除去し、前後の空白を取り除き、maxRunes文字に切り詰める。
	// maxRunesが0以下の場合は切り詰めない。
	Clean(input string, maxRunes int) string
}

// textSanitizer はbluemondayのStrictPolicyを使うTextSanitizerの実装。
// Policyは生成後の読み取りがスレッドセーフなので共有してよい。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はTextSanitizerを実装する。
func (s *textSanitizer) Clean(input string, maxRunes int) string {
	if input == "" {
		return ""
	}
	// StrictPolicyは&や<をエスケープするので、保存用に元の文字へ戻す
	text := html.UnescapeString(s.policy.Sanitize(input))
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if maxRunes > 0 {
		runes := []rune(text)
		if len(runes) > maxRunes {
			text = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return text
}
