// Package bankmatch は配信者が登録した口座番号と、スリップ検証プロバイダーが返す
// 一部マスクされた口座番号の照合を提供する。
package bankmatch

import "strings"

// Rule は照合が成立した規則を表す。
type Rule string

const (
	// RuleNone は照合不成立。
	RuleNone Rule = ""
	// RuleWindow は登録口座上のスライディングウィンドウで一致した。
	RuleWindow Rule = "window"
	// RuleSuffix は登録口座の末尾が一致した。
	RuleSuffix Rule = "suffix"
	// RulePrefix は登録口座の先頭が一致した。
	RulePrefix Rule = "prefix"
	// RuleContains は登録口座の途中に含まれていた。
	RuleContains Rule = "contains"
)

// Digits は文字列から数字のみを取り出す。
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Matches は登録口座番号とプロバイダーの口座値が一致するかを返す。
// 数字以外は無視する。どちらかが数字を含まない場合はfalse。
func Matches(declaredAccount, providerAccountValue string) bool {
	return Explain(declaredAccount, providerAccountValue) != RuleNone
}

// Explain はMatchesと同じ判定を行い、成立した規則を返す。監査ログ用。
//
// 1. プロバイダー値の長さのウィンドウを登録口座上でずらし、完全一致を探す。
// 2. 登録口座がプロバイダー値で終わる・始まる・含む場合も一致とする。
func Explain(declaredAccount, providerAccountValue string) Rule {
	declared := Digits(declaredAccount)
	provider := Digits(providerAccountValue)
	if declared == "" || provider == "" {
		return RuleNone
	}

	if n := len(provider); n <= len(declared) {
		for i := 0; i+n <= len(declared); i++ {
			if declared[i:i+n] == provider {
				return RuleWindow
			}
		}
	}

	switch {
	case strings.HasSuffix(declared, provider):
		return RuleSuffix
	case strings.HasPrefix(declared, provider):
		return RulePrefix
	case strings.Contains(declared, provider):
		return RuleContains
	}
	return RuleNone
}

// Mask は口座番号を末尾4桁以外伏せた表記にする。ログ出力用。
func Mask(account string) string {
	d := Digits(account)
	if len(d) <= 4 {
		return strings.Repeat("x", len(d))
	}
	return strings.Repeat("x", len(d)-4) + d[len(d)-4:]
}
