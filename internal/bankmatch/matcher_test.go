package bankmatch

import "testing"

func TestMatches(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		provider string
		want     bool
	}{
		{"末尾8桁の部分一致", "1234567890", "34567890", true},
		{"無関係な数字", "1234567890", "999999", false},
		{"完全一致", "1234567890", "1234567890", true},
		{"マスク付きプロバイダー値", "123-4-56789-0", "xxx-x-x5678-x", true},
		{"中間の部分一致", "1234567890", "4567", true},
		{"先頭の部分一致", "1234567890", "1234", true},
		{"プロバイダー値の方が長い", "4567", "1234567890", false},
		{"登録口座が空", "", "1234", false},
		{"プロバイダー値が数字を含まない", "1234567890", "xxx-x-xxxxx-x", false},
		{"両方とも数字なし", "abc", "def", false},
		{"1桁ずれ", "1234567890", "2345678901", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.declared, tt.provider); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.declared, tt.provider, got, tt.want)
			}
		})
	}
}

func TestMatches_EveryContiguousWindow(t *testing.T) {
	declared := "0812345678901"
	for n := 1; n <= len(declared); n++ {
		for i := 0; i+n <= len(declared); i++ {
			p := declared[i : i+n]
			if !Matches(declared, p) {
				t.Errorf("Matches(%q, %q) = false, want true", declared, p)
			}
		}
	}
}

func TestExplain_ReportsWindowRule(t *testing.T) {
	if got := Explain("1234567890", "xxx456xxxx"); got != RuleWindow {
		t.Errorf("Explain() = %q, want %q", got, RuleWindow)
	}
	if got := Explain("1234567890", "555"); got != RuleNone {
		t.Errorf("Explain() = %q, want none", got)
	}
}

func TestDigits(t *testing.T) {
	if got := Digits("12-3 4a5"); got != "12345" {
		t.Errorf("Digits() = %q, want 12345", got)
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"123-456-7890": "xxxxxx7890",
		"123":          "xxx",
		"":             "",
	}
	for in, want := range tests {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
