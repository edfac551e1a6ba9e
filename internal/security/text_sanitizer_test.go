package security

import "testing"

func TestTextSanitizer_Clean(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name     string
		input    string
		maxRunes int
		want     string
	}{
		{"plain", "Somchai", 50, "Somchai"},
		{"script removed", `<script>alert(1)</script>Bob`, 50, "Bob"},
		{"tags stripped", `<b>big</b> <img src=x onerror=alert(1)>fan`, 50, "big fan"},
		{"ampersand kept", "Tom & Jerry", 50, "Tom & Jerry"},
		{"trimmed", "   hi   ", 50, "hi"},
		{"newlines flattened", "line1\nline2", 50, "line1 line2"},
		{"thai truncated by rune", "สวัสดีครับ", 3, "สวั"},
		{"no limit", "abcdef", 0, "abcdef"},
		{"empty", "", 10, ""},
		{"only markup", "<p></p>", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Clean(tt.input, tt.maxRunes); got != tt.want {
				t.Errorf("Clean(%q, %d) = %q, want %q", tt.input, tt.maxRunes, got, tt.want)
			}
		})
	}
}

// 同じ入力を2回通しても結果が変わらないこと
func TestTextSanitizer_Idempotent(t *testing.T) {
	s := NewTextSanitizer()
	inputs := []string{"a < b", "<i>x</i> & y", "ขอบคุณ 🙏"}
	for _, in := range inputs {
		once := s.Clean(in, 200)
		if twice := s.Clean(once, 200); twice != once {
			t.Errorf("Clean not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

var _ TextSanitizer = (*textSanitizer)(nil)
