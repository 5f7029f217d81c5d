package views

import "testing"

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"skin tone", "\U0001F44D\U0001F3FD", "\U0001F44D"},
		{"zwj family", "\U0001F468\u200d\U0001F469", "\U0001F468\U0001F469"},
		{"variation selector", "\u2764\ufe0f", "\u2764"},
		{"escape sequence", "a\x1b[2Jb", "a[2Jb"},
		{"keeps newline", "a\nb\tc", "a\nb\tc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeForTerminal(tt.in); got != tt.want {
				t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("  see\n you \t soon "); got != "see you soon" {
		t.Errorf("oneLine = %q", got)
	}
}
