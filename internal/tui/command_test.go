package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  Command
	}{
		{"q", Command{Name: "q"}},
		{"  OPEN 3 ", Command{Name: "open", Args: "3"}},
		{":filter  ann smith", Command{Name: "filter", Args: "ann smith"}},
		{"retry", Command{Name: "retry"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseCommand(tt.input); got != tt.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCommandCanonical(t *testing.T) {
	tests := map[string]string{
		"q":       "quit",
		"quit":    "quit",
		"o":       "open",
		"more":    "older",
		"r":       "refresh",
		"retry":   "retry",
		"unknown": "unknown",
	}
	for name, want := range tests {
		if got := (Command{Name: name}).Canonical(); got != want {
			t.Errorf("Canonical(%q) = %q, want %q", name, got, want)
		}
	}
}
