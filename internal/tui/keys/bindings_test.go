package keys

import (
	"testing"

	"github.com/creativecareer/ccai/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/google/go-cmp/cmp"
)

func TestHandleEventPrefersView(t *testing.T) {
	r := NewRegistry()
	var got string
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "global" }})
	r.AddView("thread", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "view" }})

	if !r.HandleEvent("thread", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)) {
		t.Fatal("HandleEvent returned false")
	}
	if got != "view" {
		t.Errorf("handler = %q, want view", got)
	}

	if !r.HandleEvent("conversations", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)) {
		t.Fatal("HandleEvent returned false for global binding")
	}
	if got != "global" {
		t.Errorf("handler = %q, want global", got)
	}
}

func TestHandleEventNoMatch(t *testing.T) {
	r := NewRegistry()
	r.AddView("thread", &Action{Key: tcell.KeyEscape, Handler: func() { t.Error("unexpected call") }})

	if r.HandleEvent("thread", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("HandleEvent matched an unbound key")
	}
}

func TestHintsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: ':', Description: "Command", Visible: true})
	r.AddView("list", &Action{Key: tcell.KeyEnter, Description: "Open", Visible: true})
	r.AddView("list", &Action{Key: tcell.KeyRune, Rune: '/', Description: "Filter", Visible: true})
	r.AddView("list", &Action{Key: tcell.KeyRune, Rune: '1', Description: "Jump", Visible: true, Numeric: true, Hint: "1-9"})
	r.AddView("list", &Action{Key: tcell.KeyRune, Rune: '2', Description: "Jump"})

	want := []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: "1-9", Description: "Jump", Numeric: true},
		{Key: ":", Description: "Command"},
	}
	if diff := cmp.Diff(want, r.Hints("list")); diff != "" {
		t.Errorf("Hints mismatch (-want +got):\n%s", diff)
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{Action{Key: tcell.KeyRune, Rune: 'o'}, "o"},
		{Action{Key: tcell.KeyEscape}, "Esc"},
		{Action{Key: tcell.KeyEnter}, "Enter"},
		{Action{Key: tcell.KeyRune, Rune: '1', Hint: "1-9"}, "1-9"},
	}
	for _, tt := range tests {
		if got := tt.action.Label(); got != tt.want {
			t.Errorf("Label() = %q, want %q", got, tt.want)
		}
	}
}
