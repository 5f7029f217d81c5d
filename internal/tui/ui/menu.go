package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// MenuHint describes a keyboard shortcut for display in the menu bar.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // true for 0-9 shortcuts (displayed in a different color)
}

// Menu displays keyboard shortcut hints in columns of at most Rows lines.
type Menu struct {
	*tview.TextView
	theme *Theme
	Rows  int
}

// NewMenu creates a new menu hint bar.
func NewMenu(theme *Theme, rows int) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
		Rows:     rows,
	}
}

// Update renders hints column by column.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	_, _ = fmt.Fprint(m, m.Render(hints))
}

// Render returns the tview markup for hints.
func (m *Menu) Render(hints []MenuHint) string {
	rows := m.Rows
	if rows <= 0 {
		rows = len(hints)
	}
	keyColor := ColorName(m.theme.MenuKeyColor)
	numColor := ColorName(m.theme.NumericKeyColor)

	lines := make([]string, min(rows, len(hints)))
	for i, h := range hints {
		kc := keyColor
		if h.Numeric {
			kc = numColor
		}
		cell := fmt.Sprintf("[%s::b]<%s>[-:-:-] %-12s", kc, h.Key, h.Description)
		lines[i%rows] += cell
	}
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.Join(lines, "\n")
}
