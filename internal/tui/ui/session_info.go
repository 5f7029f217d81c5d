package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Session string
	UserID  string
	State   string
	Unread  int
	Sending int
	Uptime  time.Duration
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info, one label per line.
func (si *SessionInfo) Update(data *SessionData) {
	si.Clear()
	if data == nil {
		return
	}

	label := ColorName(si.theme.FgColor)
	value := ColorName(si.theme.CounterColor)
	state := value
	if data.State == "ONLINE" {
		state = ColorName(si.theme.OnlineColor)
	}

	rows := []struct {
		name, color, text string
	}{
		{"Session", value, data.Session},
		{"User", value, data.UserID},
		{"State", state, data.State},
		{"Unread", value, fmt.Sprint(data.Unread)},
		{"Sending", value, fmt.Sprint(data.Sending)},
		{"Uptime", value, FormatDuration(data.Uptime)},
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = fmt.Sprintf("[%s::b]%-8s[-:-:-] [%s]%s[-]", label, r.name+":", r.color, tview.Escape(r.text))
	}
	_, _ = fmt.Fprint(si, strings.Join(lines, "\n"))
}

// FormatDuration renders d as hours and minutes.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
