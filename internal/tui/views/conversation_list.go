package views

import (
	"fmt"
	"time"

	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// ConversationList is the main conversation table. The rows it shows are
// already filtered by the daemon.
type ConversationList struct {
	*tview.Table
	theme  *ui.Theme
	convs  []chat.Conversation
	filter string
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// Update replaces the rows. filter is only shown in the title.
func (cl *ConversationList) Update(convs []chat.Conversation, filter string) {
	selected := cl.SelectedConversation()
	cl.convs = convs
	cl.filter = filter
	cl.render()
	cl.reselect(selected)
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" UNREAD", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	for i, c := range cl.convs {
		row := i + 1
		name := c.Partner.Name
		if name == "" {
			name = c.Partner.ID
		}
		var preview, ts string
		if c.LastMessage != nil {
			preview = c.LastMessage.Content
			ts = FormatTimestamp(c.LastMessage.Timestamp, time.Now())
		}
		unread := ""
		attrs := tcell.AttrNone
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf("%d", c.UnreadCount)
			attrs = tcell.AttrBold
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1).SetTextColor(cl.theme.FgColor).SetAttributes(attrs))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(oneLine(preview)))).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(ts).SetExpansion(0).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(unread).SetExpansion(0).SetTextColor(cl.theme.CounterColor).SetAlign(tview.AlignRight))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) filter: %s ", len(cl.convs), tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

func (cl *ConversationList) reselect(id string) {
	for i, c := range cl.convs {
		if c.ID == id {
			cl.Select(i+1, 0)
			return
		}
	}
	if len(cl.convs) > 0 {
		cl.Select(1, 0)
	}
}

// SelectedConversation returns the id of the highlighted row.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	return cl.ConversationByIndex(row)
}

// ConversationByIndex returns the id of the Nth visible conversation
// (1-based).
func (cl *ConversationList) ConversationByIndex(n int) string {
	if n < 1 || n > len(cl.convs) {
		return ""
	}
	return cl.convs[n-1].ID
}

// FormatTimestamp shows the time of day for today and the date otherwise.
func FormatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
