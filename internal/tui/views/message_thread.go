package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/creativecareer/ccai/internal/api"
	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// MessageThread displays the open conversation, the partner's presence and
// a composer.
type MessageThread struct {
	*tview.Flex
	theme       *ui.Theme
	messages    *tview.TextView
	presence    *tview.TextView
	composer    *tview.InputField
	name        string
	userID      string
	onSend      func(text string)
	onTyping    func()
	settingText bool
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	presence := tview.NewTextView().
		SetDynamicColors(true)
	presence.SetBackgroundColor(theme.BgColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(presence, 1, 0, false).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		presence: presence,
		composer: composer,
	}

	composer.SetChangedFunc(func(text string) {
		if mt.settingText || text == "" || mt.onTyping == nil {
			return
		}
		mt.onTyping()
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		text := composer.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		mt.onSend(text)
		mt.ClearComposer()
	})

	return mt
}

// SetConversation updates the partner name shown in the title and the local
// user used to tell own messages apart.
func (mt *MessageThread) SetConversation(name, userID string) {
	mt.name = name
	mt.userID = userID
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(name))))
}

// SetOnSend sets the callback for a submitted message.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnTyping sets the callback for each composer edit.
func (mt *MessageThread) SetOnTyping(fn func()) {
	mt.onTyping = fn
}

// ClearComposer empties the composer without reporting a typing change.
func (mt *MessageThread) ClearComposer() {
	mt.settingText = true
	mt.composer.SetText("")
	mt.settingText = false
}

// Update re-renders the thread. The view stays at the bottom unless
// keepOffset is set, as when older messages were prepended.
func (mt *MessageThread) Update(tl *api.TimelineResponse, keepOffset bool) {
	row, col := mt.messages.GetScrollOffset()
	before := strings.Count(mt.messages.GetText(false), "\n")

	mt.messages.Clear()
	_, _ = fmt.Fprint(mt.messages, RenderTimeline(tl, mt.userID, mt.name, mt.theme))

	if keepOffset {
		added := strings.Count(mt.messages.GetText(false), "\n") - before
		mt.messages.ScrollTo(row+max(added, 0), col)
	} else {
		mt.messages.ScrollToEnd()
	}

	mt.presence.Clear()
	_, _ = fmt.Fprint(mt.presence, RenderPresence(tl, mt.theme))
}

// RenderTimeline returns the tview markup of a thread. Messages from
// userID are labelled "You" and the partner's with partnerName when set.
func RenderTimeline(tl *api.TimelineResponse, userID, partnerName string, theme *ui.Theme) string {
	if tl == nil {
		return ""
	}
	var b strings.Builder
	if tl.HasMore {
		fmt.Fprintf(&b, "[%s]  (o: load older messages)[-]\n\n", ui.ColorName(theme.PendingColor))
	}
	for _, e := range tl.Entries {
		if e.Separator {
			fmt.Fprintf(&b, "[%s::b]── %s ──[-:-:-]\n\n", ui.ColorName(theme.SeparatorColor), formatDay(e.Day, time.Now()))
			continue
		}
		if e.Message == nil {
			continue
		}
		b.WriteString(renderMessage(*e.Message, e.Pending, userID, partnerName, theme))
	}
	return b.String()
}

func renderMessage(m chat.Message, pending bool, userID, partnerName string, theme *ui.Theme) string {
	sender := m.SenderID
	if partnerName != "" {
		sender = partnerName
	}
	color := ui.ColorName(theme.FgColor)
	if m.SenderID == userID {
		sender = "You"
		color = ui.ColorName(theme.OwnMessageColor)
	}

	var mark string
	switch {
	case pending:
		mark = fmt.Sprintf(" [%s]sending…[-]", ui.ColorName(theme.PendingColor))
	case m.SenderID == userID && m.Read:
		mark = " ✓✓"
	case m.SenderID == userID:
		mark = " ✓"
	}

	return fmt.Sprintf("[%s::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
		color, tview.Escape(sanitizeForTerminal(sender)),
		m.Timestamp.Local().Format("15:04"), mark,
		tview.Escape(sanitizeForTerminal(m.Content)))
}

// RenderPresence returns the line under the thread: the partner typing,
// online or nothing.
func RenderPresence(tl *api.TimelineResponse, theme *ui.Theme) string {
	switch {
	case tl == nil:
		return ""
	case tl.PartnerTyping:
		return fmt.Sprintf(" [%s::i]typing…[-:-:-]", ui.ColorName(theme.OnlineColor))
	case tl.PartnerStatus == chat.Online:
		return fmt.Sprintf(" [%s]● online[-]", ui.ColorName(theme.OnlineColor))
	default:
		return ""
	}
}

// formatDay labels a YYYY-MM-DD day relative to now.
func formatDay(day string, now time.Time) string {
	d, err := time.ParseInLocation(time.DateOnly, day, now.Location())
	if err != nil {
		return day
	}
	y, m, dd := now.Date()
	today := time.Date(y, m, dd, 0, 0, 0, 0, now.Location())
	switch {
	case d.Equal(today):
		return "Today"
	case d.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	case d.Year() == now.Year():
		return d.Format("Mon, Jan 2")
	default:
		return d.Format("Jan 2, 2006")
	}
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
