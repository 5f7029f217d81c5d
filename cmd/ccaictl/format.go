package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/creativecareer/ccai/internal/api"
	"github.com/creativecareer/ccai/internal/chat"
)

const previewLen = 40

func formatConversation(c chat.Conversation) string {
	name := c.Partner.Name
	if name == "" {
		name = c.Partner.ID
	}
	unread := ""
	if c.UnreadCount > 0 {
		unread = fmt.Sprintf(" [%d]", c.UnreadCount)
	}
	preview := ""
	if c.LastMessage != nil {
		preview = truncate(oneLine(c.LastMessage.Content), previewLen)
	}
	return fmt.Sprintf("%-24s %-20s%s  %s", c.ID, name, unread, preview)
}

func printTimeline(w io.Writer, opts *options, tl *api.TimelineResponse) error {
	if opts.json {
		return outputJSON(w, tl)
	}
	if tl.ConversationID == "" {
		fmt.Fprintln(w, "No conversation is open.")
		return nil
	}
	if tl.HasMore {
		fmt.Fprintln(w, "  (older messages available: ccaictl older)")
	}
	for _, e := range tl.Entries {
		fmt.Fprintln(w, formatEntry(e))
	}
	if tl.PartnerTyping {
		fmt.Fprintln(w, "  typing...")
	}
	return nil
}

func formatEntry(e api.TimelineEntry) string {
	if e.Separator {
		return "── " + e.Day + " ──"
	}
	if e.Message == nil {
		return ""
	}
	m := e.Message
	var mark string
	switch {
	case e.Pending:
		mark = " …"
	case m.Read:
		mark = " ✓✓"
	}
	return fmt.Sprintf("[%s] %s: %s%s", m.Timestamp.Local().Format("15:04"), m.SenderID, m.Content, mark)
}

func formatFailedSend(f api.FailedSend) string {
	return fmt.Sprintf("%s  %-7s %s  %q (%s)", f.TempID, f.Status, f.ConversationID, truncate(oneLine(f.Content), previewLen), f.Reason)
}

func formatEvent(evt *api.Event) string {
	line := evt.OccurredAt.Local().Format(time.TimeOnly) + " " + evt.Kind
	if p := strings.TrimSpace(string(evt.Payload)); p != "" && p != "null" {
		line += " " + p
	}
	return line
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
