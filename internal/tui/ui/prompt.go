package ui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode indicates the type of prompt: a : command or a / filter.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

const maxHistory = 50

// Prompt is the command and filter input bar. Submitted commands are kept
// in a history recalled with Up and Down.
type Prompt struct {
	*tview.InputField
	mode     PromptMode
	history  []string
	cursor   int
	onSubmit func(mode PromptMode, text string)
	onCancel func()
}

// NewPrompt creates a new prompt input bar.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{InputField: input}
	input.SetDoneFunc(p.done)
	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyUp:
			p.recall(-1)
			return nil
		case tcell.KeyDown:
			p.recall(1)
			return nil
		}
		return ev
	})
	return p
}

func (p *Prompt) done(key tcell.Key) {
	switch key {
	case tcell.KeyEnter:
		text := strings.TrimSpace(p.GetText())
		p.SetText("")
		if p.mode == PromptCommand && text != "" {
			p.remember(text)
		}
		// An empty filter clears the active one.
		if p.onSubmit != nil && (text != "" || p.mode == PromptFilter) {
			p.onSubmit(p.mode, text)
		}
	case tcell.KeyEscape:
		p.SetText("")
		if p.onCancel != nil {
			p.onCancel()
		}
	}
}

func (p *Prompt) remember(cmd string) {
	if n := len(p.history); n == 0 || p.history[n-1] != cmd {
		p.history = append(p.history, cmd)
	}
	if len(p.history) > maxHistory {
		p.history = p.history[len(p.history)-maxHistory:]
	}
	p.cursor = len(p.history)
}

// recall moves through command history; past the newest entry the field
// is cleared.
func (p *Prompt) recall(delta int) {
	if p.mode != PromptCommand || len(p.history) == 0 {
		return
	}
	p.cursor = min(max(p.cursor+delta, 0), len(p.history))
	if p.cursor == len(p.history) {
		p.SetText("")
		return
	}
	p.SetText(p.history[p.cursor])
}

// History returns submitted commands, oldest first.
func (p *Prompt) History() []string {
	return append([]string(nil), p.history...)
}

// SetOnSubmit sets the callback when the prompt is submitted.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnCancel sets the callback when the prompt is cancelled.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// Activate shows the prompt in the given mode, prefilled with text.
func (p *Prompt) Activate(mode PromptMode, text string) {
	p.mode = mode
	p.cursor = len(p.history)
	p.SetText(text)
	if mode == PromptFilter {
		p.SetLabel("/")
		p.SetTitle(" Filter ")
		return
	}
	p.SetLabel(":")
	p.SetTitle(" Command ")
}

// Mode returns the current prompt mode.
func (p *Prompt) Mode() PromptMode {
	return p.mode
}
