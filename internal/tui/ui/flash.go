package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel represents the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// flashTTL is how long each level stays on screen.
var flashTTL = map[FlashLevel]time.Duration{
	FlashInfo: 5 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  10 * time.Second,
}

// FlashMessage is a flash notification with a level and expiry.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// FlashModel holds the current transient notification. It is safe for use
// from the background goroutines that report errors.
type FlashModel struct {
	mu      sync.Mutex
	current *FlashMessage
	now     func() time.Time
}

// NewFlashModel creates a new flash model.
func NewFlashModel() *FlashModel {
	return &FlashModel{now: time.Now}
}

// Info shows msg as information.
func (f *FlashModel) Info(msg string) { f.set(FlashInfo, msg) }

// Warn shows msg as a warning.
func (f *FlashModel) Warn(msg string) { f.set(FlashWarn, msg) }

// Err shows err as an error.
func (f *FlashModel) Err(err error) { f.set(FlashErr, err.Error()) }

func (f *FlashModel) set(level FlashLevel, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = &FlashMessage{Text: msg, Level: level, Expires: f.now().Add(flashTTL[level])}
}

// Current returns a copy of the live message, or nil once it has expired.
func (f *FlashModel) Current() *FlashMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil || f.current.Text == "" {
		return nil
	}
	if f.now().After(f.current.Expires) {
		f.current = nil
		return nil
	}
	m := *f.current
	return &m
}

// FlashBar is the one-line notification area at the bottom of the screen.
type FlashBar struct {
	*tview.TextView
	colors map[FlashLevel]string
}

// NewFlashBar creates a new flash notification bar.
func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{
		TextView: tv,
		colors: map[FlashLevel]string{
			FlashInfo: ColorName(theme.FlashInfoColor),
			FlashWarn: ColorName(theme.FlashWarnColor),
			FlashErr:  ColorName(theme.FlashErrColor),
		},
	}
}

// Update renders msg, or clears the bar when msg is nil.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg != nil {
		_, _ = fmt.Fprintf(fb, " [%s]%s[-]", fb.colors[msg.Level], tview.Escape(msg.Text))
	}
}
