package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/creativecareer/ccai/internal/tui/client"
	"github.com/creativecareer/ccai/internal/tui/keys"
	"github.com/creativecareer/ccai/internal/tui/model"
	"github.com/creativecareer/ccai/internal/tui/ui"
	"github.com/creativecareer/ccai/internal/tui/views"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"

	headerHeight = 6
	promptHeight = 3
	watchBackoff = 2 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	vm       *model.ViewModel
	client   *client.Client
	registry *keys.Registry
	session  string

	root        *tview.Flex
	pages       *tview.Pages
	sessionInfo *ui.SessionInfo
	menu        *ui.Menu
	prompt      *ui.Prompt
	flashBar    *ui.FlashBar
	convList    *views.ConversationList
	thread      *views.MessageThread

	keepOffset atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:         tview.NewApplication(),
		theme:       theme,
		vm:          model.NewViewModel(c),
		client:      c,
		registry:    keys.NewRegistry(),
		session:     sessionName,
		pages:       tview.NewPages(),
		sessionInfo: ui.NewSessionInfo(theme),
		menu:        ui.NewMenu(theme, headerHeight),
		prompt:      ui.NewPrompt(theme),
		flashBar:    ui.NewFlashBar(theme),
		convList:    views.NewConversationList(theme),
		thread:      views.NewMessageThread(theme),
		ctx:         ctx,
		cancel:      cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key:         tcell.KeyRune,
		Rune:        ':',
		Description: "Command",
		Visible:     true,
		Handler:     func() { a.showPrompt(ui.PromptCommand, "") },
	})

	a.registry.AddView(pageConversations, &keys.Action{
		Key:         tcell.KeyEnter,
		Description: "Open",
		Visible:     true,
		Handler:     func() { a.openConversation(a.convList.SelectedConversation()) },
	})
	a.registry.AddView(pageConversations, &keys.Action{
		Key:         tcell.KeyRune,
		Rune:        '/',
		Description: "Filter",
		Visible:     true,
		Handler:     func() { a.showPrompt(ui.PromptFilter, a.vm.Filter()) },
	})
	a.registry.AddView(pageConversations, &keys.Action{
		Key:         tcell.KeyRune,
		Rune:        'r',
		Description: "Refresh",
		Visible:     true,
		Handler:     a.refreshConversations,
	})
	a.registry.AddView(pageConversations, &keys.Action{
		Key:         tcell.KeyRune,
		Rune:        'q',
		Description: "Quit",
		Visible:     true,
		Handler:     a.Stop,
	})
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageConversations, &keys.Action{
			Key:         tcell.KeyRune,
			Rune:        rune('0' + n),
			Description: "Jump",
			Visible:     n == 1,
			Numeric:     true,
			Hint:        "1-9",
			Handler:     func() { a.openConversation(a.convList.ConversationByIndex(n)) },
		})
	}
	a.registry.AddView(pageConversations, &keys.Action{
		Key:         tcell.KeyRune,
		Rune:        '0',
		Description: "Clear filter",
		Visible:     true,
		Numeric:     true,
		Handler:     func() { a.applyFilter("") },
	})

	a.registry.AddView(pageThread, &keys.Action{
		Key:         tcell.KeyRune,
		Rune:        'i',
		Description: "Compose",
		Visible:     true,
		Handler:     func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddView(pageThread, &keys.Action{
		Key:         tcell.KeyRune,
		Rune:        'o',
		Description: "Older",
		Visible:     true,
		Handler:     a.loadOlder,
	})
	a.registry.AddView(pageThread, &keys.Action{
		Key:         tcell.KeyEscape,
		Description: "Back",
		Visible:     true,
		Handler:     a.closeConversation,
	})
}

func (a *App) setupCallbacks() {
	a.thread.SetOnSend(func(text string) {
		a.async(func(ctx context.Context) error { return a.vm.Send(ctx, text) })
	})
	a.thread.SetOnTyping(func() { a.async(a.vm.Typing) })

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		case ui.PromptFilter:
			a.applyFilter(text)
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageConversations, a.convList, true, true)
	a.pages.AddPage(pageThread, a.thread, true, false)

	header := tview.NewFlex().
		AddItem(a.sessionInfo, 32, 0, false).
		AddItem(a.menu, 0, 1, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, headerHeight, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.app.SetInputCapture(a.handleKey)
	a.menu.Update(a.registry.Hints(pageConversations))
	a.sessionInfo.Update(&ui.SessionData{Session: a.session, State: "CONNECTING"})
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	focused := a.app.GetFocus()
	if focused == a.thread.Composer() && event.Key() == tcell.KeyEscape {
		a.app.SetFocus(a.thread.Messages())
		return nil
	}
	// Text inputs handle their own keys.
	if _, ok := focused.(*tview.InputField); ok || focused == a.prompt {
		return event
	}

	page, _ := a.pages.GetFrontPage()
	if a.registry.HandleEvent(page, event) {
		return nil
	}
	return event
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Canonical() {
	case "quit":
		a.Stop()
	case "open":
		id := cmd.Args
		if n, err := strconv.Atoi(id); err == nil {
			id = a.convList.ConversationByIndex(n)
		}
		a.openConversation(id)
	case "close":
		a.closeConversation()
	case "older":
		a.loadOlder()
	case "refresh":
		a.refreshConversations()
	case "filter":
		a.applyFilter(cmd.Args)
	case "retry":
		a.async(func(ctx context.Context) error {
			n, err := a.vm.Retry(ctx, cmd.Args)
			if err != nil {
				return err
			}
			a.flash(func(f *ui.FlashModel) { f.Info(fmt.Sprintf("Queued %d message(s) for resend", n)) })
			return nil
		})
	case "":
	default:
		a.vm.Flash.Warn("Unknown command: " + cmd.Name)
		a.flashBar.Update(a.vm.Flash.Current())
	}
}

func (a *App) showPrompt(mode ui.PromptMode, text string) {
	a.prompt.Activate(mode, text)
	a.root.ResizeItem(a.prompt, promptHeight, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focusPage()
}

func (a *App) focusPage() {
	page, _ := a.pages.GetFrontPage()
	if page == pageThread {
		a.app.SetFocus(a.thread.Messages())
		return
	}
	a.app.SetFocus(a.convList)
}

func (a *App) switchTo(page string) {
	a.pages.SwitchToPage(page)
	a.menu.Update(a.registry.Hints(page))
	a.focusPage()
}

func (a *App) applyFilter(term string) {
	a.async(func(ctx context.Context) error { return a.vm.SetFilter(ctx, term) })
}

func (a *App) openConversation(id string) {
	if id == "" {
		return
	}
	a.async(func(ctx context.Context) error {
		if err := a.vm.Open(ctx, id); err != nil {
			return err
		}
		a.app.QueueUpdateDraw(func() { a.switchTo(pageThread) })
		return nil
	})
}

func (a *App) closeConversation() {
	a.switchTo(pageConversations)
	a.async(a.vm.Close)
}

func (a *App) refreshConversations() {
	a.async(func(ctx context.Context) error { return a.vm.LoadConversations(ctx, true) })
}

func (a *App) loadOlder() {
	a.async(func(ctx context.Context) error {
		a.keepOffset.Store(true)
		n, err := a.vm.LoadOlder(ctx)
		if err != nil {
			a.keepOffset.Store(false)
			return err
		}
		if n == 0 {
			a.keepOffset.Store(false)
			a.flash(func(f *ui.FlashModel) { f.Info("No older messages") })
		}
		return nil
	})
}

// async runs fn off the UI goroutine and reports its error in the flash bar.
func (a *App) async(fn func(ctx context.Context) error) {
	go func() {
		if err := fn(a.ctx); err != nil && a.ctx.Err() == nil {
			a.flash(func(f *ui.FlashModel) { f.Warn(model.Describe(err)) })
		}
	}()
}

func (a *App) flash(set func(f *ui.FlashModel)) {
	set(a.vm.Flash)
	a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.vm.Flash.Current()) })
}

func (a *App) redraw(c model.Change) {
	if c&model.ChangeStatus != 0 || c&model.ChangeConversations != 0 {
		a.updateSessionInfo()
	}
	if c&model.ChangeConversations != 0 {
		a.convList.Update(a.vm.Conversations(), a.vm.Filter())
	}
	if c&model.ChangeTimeline != 0 {
		a.updateThread()
	}
	a.flashBar.Update(a.vm.Flash.Current())
}

func (a *App) updateSessionInfo() {
	data := &ui.SessionData{Session: a.session, Unread: a.vm.TotalUnread()}
	if st := a.vm.Status(); st != nil {
		data.UserID = st.UserID
		data.State = st.State
		data.Sending = st.InFlight
		data.Uptime = time.Duration(st.UptimeMs) * time.Millisecond
	}
	a.sessionInfo.Update(data)
}

func (a *App) updateThread() {
	tl := a.vm.Timeline()
	page, _ := a.pages.GetFrontPage()
	if tl == nil {
		if page == pageThread {
			a.switchTo(pageConversations)
		}
		return
	}
	var userID string
	if st := a.vm.Status(); st != nil {
		userID = st.UserID
	}
	partner, _ := a.vm.Partner()
	name := partner.Name
	if name == "" {
		name = partner.ID
	}
	a.thread.SetConversation(name, userID)
	a.thread.Update(tl, a.keepOffset.Swap(false))
}

// Run starts the TUI application.
func (a *App) Run() error {
	defer a.cancel()

	go a.bootstrap()
	go a.refreshLoop()
	go a.watchLoop()
	go a.tickLoop()

	return a.app.Run()
}

func (a *App) bootstrap() {
	if err := a.vm.LoadStatus(a.ctx); err != nil {
		a.flash(func(f *ui.FlashModel) { f.Warn(model.Describe(err)) })
	}
	if err := a.vm.LoadConversations(a.ctx, false); err != nil {
		a.flash(func(f *ui.FlashModel) { f.Warn(model.Describe(err)) })
	}
	if st := a.vm.Status(); st != nil && st.OpenConversation != "" {
		a.openConversation(st.OpenConversation)
	}
}

func (a *App) refreshLoop() {
	for {
		select {
		case <-a.vm.RefreshCh():
			a.app.QueueUpdateDraw(func() { a.redraw(a.vm.Changes()) })
		case <-a.ctx.Done():
			return
		}
	}
}

// watchLoop follows the daemon's event stream, resubscribing after
// failures until the app stops.
func (a *App) watchLoop() {
	for a.ctx.Err() == nil {
		err := a.follow()
		if a.ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			a.flash(func(f *ui.FlashModel) { f.Warn("Event stream lost: " + model.Describe(err)) })
		}
		select {
		case <-time.After(watchBackoff):
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) follow() error {
	stream, err := a.client.Watch(a.ctx)
	if err != nil {
		return err
	}
	for {
		evt, err := stream.Recv()
		if err != nil {
			return err
		}
		if err := a.vm.HandleEvent(a.ctx, evt); err != nil && a.ctx.Err() == nil {
			a.flash(func(f *ui.FlashModel) { f.Warn(model.Describe(err)) })
		}
	}
}

func (a *App) tickLoop() {
	flashTicker := time.NewTicker(time.Second)
	statusTicker := time.NewTicker(5 * time.Second)
	defer flashTicker.Stop()
	defer statusTicker.Stop()

	for {
		select {
		case <-flashTicker.C:
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.vm.Flash.Current()) })
		case <-statusTicker.C:
			_ = a.vm.LoadStatus(a.ctx)
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
