package tui

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/cadenzahq/cadenza/internal/backend"
	"github.com/cadenzahq/cadenza/internal/tui/model"
	"github.com/cadenzahq/cadenza/internal/tui/views"
	"github.com/cadenzahq/cadenza/internal/view"
)

// App is the main TUI application shell. Pane visibility follows the view
// coordinator: wide terminals show list and chat side by side, narrow ones
// a single pane with Esc navigating back.
type App struct {
	app         *tview.Application
	root        *tview.Flex
	panes       *tview.Flex
	vm          *model.ViewModel
	coordinator *view.Coordinator
	statusBar   *views.StatusBar
	convList    *views.ConversationList
	thread      *views.MessageThread
	composer    *views.Composer
	prompt      *tview.InputField

	lastState view.State
	prompting bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(vm *model.ViewModel, coordinator *view.Coordinator, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:         tview.NewApplication(),
		vm:          vm,
		coordinator: coordinator,
		statusBar:   views.NewStatusBar(),
		convList:    views.NewConversationList(),
		thread:      views.NewMessageThread(vm.UserID()),
		composer:    views.NewComposer(),
		prompt:      tview.NewInputField().SetFieldWidth(0),
		ctx:         ctx,
		cancel:      cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if id := a.convList.SelectedConversation(); id != "" {
			a.openConversation(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		conversationID := a.coordinator.State().SelectedID
		if conversationID == "" {
			return
		}
		go func() {
			if err := a.vm.SendText(conversationID, text); err != nil {
				a.vm.Flash.Set("Send failed: "+err.Error(), 5*time.Second)
			}
			_ = a.vm.LoadMessages(conversationID)
		}()
	})
}

func (a *App) setupLayout() {
	a.panes = tview.NewFlex()

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.panes, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)

	// Width changes feed the coordinator; it decides when the layout mode
	// actually flips.
	a.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		w, _ := screen.Size()
		a.coordinator.SetWidth(w)
		if st := a.coordinator.State(); st != a.lastState {
			a.applyState(st)
		}
		return false
	})

	a.app.SetInputCapture(a.handleKey)
	a.applyState(a.coordinator.State())
}

// applyState rearranges the panes to match a coordinator snapshot.
func (a *App) applyState(st view.State) {
	a.lastState = st
	a.statusBar.SetLayout(string(st.Mode))

	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.panes.Clear()
	switch {
	case st.ListVisible() && st.ChatVisible():
		a.panes.AddItem(a.convList, 0, 1, true).
			AddItem(chatFlex, 0, 2, false)
	case st.ListVisible():
		a.panes.AddItem(a.convList, 0, 1, true)
	default:
		a.panes.AddItem(chatFlex, 0, 1, true)
	}

	if st.ChatVisible() && st.SelectedID != "" {
		a.thread.SetConversationName(a.vm.ConversationName(st.SelectedID))
	}
	if st.Mode == view.MobileChat {
		a.app.SetFocus(a.thread)
	} else {
		a.app.SetFocus(a.convList)
	}
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	// Text inputs consume everything except Esc.
	if _, ok := a.app.GetFocus().(*tview.InputField); ok {
		if event.Key() == tcell.KeyEscape {
			a.dismissPrompt()
			a.applyState(a.coordinator.State())
			return nil
		}
		return event
	}

	st := a.coordinator.State()

	switch event.Key() {
	case tcell.KeyEscape:
		a.coordinator.GoBack()
		a.applyState(a.coordinator.State())
		return nil
	case tcell.KeyRune:
		switch r := event.Rune(); {
		case r == 'q':
			a.Stop()
			return nil
		case r == 'i' && st.ChatVisible() && st.SelectedID != "":
			a.app.SetFocus(a.composer.InputField)
			return nil
		case r == 'p' && st.SelectedID != "":
			a.showPollPrompt(st.SelectedID)
			return nil
		case r == 'a' && st.SelectedID != "":
			a.showAttachPrompt(st.SelectedID)
			return nil
		case r >= '1' && r <= '9' && st.ChatVisible():
			a.castVote(int(r - '1'))
			return nil
		}
	}
	return event
}

func (a *App) openConversation(id string) {
	a.coordinator.SelectConversation(id)
	go func() {
		if err := a.vm.LoadMessages(id); err != nil {
			a.vm.Flash.Set("Load failed: "+err.Error(), 5*time.Second)
			return
		}
		_ = a.vm.MarkRead(id)
		a.app.QueueUpdateDraw(func() {
			a.thread.Update(a.vm.Messages())
			a.applyState(a.coordinator.State())
			if a.coordinator.State().Mode == view.Desktop {
				a.app.SetFocus(a.convList)
			}
		})
	}()
}

// showPollPrompt collects "question | option | option" on one line.
func (a *App) showPollPrompt(conversationID string) {
	a.showPrompt(" poll (question | opt | opt) > ", func(text string) {
		parts := strings.Split(text, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 3 {
			a.vm.Flash.Set("Poll needs a question and at least two options", 5*time.Second)
			return
		}
		go func() {
			if err := a.vm.CreatePoll(conversationID, parts[0], parts[1:]); err != nil {
				a.vm.Flash.Set("Poll failed: "+err.Error(), 5*time.Second)
			}
			_ = a.vm.LoadMessages(conversationID)
		}()
	})
}

func (a *App) showAttachPrompt(conversationID string) {
	a.showPrompt(" file path > ", func(path string) {
		go func() {
			if err := a.attachFile(conversationID, path); err != nil {
				a.vm.Flash.Set("Attach failed: "+err.Error(), 5*time.Second)
			}
			_ = a.vm.LoadMessages(conversationID)
		}()
	})
}

func (a *App) attachFile(conversationID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}

	return a.vm.AttachFile(a.ctx, conversationID, backend.FileHandle{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Size:     info.Size(),
		Content:  f,
	})
}

func (a *App) showPrompt(label string, onDone func(text string)) {
	a.prompting = true
	a.prompt.SetLabel(label).SetText("")
	a.prompt.SetDoneFunc(func(key tcell.Key) {
		text := a.prompt.GetText()
		a.dismissPrompt()
		a.applyState(a.coordinator.State())
		if key == tcell.KeyEnter && text != "" {
			onDone(text)
		}
	})

	a.root.Clear()
	a.root.AddItem(a.panes, 0, 1, false).
		AddItem(a.prompt, 1, 0, true).
		AddItem(a.statusBar, 1, 0, false)
	a.app.SetFocus(a.prompt)
}

func (a *App) dismissPrompt() {
	if !a.prompting {
		return
	}
	a.prompting = false
	a.root.Clear()
	a.root.AddItem(a.panes, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)
}

func (a *App) castVote(optionIndex int) {
	pollID := a.thread.LatestPoll()
	if pollID == "" {
		return
	}
	go func() {
		if err := a.vm.Vote(pollID, optionIndex); err != nil {
			a.vm.Flash.Set("Vote failed: "+err.Error(), 5*time.Second)
		}
		if active := a.vm.ActiveConversation(); active != "" {
			_ = a.vm.LoadMessages(active)
		}
	}()
}

// Run starts the TUI application.
func (a *App) Run() error {
	a.vm.Watch(a.ctx)

	go func() {
		_ = a.vm.LoadConversations()
		a.app.QueueUpdateDraw(func() {
			a.convList.Update(a.vm.Conversations())
		})
		a.refreshLoop()
	}()

	return a.app.Run()
}

// refreshLoop redraws panes whenever the view model signals a change.
func (a *App) refreshLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.vm.RefreshCh():
			a.app.QueueUpdateDraw(func() {
				a.convList.Update(a.vm.Conversations())
				if st := a.coordinator.State(); st.ChatVisible() && st.SelectedID != "" {
					a.thread.Update(a.vm.Messages())
				}
				a.statusBar.SetFlash(a.vm.Flash.Get())
			})
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.vm.Close()
	a.app.Stop()
}
