package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the single-line draft input. Drafts that trim to nothing are
// discarded here; the chat service rejects blank messages, so there is no
// point queueing one.
type Composer struct {
	*tview.InputField
	onSend func(text string)
}

// NewComposer creates the draft input.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || c.onSend == nil {
			return
		}
		text := strings.TrimSpace(c.GetText())
		if text == "" {
			c.SetText("")
			return
		}
		c.onSend(text)
		c.SetText("")
	})

	return c
}

// SetOnSend sets the callback invoked with the trimmed draft.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}
