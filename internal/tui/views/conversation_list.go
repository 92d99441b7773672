package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/cadenzahq/cadenza/internal/store"
)

// ConversationList is the conversation pane: one row per conversation,
// most recent activity first.
type ConversationList struct {
	*tview.Table
	conversations []store.Conversation
}

// NewConversationList creates the conversation list table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetTitle(" Conversations ")
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorWhite))

	return &ConversationList{Table: table}
}

// Update refreshes the list with new data.
func (cl *ConversationList) Update(conversations []store.Conversation) {
	cl.conversations = conversations
	cl.render()
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
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	for i, c := range cl.conversations {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("(%d) %s", c.UnreadCount, name)
		}

		row := i + 1
		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.LastPreview))).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(formatTimestamp(c.LastActivityAt)).SetAlign(tview.AlignRight))
	}

	cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.conversations)))
}

// SelectedConversation returns the id of the currently highlighted row.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx < 0 || idx >= len(cl.conversations) {
		return ""
	}
	return cl.conversations[idx].ID
}

// SelectConversation moves the highlight to the given conversation, if
// present.
func (cl *ConversationList) SelectConversation(id string) {
	for i, c := range cl.conversations {
		if c.ID == id {
			cl.Select(i+1, 0)
			return
		}
	}
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
