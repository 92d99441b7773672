package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/cadenzahq/cadenza/internal/store"
	"github.com/cadenzahq/cadenza/internal/tui/model"
)

// MessageThread displays the messages of one conversation, oldest first.
type MessageThread struct {
	*tview.TextView
	userID string

	// Poll ids in render order, so number keys can be mapped to a poll.
	pollIDs []string
}

// NewMessageThread creates the message pane.
func NewMessageThread(userID string) *MessageThread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageThread{TextView: tv, userID: userID}
}

// SetConversationName updates the pane title.
func (mt *MessageThread) SetConversationName(name string) {
	mt.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update renders the message items.
func (mt *MessageThread) Update(items []model.MessageItem) {
	mt.Clear()
	mt.pollIDs = mt.pollIDs[:0]

	for _, item := range items {
		m := item.Message
		author := m.AuthorID
		if m.AuthorID == mt.userID {
			author = "You"
		}

		ts := formatTimestamp(m.Timestamp)
		_, _ = fmt.Fprintf(mt, "[::b]%s[-:-:-] [::d]%s%s[-:-:-]\n",
			tview.Escape(sanitizeForTerminal(author)), ts, statusSuffix(m.Status))

		switch {
		case item.Poll != nil:
			mt.pollIDs = append(mt.pollIDs, item.Poll.ID)
			mt.renderPoll(m.Body, item.Poll)
		case item.Attachment != nil:
			mt.renderAttachment(m.Body, item.Attachment)
		default:
			_, _ = fmt.Fprintf(mt, "%s\n\n", tview.Escape(sanitizeForTerminal(m.Body)))
		}
	}

	mt.ScrollToEnd()
}

// LatestPoll returns the id of the most recent poll in the thread, or "".
func (mt *MessageThread) LatestPoll() string {
	if len(mt.pollIDs) == 0 {
		return ""
	}
	return mt.pollIDs[len(mt.pollIDs)-1]
}

func (mt *MessageThread) renderPoll(question string, p *store.Poll) {
	_, _ = fmt.Fprintf(mt, "[yellow]POLL[-] %s", tview.Escape(sanitizeForTerminal(question)))
	if p.Closed {
		_, _ = fmt.Fprint(mt, " [red](closed)[-]")
	}
	_, _ = fmt.Fprintln(mt)
	for _, opt := range p.Options {
		_, _ = fmt.Fprintf(mt, "  %d. %s [::d](%d)[-:-:-]\n",
			opt.Index+1, tview.Escape(sanitizeForTerminal(opt.Text)), opt.Tally)
	}
	_, _ = fmt.Fprintf(mt, "  [::d]%d voted. Press 1-9 to vote.[-:-:-]\n\n", len(p.Voters))
}

func (mt *MessageThread) renderAttachment(body string, a *store.Attachment) {
	label := a.Filename
	if label == "" {
		label = "attachment"
	}
	switch a.Status {
	case store.UploadUploading:
		_, _ = fmt.Fprintf(mt, "[blue]FILE[-] %s [::d](uploading...)[-:-:-]\n", tview.Escape(label))
	case store.UploadFailed:
		_, _ = fmt.Fprintf(mt, "[blue]FILE[-] %s [red](upload failed)[-]\n", tview.Escape(label))
	default:
		_, _ = fmt.Fprintf(mt, "[blue]FILE[-] %s [::d](%s)[-:-:-]\n", tview.Escape(label), a.MimeType)
	}
	if body != "" {
		_, _ = fmt.Fprintf(mt, "%s\n", tview.Escape(sanitizeForTerminal(body)))
	}
	_, _ = fmt.Fprintln(mt)
}

func statusSuffix(status string) string {
	switch status {
	case store.StatusPending:
		return " [::d]o[-:-:-]"
	case store.StatusFailed:
		return " [red]x failed[-]"
	default:
		return ""
	}
}
