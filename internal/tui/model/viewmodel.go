package model

import (
	"context"
	"sync"

	"github.com/cadenzahq/cadenza/internal/backend"
	"github.com/cadenzahq/cadenza/internal/bus"
	"github.com/cadenzahq/cadenza/internal/chat"
	"github.com/cadenzahq/cadenza/internal/store"
)

// MessageItem is a message joined with the poll or attachment it hosts,
// ready for rendering.
type MessageItem struct {
	Message    store.Message
	Poll       *store.Poll
	Attachment *store.Attachment
}

// ViewModel caches projection state for the UI and signals refreshes when
// the bus reports changes.
type ViewModel struct {
	mu sync.RWMutex

	svc           *chat.Service
	conversations []store.Conversation
	messages      []MessageItem
	activeConv    string
	Flash         Flash

	refreshCh chan struct{}
	unsub     func()
}

// NewViewModel creates a view model over the in-process chat service.
func NewViewModel(svc *chat.Service) *ViewModel {
	return &ViewModel{
		svc:       svc,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

// Watch subscribes to projection change events and reloads the affected
// caches until ctx is cancelled.
func (vm *ViewModel) Watch(ctx context.Context) {
	ch, cancel := vm.svc.Bus().Subscribe("", 64)
	vm.unsub = cancel

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				vm.handleEvent(evt)
			}
		}
	}()
}

// Close drops the bus subscription.
func (vm *ViewModel) Close() {
	if vm.unsub != nil {
		vm.unsub()
	}
}

func (vm *ViewModel) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindConversationsChanged, bus.KindSendAck, bus.KindSendFailed:
		_ = vm.LoadConversations()
	case bus.KindMessagesChanged, bus.KindPollChanged, bus.KindUploadSettled:
		_ = vm.LoadConversations()
		if active := vm.ActiveConversation(); active != "" {
			_ = vm.LoadMessages(active)
		}
	case bus.KindViewChanged:
		vm.signalRefresh()
	}
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// UserID returns the local user identity.
func (vm *ViewModel) UserID() string { return vm.svc.UserID() }

// LoadConversations refreshes the cached conversation list.
func (vm *ViewModel) LoadConversations() error {
	convs, err := vm.svc.ListConversations()
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = convs
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadMessages refreshes the cached message list for a conversation and
// marks it as the active one.
func (vm *ViewModel) LoadMessages(conversationID string) error {
	msgs, err := vm.svc.LoadMessages(conversationID)
	if err != nil {
		return err
	}

	items := make([]MessageItem, 0, len(msgs))
	for _, m := range msgs {
		item := MessageItem{Message: m}
		if m.PollID != "" {
			if p, err := vm.svc.GetPoll(m.PollID); err == nil {
				item.Poll = p
			}
		}
		if m.AttachmentID != "" {
			if a, err := vm.svc.GetAttachment(m.AttachmentID); err == nil {
				item.Attachment = a
			}
		}
		items = append(items, item)
	}

	vm.mu.Lock()
	vm.messages = items
	vm.activeConv = conversationID
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Conversations returns the cached conversation list.
func (vm *ViewModel) Conversations() []store.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversations
}

// Messages returns the cached message items for the active conversation.
func (vm *ViewModel) Messages() []MessageItem {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// ActiveConversation returns the conversation whose messages are cached.
func (vm *ViewModel) ActiveConversation() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeConv
}

// ConversationName returns the display name for a conversation id.
func (vm *ViewModel) ConversationName(id string) string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.ID == id && c.Name != "" {
			return c.Name
		}
	}
	return id
}

// SendText sends a text message into the active conversation.
func (vm *ViewModel) SendText(conversationID, text string) error {
	_, err := vm.svc.SendMessage(conversationID, text)
	return err
}

// CreatePoll posts a poll into the conversation.
func (vm *ViewModel) CreatePoll(conversationID, question string, options []string) error {
	_, err := vm.svc.CreatePoll(conversationID, question, options)
	return err
}

// Vote casts the local user's vote on a poll.
func (vm *ViewModel) Vote(pollID string, optionIndex int) error {
	return vm.svc.VoteOnPoll(pollID, vm.svc.UserID(), optionIndex)
}

// AttachFile starts an attachment upload into the conversation.
func (vm *ViewModel) AttachFile(ctx context.Context, conversationID string, fh backend.FileHandle) error {
	_, err := vm.svc.AttachFile(ctx, conversationID, fh)
	return err
}

// MarkRead clears the unread counter for a conversation.
func (vm *ViewModel) MarkRead(conversationID string) error {
	return vm.svc.MarkRead(conversationID)
}
