// Package backend defines the narrow contract to the hosted messaging
// backend and its HTTP implementation. The rest of the core only sees the
// Client interface; tests substitute a fake.
package backend

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors for the remote contract. Callers match with errors.Is.
var (
	// ErrTransport covers network and backend failures. The originating
	// entity stays visible in failed status; nothing is auto-retried.
	ErrTransport = errors.New("backend transport error")

	// ErrTooLarge is returned when a file exceeds the backend size limit.
	ErrTooLarge = errors.New("file too large")

	// ErrUnsupportedType is returned for rejected content types.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Conversation is the wire form of a conversation.
type Conversation struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Participants   []string `json:"participants"`
	LastActivityAt int64    `json:"last_activity_at"`
}

// Message is the wire form of a canonical message.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	AuthorID       string       `json:"author_id"`
	Body           string       `json:"body"`
	Kind           string       `json:"kind"`
	Timestamp      int64        `json:"timestamp"`
	Poll           *PollPayload `json:"poll,omitempty"`
	AttachmentRef  string       `json:"attachment_ref,omitempty"`
	MimeType       string       `json:"mime_type,omitempty"`
	Filename       string       `json:"filename,omitempty"`
}

// PollPayload carries poll details on a poll message.
type PollPayload struct {
	ID      string   `json:"id"`
	Options []string `json:"options"`
	Closed  bool     `json:"closed"`
}

// VoteUpdate is a poll-vote event pushed by the backend.
type VoteUpdate struct {
	PollID      string `json:"poll_id"`
	VoterID     string `json:"voter_id"`
	OptionIndex int    `json:"option_index"`
}

// OutgoingMessage is the payload for PostMessage. ClientMsgID is the
// deterministic local identifier; the backend echoes it so the session can
// reconcile its optimistic entry.
type OutgoingMessage struct {
	ClientMsgID   string   `json:"client_msg_id"`
	Kind          string   `json:"kind"`
	Body          string   `json:"body"`
	PollID        string   `json:"poll_id,omitempty"`
	PollOptions   []string `json:"poll_options,omitempty"`
	AttachmentRef string   `json:"attachment_ref,omitempty"`
	MimeType      string   `json:"mime_type,omitempty"`
	Filename      string   `json:"filename,omitempty"`
}

// FileHandle describes a file being uploaded.
type FileHandle struct {
	Name     string
	MimeType string
	Size     int64
	Content  io.Reader
}

// Event is a remote push event delivered to registered handlers.
type Event struct {
	Kind    string      `json:"kind"` // "message", "vote", "history"
	Message *Message    `json:"message,omitempty"`
	Vote    *VoteUpdate `json:"vote,omitempty"`
	History []Message   `json:"history,omitempty"`
	Cursor  string      `json:"cursor,omitempty"`
}

// Client is the persistence/transport collaborator consumed by the core.
type Client interface {
	FetchConversations(ctx context.Context) ([]Conversation, error)
	FetchMessages(ctx context.Context, conversationID string) ([]Message, error)
	PostMessage(ctx context.Context, conversationID string, out OutgoingMessage) (*Message, error)
	PostVote(ctx context.Context, pollID, voterID string, optionIndex int) error
	StoreFile(ctx context.Context, fh FileHandle) (storageRef string, err error)

	// RegisterEventHandler adds a handler for remote push events. Must be
	// called before Connect.
	RegisterEventHandler(handler func(Event))
	// Connect starts the event feed. Non-blocking.
	Connect(ctx context.Context) error
	Close() error
}
