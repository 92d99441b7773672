package store

// Message payload kinds.
const (
	KindText       = "text"
	KindPoll       = "poll"
	KindAttachment = "attachment"
)

// Message delivery statuses. Received marks messages ingested from the
// backend; the other three belong to the local optimistic send lifecycle.
const (
	StatusPending  = "pending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusReceived = "received"
)

// Attachment upload statuses.
const (
	UploadUploading = "uploading"
	UploadReady     = "ready"
	UploadFailed    = "failed"
)

// Conversation represents a message thread among a fixed participant set.
type Conversation struct {
	ID             string
	Name           string
	Participants   []string
	UnreadCount    int
	LastActivityAt int64
	LastPreview    string
}

// Message represents one entry in a conversation's sequence. Within a
// conversation messages are totally ordered by (Timestamp, MsgID).
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	AuthorID       string
	Body           string
	Kind           string
	PollID         string
	AttachmentID   string
	Status         string
	Timestamp      int64
}

// Poll is the votable sub-entity hosted by a poll message.
type Poll struct {
	ID        string
	MessageID string
	Options   []PollOption
	Voters    []string
	Closed    bool
}

// PollOption is one poll choice with its running tally.
type PollOption struct {
	Index int
	Text  string
	Tally int
}

// Attachment links a message to an uploaded file.
type Attachment struct {
	ID         string
	MessageID  string
	StorageRef string
	MimeType   string
	Filename   string
	SizeBytes  int64
	Status     string
}

// Outbox entry kinds.
const (
	OutboxMessage = "message"
	OutboxVote    = "vote"
)

// OutboxEntry represents a queued local write awaiting delivery to the
// backend.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Kind           string
	Body           string
	PollID         string
	VoterID        string
	OptionIndex    int
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
}
