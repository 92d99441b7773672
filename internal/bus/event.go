package bus

import "time"

// Event is a domain event published on the bus. Kind is a dotted name;
// subscribers filter by namespace prefix (e.g. "chat." matches
// "chat.messages_changed").
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core. Payload types are documented at the
// publishing site.
const (
	// chat.*: projection changes, consumed by the presentation layer.
	KindConversationsChanged = "chat.conversations_changed"
	KindMessagesChanged      = "chat.messages_changed"
	KindPollChanged          = "chat.poll_changed"

	// send.*: outbox lifecycle for optimistic local writes.
	KindSendAck    = "send.ack"
	KindSendFailed = "send.failed"

	// remote.*: events pushed by the backend, consumed by the sync engine.
	KindRemoteMessage = "remote.message"
	KindRemoteVote    = "remote.vote"
	KindRemoteHistory = "remote.history"

	// view.*: layout state machine transitions.
	KindViewChanged = "view.changed"

	// upload.*: attachment attempt lifecycle.
	KindUploadSettled = "upload.settled"
)
