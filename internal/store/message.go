package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, author_id, body, kind, poll_id, attachment_id, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status,
			poll_id = CASE WHEN excluded.poll_id != '' THEN excluded.poll_id ELSE messages.poll_id END,
			attachment_id = CASE WHEN excluded.attachment_id != '' THEN excluded.attachment_id ELSE messages.attachment_id END`,
		m.ConversationID, m.MsgID, m.AuthorID, m.Body, m.Kind, m.PollID, m.AttachmentID, m.Status, m.Timestamp, now)
	return err
}

// ListMessages returns the full ordered sequence for a conversation:
// ascending by (timestamp, msg_id).
func (db *DB) ListMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, author_id, body, kind, poll_id, attachment_id, status, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, msg_id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.AuthorID, &m.Body, &m.Kind, &m.PollID, &m.AttachmentID, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a message by conversation and msg_id, or nil.
func (db *DB) GetMessage(conversationID, msgID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, conversation_id, msg_id, author_id, body, kind, poll_id, attachment_id, status, timestamp
		FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID).
		Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.AuthorID, &m.Body, &m.Kind, &m.PollID, &m.AttachmentID, &m.Status, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SetMessageStatus updates the delivery status of a message.
func (db *DB) SetMessageStatus(conversationID, msgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE conversation_id = ? AND msg_id = ?`,
		status, conversationID, msgID)
	return err
}

// FindPendingByFingerprint locates a locally pending message matching the
// reconciliation key: same conversation, author, body, and a timestamp within
// the given bucket (milliseconds). Returns nil if none matches.
func (db *DB) FindPendingByFingerprint(conversationID, authorID, body string, ts, bucketMs int64) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, conversation_id, msg_id, author_id, body, kind, poll_id, attachment_id, status, timestamp
		FROM messages
		WHERE conversation_id = ? AND author_id = ? AND body = ?
			AND status IN (?, ?)
			AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC LIMIT 1`,
		conversationID, authorID, body, StatusPending, StatusSent, ts-bucketMs, ts+bucketMs).
		Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.AuthorID, &m.Body, &m.Kind, &m.PollID, &m.AttachmentID, &m.Status, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ReplaceMessage swaps a locally pending message for its canonical remote
// counterpart in one transaction, so readers never observe both.
func (db *DB) ReplaceMessage(conversationID, localMsgID string, canonical *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, localMsgID); err != nil {
		return fmt.Errorf("delete local message: %w", err)
	}
	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (conversation_id, msg_id, author_id, body, kind, poll_id, attachment_id, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status`,
		canonical.ConversationID, canonical.MsgID, canonical.AuthorID, canonical.Body,
		canonical.Kind, canonical.PollID, canonical.AttachmentID, canonical.Status,
		canonical.Timestamp, now); err != nil {
		return fmt.Errorf("insert canonical message: %w", err)
	}

	return tx.Commit()
}
