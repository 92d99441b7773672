package store

import (
	"database/sql"
	"strings"
	"time"
)

// UpsertConversation inserts or updates a conversation record. Last activity
// only moves forward so out-of-order ingestion cannot regress the list order.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, name, participants, unread_count, last_activity_at, last_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE conversations.name END,
			participants = CASE WHEN excluded.participants != '' THEN excluded.participants ELSE conversations.participants END,
			last_activity_at = MAX(conversations.last_activity_at, excluded.last_activity_at),
			last_preview = CASE WHEN excluded.last_activity_at >= conversations.last_activity_at THEN excluded.last_preview ELSE conversations.last_preview END,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, strings.Join(c.Participants, ","), c.UnreadCount, c.LastActivityAt, c.LastPreview, now)
	return err
}

// ListConversations returns conversations ordered by last activity
// descending, ties broken by id.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT id, name, participants, unread_count, last_activity_at, last_preview
		FROM conversations
		ORDER BY last_activity_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var participants string
		if err := rows.Scan(&c.ID, &c.Name, &participants, &c.UnreadCount, &c.LastActivityAt, &c.LastPreview); err != nil {
			return nil, err
		}
		if participants != "" {
			c.Participants = strings.Split(participants, ",")
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if unknown.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	var participants string
	err := db.QueryRow(`
		SELECT id, name, participants, unread_count, last_activity_at, last_preview
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &participants, &c.UnreadCount, &c.LastActivityAt, &c.LastPreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if participants != "" {
		c.Participants = strings.Split(participants, ",")
	}
	return &c, nil
}

// IncrementUnread bumps the unread counter for a conversation.
func (db *DB) IncrementUnread(id string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = unread_count + 1 WHERE id = ?`, id)
	return err
}

// ResetUnread clears the unread counter for a conversation.
func (db *DB) ResetUnread(id string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0 WHERE id = ?`, id)
	return err
}
