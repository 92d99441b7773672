package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrPollClosed is returned when a vote reaches a poll that has already
// been closed.
var ErrPollClosed = errors.New("poll is closed")

// CreatePoll inserts a poll, its option rows with zero tallies, and the
// hosting message in one transaction.
func (db *DB) CreatePoll(p *Poll, msg *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`INSERT INTO polls (id, message_id, closed, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.MessageID, p.Closed, now); err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	for _, opt := range p.Options {
		if _, err := tx.Exec(`INSERT INTO poll_options (poll_id, idx, text, tally) VALUES (?, ?, ?, 0)`,
			p.ID, opt.Index, opt.Text); err != nil {
			return fmt.Errorf("insert poll option: %w", err)
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (conversation_id, msg_id, author_id, body, kind, poll_id, attachment_id, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?, ?, ?)`,
		msg.ConversationID, msg.MsgID, msg.AuthorID, msg.Body, KindPoll, p.ID, msg.Status, msg.Timestamp, now); err != nil {
		return fmt.Errorf("insert poll message: %w", err)
	}

	return tx.Commit()
}

// GetPoll returns a poll with its options and voter set, or nil if unknown.
func (db *DB) GetPoll(id string) (*Poll, error) {
	var p Poll
	var closed int
	err := db.QueryRow(`SELECT id, message_id, closed FROM polls WHERE id = ?`, id).
		Scan(&p.ID, &p.MessageID, &closed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Closed = closed != 0

	rows, err := db.Query(`SELECT idx, text, tally FROM poll_options WHERE poll_id = ? ORDER BY idx ASC`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var opt PollOption
		if err := rows.Scan(&opt.Index, &opt.Text, &opt.Tally); err != nil {
			return nil, err
		}
		p.Options = append(p.Options, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := db.Query(`SELECT voter_id FROM poll_votes WHERE poll_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = vrows.Close() }()
	for vrows.Next() {
		var voter string
		if err := vrows.Scan(&voter); err != nil {
			return nil, err
		}
		p.Voters = append(p.Voters, voter)
	}
	return &p, vrows.Err()
}

// RecordVote records one vote atomically: the voter row insert and the tally
// increment share a transaction, so the tally can never diverge from the
// voter set. Idempotent on (poll_id, voter_id): a repeated vote returns
// applied=false and changes nothing. The closed flag is rechecked inside the
// transaction, so a vote admitted against a stale snapshot still loses to a
// concurrent close.
func (db *DB) RecordVote(pollID, voterID string, optionIndex int) (applied bool, err error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var closed int
	if err := tx.QueryRow(`SELECT closed FROM polls WHERE id = ?`, pollID).Scan(&closed); err != nil {
		if err == sql.ErrNoRows {
			return false, fmt.Errorf("poll %q: %w", pollID, sql.ErrNoRows)
		}
		return false, err
	}
	if closed != 0 {
		return false, ErrPollClosed
	}

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO poll_votes (poll_id, voter_id, option_idx, created_at)
		VALUES (?, ?, ?, ?)`,
		pollID, voterID, optionIndex, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert vote: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Voter already recorded; leave the tally untouched.
		return false, tx.Commit()
	}

	if _, err := tx.Exec(`UPDATE poll_options SET tally = tally + 1 WHERE poll_id = ? AND idx = ?`,
		pollID, optionIndex); err != nil {
		return false, fmt.Errorf("increment tally: %w", err)
	}

	return true, tx.Commit()
}

// ConversationForPoll returns the id of the conversation hosting the poll's
// message, or "" if the poll is unknown.
func (db *DB) ConversationForPoll(pollID string) (string, error) {
	var conversationID string
	err := db.QueryRow(`SELECT conversation_id FROM messages WHERE poll_id = ? LIMIT 1`, pollID).
		Scan(&conversationID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return conversationID, nil
}

// ClosePoll marks a poll closed. Closed polls reject further votes.
func (db *DB) ClosePoll(id string) error {
	_, err := db.Exec(`UPDATE polls SET closed = 1 WHERE id = ?`, id)
	return err
}
