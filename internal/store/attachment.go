package store

import (
	"database/sql"
	"time"
)

// InsertAttachment records a new upload attempt in uploading status.
func (db *DB) InsertAttachment(a *Attachment) error {
	_, err := db.Exec(`
		INSERT INTO attachments (id, message_id, storage_ref, mime_type, filename, size_bytes, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.MessageID, a.StorageRef, a.MimeType, a.Filename, a.SizeBytes, a.Status, time.Now().UnixMilli())
	return err
}

// GetAttachment returns an attachment by id, or nil if unknown.
func (db *DB) GetAttachment(id string) (*Attachment, error) {
	var a Attachment
	err := db.QueryRow(`
		SELECT id, message_id, storage_ref, mime_type, filename, size_bytes, status
		FROM attachments WHERE id = ?`, id).
		Scan(&a.ID, &a.MessageID, &a.StorageRef, &a.MimeType, &a.Filename, &a.SizeBytes, &a.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SettleAttachment finalizes an upload attempt: ready with its storage
// reference, or failed. Attempts are never reopened; a retry is a new row.
func (db *DB) SettleAttachment(id, status, storageRef string) error {
	_, err := db.Exec(`UPDATE attachments SET status = ?, storage_ref = ? WHERE id = ?`,
		status, storageRef, id)
	return err
}
