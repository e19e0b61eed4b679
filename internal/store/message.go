package store

import (
	"fmt"
	"time"
)

// UpsertMessage inserts or updates a message. A record that already
// exists under the message's temp id is promoted in place when the
// server id arrives, so one logical message never produces two rows.
// Callers feed statuses through in order, so the stored status is
// whatever arrived last.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()

	if m.TempID != "" {
		res, err := db.Exec(`
			UPDATE messages SET
				msg_id = CASE WHEN ? != '' THEN ? ELSE msg_id END,
				content = ?,
				images = ?,
				status = ?,
				sent_at = ?
			WHERE temp_id = ?`,
			m.MsgID, m.MsgID, m.Content, m.Images, m.Status, m.SentAt, m.TempID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}
	}

	if m.MsgID != "" {
		_, err := db.Exec(`
			INSERT INTO messages (conversation_id, msg_id, temp_id, sender_id, content, images, from_me, status, sent_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				content = excluded.content,
				images = excluded.images,
				status = excluded.status,
				sent_at = excluded.sent_at`,
			m.ConversationID, m.MsgID, m.TempID, m.SenderID, m.Content, m.Images, m.FromMe, m.Status, m.SentAt, now)
		return err
	}

	if m.TempID == "" {
		return fmt.Errorf("message needs a msg_id or a temp_id")
	}
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, temp_id, sender_id, content, images, from_me, status, sent_at, created_at)
		VALUES (?, '', ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.TempID, m.SenderID, m.Content, m.Images, m.FromMe, m.Status, m.SentAt, now)
	return err
}

// BulkUpsertMessages writes a history page in a single transaction.
func (db *DB) BulkUpsertMessages(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if m.MsgID == "" {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, temp_id, sender_id, content, images, from_me, status, sent_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				content = excluded.content,
				images = excluded.images,
				status = excluded.status,
				sent_at = excluded.sent_at`,
			m.ConversationID, m.MsgID, m.TempID, m.SenderID, m.Content, m.Images, m.FromMe, m.Status, m.SentAt, now); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

// SetMessageStatus updates the delivery status of a confirmed message.
func (db *DB) SetMessageStatus(conversationID, msgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE conversation_id = ? AND msg_id = ?`,
		status, conversationID, msgID)
	return err
}

// AdvanceMessageStatus applies a delivered/read receipt, moving the
// status forward only. A receipt that arrives out of order (delivered
// after read) leaves the row untouched, mirroring the in-memory lattice.
func (db *DB) AdvanceMessageStatus(conversationID, msgID, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND msg_id = ?
		AND (CASE status WHEN 'sending' THEN 0 WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 4 END)
		  < (CASE ?      WHEN 'sending' THEN 0 WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END)`,
		status, conversationID, msgID, status)
	return err
}

// ListMessages returns messages for a conversation using keyset
// pagination by sent timestamp, newest first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, temp_id, sender_id, content, images, from_me, status, sent_at
		FROM messages
		WHERE conversation_id = ? AND sent_at < ?
		ORDER BY sent_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.TempID, &m.SenderID, &m.Content, &m.Images, &m.FromMe, &m.Status, &m.SentAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
