package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, participant_id, participant_name, participant_avatar_url, created_at, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participant_id = CASE WHEN excluded.participant_id != '' THEN excluded.participant_id ELSE conversations.participant_id END,
			participant_name = CASE WHEN excluded.participant_name != '' THEN excluded.participant_name ELSE conversations.participant_name END,
			participant_avatar_url = CASE WHEN excluded.participant_avatar_url != '' THEN excluded.participant_avatar_url ELSE conversations.participant_avatar_url END,
			unread_count = excluded.unread_count,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		c.ID, c.ParticipantID, c.ParticipantName, c.ParticipantAvatarURL, c.CreatedAt, c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// TouchConversation bumps the last-message columns if ts is newer.
func (db *DB) TouchConversation(id string, ts int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		id, ts, preview, now)
	return err
}

// ListConversations returns conversations sorted by last message
// timestamp descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, participant_id, participant_name, participant_avatar_url, created_at, unread_count, last_message_at, last_message_preview
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ParticipantID, &c.ParticipantName, &c.ParticipantAvatarURL, &c.CreatedAt, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, participant_id, participant_name, participant_avatar_url, created_at, unread_count, last_message_at, last_message_preview
		FROM conversations
		WHERE id = ?`, id).
		Scan(&c.ID, &c.ParticipantID, &c.ParticipantName, &c.ParticipantAvatarURL, &c.CreatedAt, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ConversationCount returns the total number of cached conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
