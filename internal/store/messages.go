// ABOUTME: Append-only message persistence for conversations
// ABOUTME: Messages carry direction, media type, intent kind and raw provider payload

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateMessage appends a message. Messages are never updated.
func (q *queries) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.Type == "" {
		msg.Type = TypeText
	}

	var raw any
	if len(msg.RawPayload) > 0 {
		raw = string(msg.RawPayload)
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, direction, type, body, media_url, kind,
			provider_message_id, sender_id, raw_payload, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.ConversationID,
		string(msg.Direction),
		string(msg.Type),
		nullString(msg.Body),
		nullString(msg.MediaURL),
		nullString(msg.Kind),
		nullString(msg.ProviderMessageID),
		nullString(msg.SenderID),
		raw,
		formatTime(msg.SentAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns every message of a conversation in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, direction, type, body, media_url, kind,
			provider_message_id, sender_id, raw_payload, sent_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sent_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var (
			msg                              Message
			direction, msgType, sentAtStr    string
			body, mediaURL, kind, providerID sql.NullString
			senderID, raw                    sql.NullString
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&direction,
			&msgType,
			&body,
			&mediaURL,
			&kind,
			&providerID,
			&senderID,
			&raw,
			&sentAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg.Direction = MessageDirection(direction)
		msg.Type = MessageType(msgType)
		msg.Body = body.String
		msg.MediaURL = mediaURL.String
		msg.Kind = kind.String
		msg.ProviderMessageID = providerID.String
		msg.SenderID = senderID.String
		if raw.Valid {
			msg.RawPayload = []byte(raw.String)
		}
		if msg.SentAt, err = parseTime(sentAtStr); err != nil {
			return nil, fmt.Errorf("parsing sent_at: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}
