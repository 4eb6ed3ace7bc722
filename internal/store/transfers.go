// ABOUTME: Immutable transfer history for conversations
// ABOUTME: One row per sector/agent handoff, written inside the transfer transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateTransferLog appends a transfer record.
func (q *queries) CreateTransferLog(ctx context.Context, log *TransferLog) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transfer_logs (id, conversation_id, from_sector_id, to_sector_id,
			from_agent_id, to_agent_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID,
		log.ConversationID,
		nullRef(log.FromSectorID),
		nullRef(log.ToSectorID),
		nullRef(log.FromAgentID),
		nullRef(log.ToAgentID),
		nullString(log.Note),
		formatTime(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting transfer log: %w", err)
	}
	return nil
}

// ListTransferLogs returns the transfer history of a conversation, oldest first.
func (s *SQLiteStore) ListTransferLogs(ctx context.Context, conversationID string) ([]*TransferLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, from_sector_id, to_sector_id, from_agent_id, to_agent_id, note, created_at
		FROM transfer_logs
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying transfer logs: %w", err)
	}
	defer rows.Close()

	var logs []*TransferLog
	for rows.Next() {
		var (
			log                             TransferLog
			fromSector, toSector, fromAgent sql.NullString
			toAgent, note                   sql.NullString
			createdAtStr                    string
		)
		if err := rows.Scan(&log.ID, &log.ConversationID, &fromSector, &toSector,
			&fromAgent, &toAgent, &note, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning transfer log: %w", err)
		}
		log.FromSectorID = refFromNull(fromSector)
		log.ToSectorID = refFromNull(toSector)
		log.FromAgentID = refFromNull(fromAgent)
		log.ToAgentID = refFromNull(toAgent)
		log.Note = note.String
		if log.CreatedAt, err = parseTime(createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		logs = append(logs, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transfer logs: %w", err)
	}
	return logs, nil
}
