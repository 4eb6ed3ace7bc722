// ABOUTME: Conversation persistence: lookup by contact, create, update and inactivity closing
// ABOUTME: Clarification context is stored as a JSON column guarded by a CHECK constraint

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const conversationColumns = `
	id, contact_address, client_name, status, current_sector_id, current_agent_id,
	bot_state, bot_last_prompt_at, bot_menu_sent_at, bot_clarification_context,
	last_message_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv                          Conversation
		clientName, sectorID, agentID sql.NullString
		lastPrompt, menuSent, lastMsg sql.NullString
		clarification                 sql.NullString
		status, botState              string
		createdAtStr, updatedAtStr    string
	)

	err := row.Scan(
		&conv.ID,
		&conv.ContactAddress,
		&clientName,
		&status,
		&sectorID,
		&agentID,
		&botState,
		&lastPrompt,
		&menuSent,
		&clarification,
		&lastMsg,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	conv.ClientName = clientName.String
	conv.Status = ConversationStatus(status)
	conv.BotState = BotState(botState)
	conv.CurrentSectorID = refFromNull(sectorID)
	conv.CurrentAgentID = refFromNull(agentID)

	if conv.BotLastPromptAt, err = parseNullTime(lastPrompt); err != nil {
		return nil, fmt.Errorf("parsing bot_last_prompt_at: %w", err)
	}
	if conv.BotMenuSentAt, err = parseNullTime(menuSent); err != nil {
		return nil, fmt.Errorf("parsing bot_menu_sent_at: %w", err)
	}
	if conv.LastMessageAt, err = parseNullTime(lastMsg); err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	if conv.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	if clarification.Valid && clarification.String != "" {
		var cc ClarificationContext
		if err := json.Unmarshal([]byte(clarification.String), &cc); err != nil {
			return nil, fmt.Errorf("decoding bot_clarification_context: %w", err)
		}
		conv.Clarification = &cc
	}

	return &conv, nil
}

func (q *queries) queryConversation(ctx context.Context, query string, args ...any) (*Conversation, error) {
	conv, err := scanConversation(q.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

func (q *queries) queryConversations(ctx context.Context, query string, args ...any) ([]*Conversation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (q *queries) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return q.queryConversation(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
}

// FindOpenConversationByContact returns the open conversation for address with the
// most recent activity. Returns ErrNotFound if none is open.
func (q *queries) FindOpenConversationByContact(ctx context.Context, address string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE contact_address = ? AND status IN (` + placeholders(len(OpenStatuses)) + `)
		ORDER BY COALESCE(last_message_at, created_at) DESC, created_at DESC
		LIMIT 1`
	args := append([]any{address}, statusArgs(OpenStatuses)...)
	return q.queryConversation(ctx, query, args...)
}

// FindLatestInactiveConversationByContact returns the closed or archived conversation
// for address with the most recent activity. Returns ErrNotFound if none exists.
func (q *queries) FindLatestInactiveConversationByContact(ctx context.Context, address string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE contact_address = ? AND status IN (?, ?)
		ORDER BY COALESCE(last_message_at, created_at) DESC, created_at DESC
		LIMIT 1`
	return q.queryConversation(ctx, query, address, string(StatusClosed), string(StatusArchived))
}

func encodeClarification(cc *ClarificationContext) (any, error) {
	if cc == nil {
		return nil, nil
	}
	data, err := json.Marshal(cc)
	if err != nil {
		return nil, fmt.Errorf("encoding bot_clarification_context: %w", err)
	}
	return string(data), nil
}

// CreateConversation inserts a new conversation.
func (q *queries) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.BotState == "" {
		conv.BotState = BotIdle
	}
	if err := conv.Validate(); err != nil {
		return err
	}
	clarification, err := encodeClarification(conv.Clarification)
	if err != nil {
		return err
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID,
		conv.ContactAddress,
		nullString(conv.ClientName),
		string(conv.Status),
		nullRef(conv.CurrentSectorID),
		nullRef(conv.CurrentAgentID),
		string(conv.BotState),
		nullTime(conv.BotLastPromptAt),
		nullTime(conv.BotMenuSentAt),
		clarification,
		nullTime(conv.LastMessageAt),
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	q.logger.Debug("created conversation", "id", conv.ID, "contact", conv.ContactAddress)
	return nil
}

// UpdateConversation writes every mutable column of conv.
// Returns ErrInvalidState if the bot state invariant does not hold.
func (q *queries) UpdateConversation(ctx context.Context, conv *Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	clarification, err := encodeClarification(conv.Clarification)
	if err != nil {
		return err
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE conversations SET
			client_name = ?,
			status = ?,
			current_sector_id = ?,
			current_agent_id = ?,
			bot_state = ?,
			bot_last_prompt_at = ?,
			bot_menu_sent_at = ?,
			bot_clarification_context = ?,
			last_message_at = ?,
			updated_at = ?
		WHERE id = ?`,
		nullString(conv.ClientName),
		string(conv.Status),
		nullRef(conv.CurrentSectorID),
		nullRef(conv.CurrentAgentID),
		string(conv.BotState),
		nullTime(conv.BotLastPromptAt),
		nullTime(conv.BotMenuSentAt),
		clarification,
		nullTime(conv.LastMessageAt),
		formatTime(conv.UpdatedAt),
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseInactiveConversation closes id only if it is still open and its last
// activity is at or before cutoff. The agent and any pending clarification are
// dropped. It reports whether the row was closed.
func (q *queries) CloseInactiveConversation(ctx context.Context, id string, cutoff, now time.Time) (bool, error) {
	query := `
		UPDATE conversations SET
			status = ?,
			current_agent_id = NULL,
			bot_state = ?,
			bot_clarification_context = NULL,
			last_message_at = ?,
			updated_at = ?
		WHERE id = ?
			AND status IN (` + placeholders(len(OpenStatuses)) + `)
			AND last_message_at IS NOT NULL
			AND last_message_at <= ?`
	args := []any{string(StatusClosed), string(BotIdle), formatTime(now), formatTime(now), id}
	args = append(args, statusArgs(OpenStatuses)...)
	args = append(args, formatTime(cutoff))

	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("closing conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// ListConversations returns conversations matching filter, most recent activity first.
func (s *SQLiteStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		args = append(args, statusArgs(filter.Statuses)...)
	}
	if filter.SectorID != "" {
		where = append(where, "current_sector_id = ?")
		args = append(args, filter.SectorID)
	}
	if filter.AgentID != "" {
		where = append(where, "current_agent_id = ?")
		args = append(args, filter.AgentID)
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY COALESCE(last_message_at, created_at) DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryConversations(ctx, query, args...)
}

// ListAutoCloseCandidates returns up to limit open conversations whose last
// activity is at or before cutoff, oldest first.
func (s *SQLiteStore) ListAutoCloseCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE status IN (` + placeholders(len(OpenStatuses)) + `)
			AND last_message_at IS NOT NULL
			AND last_message_at <= ?
		ORDER BY last_message_at ASC, id ASC
		LIMIT ?`
	args := statusArgs(OpenStatuses)
	args = append(args, formatTime(cutoff), limit)
	return s.queryConversations(ctx, query, args...)
}

// CountAutoCloseCandidates counts the conversations ListAutoCloseCandidates would return without a limit.
func (s *SQLiteStore) CountAutoCloseCandidates(ctx context.Context, cutoff time.Time) (int, error) {
	query := `SELECT COUNT(*)
		FROM conversations
		WHERE status IN (` + placeholders(len(OpenStatuses)) + `)
			AND last_message_at IS NOT NULL
			AND last_message_at <= ?`
	args := append(statusArgs(OpenStatuses), formatTime(cutoff))

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting auto-close candidates: %w", err)
	}
	return n, nil
}
