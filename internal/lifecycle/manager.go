// ABOUTME: Conversation lifecycle manager: find-or-create, reopen, sector and agent assignment, transfers
// ABOUTME: Every mutation runs under the contact lock inside a single store transaction

// Package lifecycle owns conversation status, sector and agent ownership.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/triage-gateway/internal/store"
)

// MaxNoteLength bounds a transfer note, in characters.
const MaxNoteLength = 500

var (
	// ErrInvalidAssignment is returned when a user cannot own the conversation.
	ErrInvalidAssignment = errors.New("invalid assignment")

	// ErrUnknownSector is returned when a target sector does not exist or is inactive.
	ErrUnknownSector = errors.New("unknown sector")

	// ErrInvalidNote is returned when a transfer note is too long.
	ErrInvalidNote = errors.New("invalid transfer note")

	// ErrClosed is returned when replying to a conversation that is not open.
	ErrClosed = errors.New("conversation is not open")

	// ErrEmptyMessage is returned for an agent reply with no text.
	ErrEmptyMessage = errors.New("empty message")
)

// Sender delivers text to a contact address.
type Sender interface {
	SendText(ctx context.Context, address, text string) error
}

// Manager mutates conversations.
type Manager struct {
	store        store.Store
	locks        *Locker
	sender       Sender
	reopenWindow time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSender sets the transport used to deliver agent replies.
func WithSender(s Sender) Option {
	return func(m *Manager) { m.sender = s }
}

// New creates a Manager. A zero reopenWindow disables reopening.
func New(s store.Store, reopenWindow time.Duration, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:        s,
		locks:        NewLocker(),
		reopenWindow: reopenWindow,
		now:          time.Now,
		logger:       logger.With("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Locks returns the per-contact lock table shared with the triage engine.
func (m *Manager) Locks() *Locker {
	return m.locks
}

// Now returns the manager clock in UTC.
func (m *Manager) Now() time.Time {
	return m.now().UTC()
}

// FindOrCreateByContact returns the conversation that should receive the next
// message from address.
func (m *Manager) FindOrCreateByContact(ctx context.Context, address, clientName string) (*store.Conversation, error) {
	unlock := m.locks.Lock(address)
	defer unlock()

	var conv *store.Conversation
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		conv, err = m.FindOrCreateTx(ctx, tx, address, clientName)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// FindOrCreateTx is FindOrCreateByContact for a caller already holding the
// contact lock and a transaction. The latest open conversation wins; otherwise
// the latest closed or archived one is reopened when its last message is inside
// the reopen window; otherwise a new conversation is created.
func (m *Manager) FindOrCreateTx(ctx context.Context, tx store.Tx, address, clientName string) (*store.Conversation, error) {
	now := m.Now()

	conv, err := tx.FindOpenConversationByContact(ctx, address)
	if err == nil {
		if clientName != "" && conv.ClientName != clientName {
			conv.ClientName = clientName
			conv.UpdatedAt = now
			if err := tx.UpdateConversation(ctx, conv); err != nil {
				return nil, fmt.Errorf("updating client name: %w", err)
			}
		}
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("finding open conversation: %w", err)
	}

	if m.reopenWindow > 0 {
		prev, err := tx.FindLatestInactiveConversationByContact(ctx, address)
		switch {
		case err == nil:
			if prev.LastMessageAt != nil && now.Sub(*prev.LastMessageAt) < m.reopenWindow {
				prev.Status = store.StatusNew
				prev.CurrentAgentID = nil
				if clientName != "" {
					prev.ClientName = clientName
				}
				prev.UpdatedAt = now
				if err := tx.UpdateConversation(ctx, prev); err != nil {
					return nil, fmt.Errorf("reopening conversation: %w", err)
				}
				m.logger.Info("reopened conversation", "conversation_id", prev.ID, "contact", address)
				return prev, nil
			}
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, fmt.Errorf("finding inactive conversation: %w", err)
		}
	}

	conv = &store.Conversation{
		ID:             uuid.NewString(),
		ContactAddress: address,
		ClientName:     clientName,
		Status:         store.StatusNew,
		BotState:       store.BotIdle,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	m.logger.Info("created conversation", "conversation_id", conv.ID, "contact", address)
	return conv, nil
}

// ApplySector routes conv to sector in memory. It reports false when conv was
// already in that sector. A new conversation becomes queued.
func ApplySector(conv *store.Conversation, sector *store.Sector) bool {
	if conv.CurrentSectorID != nil && *conv.CurrentSectorID == sector.ID {
		return false
	}
	id := sector.ID
	conv.CurrentSectorID = &id
	if conv.Status == store.StatusNew {
		conv.Status = store.StatusQueued
	}
	return true
}

// mutate loads id under its contact lock, applies fn inside a transaction and
// persists the result. Nothing is written if fn fails.
func (m *Manager) mutate(ctx context.Context, id string, fn func(tx store.Tx, conv *store.Conversation) error) (*store.Conversation, error) {
	peek, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(peek.ContactAddress)
	defer unlock()

	var out *store.Conversation
	err = m.store.InTx(ctx, func(tx store.Tx) error {
		conv, err := tx.GetConversation(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, conv); err != nil {
			return err
		}
		conv.UpdatedAt = m.Now()
		if err := tx.UpdateConversation(ctx, conv); err != nil {
			return err
		}
		out = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssignSector routes a conversation to a sector. Assigning the current sector
// again changes nothing. No transfer log is written.
func (m *Manager) AssignSector(ctx context.Context, id, sectorID string) (*store.Conversation, error) {
	return m.mutate(ctx, id, func(tx store.Tx, conv *store.Conversation) error {
		sector, err := m.activeSector(ctx, tx, sectorID)
		if err != nil {
			return err
		}
		ApplySector(conv, sector)
		staffRouted(conv)
		return nil
	})
}

// AssignAgent gives the conversation to an active agent and marks it in progress.
func (m *Manager) AssignAgent(ctx context.Context, id, agentID string) (*store.Conversation, error) {
	return m.mutate(ctx, id, func(tx store.Tx, conv *store.Conversation) error {
		if _, err := m.agent(ctx, tx, agentID); err != nil {
			return err
		}
		applyAgent(conv, agentID)
		return nil
	})
}

// Assume lets a user take an unassigned conversation. Agents may only take
// conversations of their own sector; admins may take any.
func (m *Manager) Assume(ctx context.Context, id, userID string) (*store.Conversation, error) {
	return m.mutate(ctx, id, func(tx store.Tx, conv *store.Conversation) error {
		user, err := tx.GetUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: user %s not found", ErrInvalidAssignment, userID)
		}
		if err != nil {
			return err
		}
		if !user.Active {
			return fmt.Errorf("%w: user %s is inactive", ErrInvalidAssignment, userID)
		}
		if conv.HasAgent() {
			if *conv.CurrentAgentID == userID {
				return nil
			}
			return fmt.Errorf("%w: conversation already assigned", ErrInvalidAssignment)
		}
		if user.Role == store.RoleAgent && !sameSector(conv.CurrentSectorID, user.SectorID) {
			return fmt.Errorf("%w: conversation belongs to another sector", ErrInvalidAssignment)
		}
		applyAgent(conv, userID)
		return nil
	})
}

// TransferRequest describes a transfer target.
type TransferRequest struct {
	ToSectorID string
	ToAgentID  string // optional
	Note       string // optional
}

// Transfer moves a conversation to another sector, optionally to a specific
// agent, and records one transfer log with the previous owners.
func (m *Manager) Transfer(ctx context.Context, id string, req TransferRequest) (*store.Conversation, *store.TransferLog, error) {
	note := strings.TrimSpace(req.Note)
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return nil, nil, fmt.Errorf("%w: longer than %d characters", ErrInvalidNote, MaxNoteLength)
	}

	var log *store.TransferLog
	conv, err := m.mutate(ctx, id, func(tx store.Tx, conv *store.Conversation) error {
		sector, err := m.activeSector(ctx, tx, req.ToSectorID)
		if err != nil {
			return err
		}
		if req.ToAgentID != "" {
			if _, err := m.agent(ctx, tx, req.ToAgentID); err != nil {
				return err
			}
		}

		log = &store.TransferLog{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			FromSectorID:   copyRef(conv.CurrentSectorID),
			FromAgentID:    copyRef(conv.CurrentAgentID),
			ToSectorID:     copyRef(&sector.ID),
			Note:           note,
			CreatedAt:      m.Now(),
		}

		sectorID := sector.ID
		conv.CurrentSectorID = &sectorID
		if req.ToAgentID != "" {
			agentID := req.ToAgentID
			log.ToAgentID = copyRef(&agentID)
			applyAgent(conv, agentID)
		} else {
			conv.CurrentAgentID = nil
			conv.Status = store.StatusQueued
			staffRouted(conv)
		}

		return tx.CreateTransferLog(ctx, log)
	})
	if err != nil {
		return nil, nil, err
	}

	m.logger.Info("transferred conversation",
		"conversation_id", conv.ID,
		"to_sector_id", req.ToSectorID,
		"to_agent_id", req.ToAgentID,
	)
	return conv, log, nil
}

// Close marks a conversation closed.
func (m *Manager) Close(ctx context.Context, id string) (*store.Conversation, error) {
	return m.setStatus(ctx, id, store.StatusClosed)
}

// Archive marks a conversation archived.
func (m *Manager) Archive(ctx context.Context, id string) (*store.Conversation, error) {
	return m.setStatus(ctx, id, store.StatusArchived)
}

func (m *Manager) setStatus(ctx context.Context, id string, status store.ConversationStatus) (*store.Conversation, error) {
	return m.mutate(ctx, id, func(_ store.Tx, conv *store.Conversation) error {
		conv.Status = status
		if !status.IsOpen() {
			conv.ClearClarification(store.BotIdle)
		}
		return nil
	})
}

// RecordAgentMessage appends an agent reply, marks the conversation as waiting
// on the client and delivers the text after commit. An unowned conversation is
// taken by the replying agent. Delivery failures are logged, not returned.
func (m *Manager) RecordAgentMessage(ctx context.Context, id, agentID, text string) (*store.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	var msg *store.Message
	conv, err := m.mutate(ctx, id, func(tx store.Tx, conv *store.Conversation) error {
		if !conv.Status.IsOpen() {
			return ErrClosed
		}
		user, err := tx.GetUser(ctx, agentID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: user %s not found", ErrInvalidAssignment, agentID)
		}
		if err != nil {
			return err
		}
		if !user.Active {
			return fmt.Errorf("%w: user %s is inactive", ErrInvalidAssignment, agentID)
		}
		if conv.HasAgent() && *conv.CurrentAgentID != agentID {
			return fmt.Errorf("%w: conversation owned by another agent", ErrInvalidAssignment)
		}

		now := m.Now()
		msg = &store.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Direction:      store.DirectionAgent,
			Type:           store.TypeText,
			Body:           text,
			SenderID:       agentID,
			SentAt:         now,
		}
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return err
		}

		applyAgent(conv, agentID)
		conv.Status = store.StatusWaitingClient
		conv.LastMessageAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.sender != nil {
		if err := m.sender.SendText(ctx, conv.ContactAddress, text); err != nil {
			m.logger.Error("failed to deliver agent message",
				"error", err,
				"conversation_id", conv.ID,
				"message_id", msg.ID,
			)
		}
	}
	return msg, nil
}

func (m *Manager) activeSector(ctx context.Context, tx store.Tx, sectorID string) (*store.Sector, error) {
	sector, err := tx.GetSector(ctx, sectorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSector, sectorID)
	}
	if err != nil {
		return nil, err
	}
	if !sector.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrUnknownSector, sector.Slug)
	}
	return sector, nil
}

func (m *Manager) agent(ctx context.Context, tx store.Tx, userID string) (*store.User, error) {
	user, err := tx.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s not found", ErrInvalidAssignment, userID)
	}
	if err != nil {
		return nil, err
	}
	if !user.Active || user.Role != store.RoleAgent {
		return nil, fmt.Errorf("%w: user %s is not an active agent", ErrInvalidAssignment, userID)
	}
	return user, nil
}

// applyAgent hands the conversation to a human; the bot stops tracking any
// pending clarification.
func applyAgent(conv *store.Conversation, agentID string) {
	conv.CurrentAgentID = &agentID
	conv.Status = store.StatusInProgress
	staffRouted(conv)
}

// staffRouted drops a pending clarification once staff decided the routing,
// so a late answer from the client cannot override it.
func staffRouted(conv *store.Conversation) {
	if conv.BotState == store.BotAwaitingClarification {
		conv.ClearClarification(store.BotHandoff)
	}
}

func sameSector(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyRef(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
