// ABOUTME: Store interfaces and data types for triage-gateway persistence
// ABOUTME: Defines Conversation, Message, Sector, User and TransferLog plus the transactional Tx surface

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique column (slug, menu code, email) is already taken
var ErrDuplicate = errors.New("already exists")

// ErrInvalidState is returned when a conversation would be persisted with
// bot_state and bot_clarification_context out of sync.
var ErrInvalidState = errors.New("invalid conversation bot state")

// ConversationStatus is the agent-facing lifecycle status of a conversation.
type ConversationStatus string

const (
	StatusNew           ConversationStatus = "new"
	StatusQueued        ConversationStatus = "queued"
	StatusInProgress    ConversationStatus = "in_progress"
	StatusWaitingClient ConversationStatus = "waiting_client"
	StatusClosed        ConversationStatus = "closed"
	StatusArchived      ConversationStatus = "archived"
)

// OpenStatuses are the statuses that make a conversation eligible for new
// inbound messages and for the inactivity sweep.
var OpenStatuses = []ConversationStatus{StatusNew, StatusQueued, StatusInProgress, StatusWaitingClient}

// IsOpen reports whether the status is one of OpenStatuses.
func (s ConversationStatus) IsOpen() bool {
	switch s {
	case StatusNew, StatusQueued, StatusInProgress, StatusWaitingClient:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	return s.IsOpen() || s == StatusClosed || s == StatusArchived
}

// BotState drives the triage state machine, independent of ConversationStatus.
type BotState string

const (
	BotIdle                  BotState = "idle"
	BotMenuSent              BotState = "menu_sent"
	BotAwaitingClarification BotState = "awaiting_clarification"
	BotHandoff               BotState = "handoff"
)

// ClarificationOption is one numbered answer of a pending clarification.
type ClarificationOption struct {
	SectorSlug string `json:"sector_slug"`
	Label      string `json:"label"`
}

// ClarificationContext is the pending question a conversation is waiting on.
type ClarificationContext struct {
	QuestionKey string                `json:"question_key"`
	Question    string                `json:"question"`
	Options     []ClarificationOption `json:"options"`
}

// Conversation is one episode of contact between a client address and the service.
type Conversation struct {
	ID              string
	ContactAddress  string
	ClientName      string
	Status          ConversationStatus
	CurrentSectorID *string
	CurrentAgentID  *string
	BotState        BotState
	BotLastPromptAt *time.Time
	BotMenuSentAt   *time.Time
	Clarification   *ClarificationContext
	LastMessageAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AwaitClarification moves the conversation into awaiting_clarification with ctx pending.
func (c *Conversation) AwaitClarification(ctx *ClarificationContext) {
	c.BotState = BotAwaitingClarification
	c.Clarification = ctx
}

// ClearClarification drops any pending clarification and sets the next bot state.
func (c *Conversation) ClearClarification(next BotState) {
	c.BotState = next
	c.Clarification = nil
}

// HasAgent reports whether a human agent owns the conversation.
func (c *Conversation) HasAgent() bool {
	return c.CurrentAgentID != nil && *c.CurrentAgentID != ""
}

// HasSector reports whether the conversation has been routed to a sector.
func (c *Conversation) HasSector() bool {
	return c.CurrentSectorID != nil && *c.CurrentSectorID != ""
}

// Validate checks the status and bot_state cross-invariants.
func (c *Conversation) Validate() error {
	if !c.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidState, c.Status)
	}
	awaiting := c.BotState == BotAwaitingClarification
	if awaiting != (c.Clarification != nil) {
		return ErrInvalidState
	}
	if awaiting && len(c.Clarification.Options) == 0 {
		return fmt.Errorf("%w: clarification without options", ErrInvalidState)
	}
	return nil
}

// MessageDirection identifies who authored a message.
type MessageDirection string

const (
	DirectionClient MessageDirection = "client"
	DirectionAgent  MessageDirection = "agent"
	DirectionBot    MessageDirection = "bot"
	DirectionSystem MessageDirection = "system"
)

// MessageType is the media type of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeOther    MessageType = "other"
)

// ParseMessageType maps free-form input onto a known MessageType, defaulting to other.
func ParseMessageType(s string) MessageType {
	switch t := MessageType(s); t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeDocument:
		return t
	}
	return TypeOther
}

// Message is an append-only event in a conversation.
type Message struct {
	ID                string
	ConversationID    string
	Direction         MessageDirection
	Type              MessageType
	Body              string
	MediaURL          string
	Kind              string // machine-readable intent for bot/system messages
	ProviderMessageID string
	SenderID          string // agent user id for agent messages
	RawPayload        []byte // opaque JSON provenance
	SentAt            time.Time
}

// Sector is a service queue selectable by its numeric menu code.
type Sector struct {
	ID        string
	Name      string
	Slug      string
	MenuCode  string
	Active    bool
	CreatedAt time.Time
}

// UserRole is the role of a staff user.
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleAgent UserRole = "agent"
)

// User is a staff member that can own conversations when holding RoleAgent.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      UserRole
	SectorID  *string
	Active    bool
	CreatedAt time.Time
}

// TransferLog records one sector/agent handoff. Never updated.
type TransferLog struct {
	ID             string
	ConversationID string
	FromSectorID   *string
	ToSectorID     *string
	FromAgentID    *string
	ToAgentID      *string
	Note           string
	CreatedAt      time.Time
}

// ConversationFilter narrows ListConversations. Zero values match everything.
type ConversationFilter struct {
	Statuses []ConversationStatus
	SectorID string
	AgentID  string
	Limit    int
}

// Tx is the set of operations available both inside a transaction and on the
// store itself. Lifecycle and triage code take a Tx so the same logic runs
// atomically under Store.InTx.
type Tx interface {
	// Conversations
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	FindOpenConversationByContact(ctx context.Context, address string) (*Conversation, error)
	FindLatestInactiveConversationByContact(ctx context.Context, address string) (*Conversation, error)
	CreateConversation(ctx context.Context, conv *Conversation) error
	UpdateConversation(ctx context.Context, conv *Conversation) error
	CloseInactiveConversation(ctx context.Context, id string, cutoff, now time.Time) (bool, error)

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error

	// Sectors
	GetSector(ctx context.Context, id string) (*Sector, error)
	GetSectorBySlug(ctx context.Context, slug string) (*Sector, error)
	GetSectorByMenuCode(ctx context.Context, code string) (*Sector, error)
	ListActiveSectors(ctx context.Context) ([]*Sector, error)
	CreateSector(ctx context.Context, sector *Sector) error

	// Users
	GetUser(ctx context.Context, id string) (*User, error)

	// Transfers
	CreateTransferLog(ctx context.Context, log *TransferLog) error
}

// Store is the full persistence surface.
type Store interface {
	Tx

	// InTx runs fn inside a single write transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	ListTransferLogs(ctx context.Context, conversationID string) ([]*TransferLog, error)
	ListAutoCloseCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*Conversation, error)
	CountAutoCloseCandidates(ctx context.Context, cutoff time.Time) (int, error)

	ListSectors(ctx context.Context) ([]*Sector, error)
	SetSectorActive(ctx context.Context, id string, active bool) error

	CreateUser(ctx context.Context, user *User) error
	ListUsers(ctx context.Context) ([]*User, error)

	Ping(ctx context.Context) error
	Close() error
}
