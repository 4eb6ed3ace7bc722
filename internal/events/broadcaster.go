// ABOUTME: In-memory fan-out of queue events to staff dashboards
// ABOUTME: Subscribers follow one sector or every sector; slow subscribers drop events

// Package events publishes conversation changes to live subscribers.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/triage-gateway/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// AllSectors is the subscription key that receives every event.
const AllSectors = ""

// Type names what happened to a conversation.
type Type string

const (
	// ConversationUpdated covers status, sector and agent changes.
	ConversationUpdated Type = "conversation.updated"
	// MessageCreated is published after a client or agent message is stored.
	MessageCreated Type = "message.created"
)

// Event is one queue change. It carries identifiers only; dashboards fetch
// details through the API.
type Event struct {
	ID             string                   `json:"id"`
	Type           Type                     `json:"type"`
	ConversationID string                   `json:"conversation_id"`
	SectorID       string                   `json:"sector_id,omitempty"`
	AgentID        string                   `json:"agent_id,omitempty"`
	Status         store.ConversationStatus `json:"status"`
	MessageID      string                   `json:"message_id,omitempty"`
	At             time.Time                `json:"at"`
}

// ForConversation builds an event from the current conversation row.
func ForConversation(t Type, conv *store.Conversation, at time.Time) *Event {
	ev := &Event{
		ID:             uuid.NewString(),
		Type:           t,
		ConversationID: conv.ID,
		Status:         conv.Status,
		At:             at.UTC(),
	}
	if conv.CurrentSectorID != nil {
		ev.SectorID = *conv.CurrentSectorID
	}
	if conv.CurrentAgentID != nil {
		ev.AgentID = *conv.CurrentAgentID
	}
	return ev
}

// Broadcaster provides in-memory pub/sub for queue events. Subscribers
// register for a sector id, or AllSectors, and receive events as conversations
// change.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // sectorID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber for events of the given sector. The
// returned channel is closed when ctx is canceled or the broadcaster closes.
func (b *Broadcaster) Subscribe(ctx context.Context, sectorID string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[sectorID]; !ok {
		b.subscribers[sectorID] = make(map[string]chan *Event)
	}
	b.subscribers[sectorID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sector_id", sectorID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sectorID, subID)
	}()

	return ch, subID
}

// Publish sends ev to the subscribers of its sector and to AllSectors.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(ev *Event) {
	b.mu.RLock()
	var targets []chan *Event
	for _, key := range keysFor(ev) {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"conversation_id", ev.ConversationID,
				"event_id", ev.ID)
		}
	}
	b.mu.RUnlock()
}

func keysFor(ev *Event) []string {
	if ev.SectorID == AllSectors {
		return []string{AllSectors}
	}
	return []string{ev.SectorID, AllSectors}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sectorID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sectorID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, sectorID)
	}

	b.logger.Debug("subscriber removed", "sector_id", sectorID, "sub_id", subID)
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sectorID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, sectorID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
