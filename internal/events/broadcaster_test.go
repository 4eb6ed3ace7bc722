// ABOUTME: Tests for the queue event broadcaster
// ABOUTME: Covers sector filtering, the all-sectors feed, cancellation, slow subscribers and close

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/triage-gateway/internal/store"
)

func event(id, sectorID string) *Event {
	return &Event{ID: id, Type: ConversationUpdated, ConversationID: "c-" + id, SectorID: sectorID, Status: store.StatusQueued}
}

func receive(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNothing(t *testing.T, ch <-chan *Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBroadcaster_SectorAndAllSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := t.Context()

	fin, _ := b.Subscribe(ctx, "financeiro")
	trib, _ := b.Subscribe(ctx, "tributos")
	all, _ := b.Subscribe(ctx, AllSectors)

	b.Publish(event("e1", "financeiro"))

	assert.Equal(t, "e1", receive(t, fin).ID)
	assert.Equal(t, "e1", receive(t, all).ID)
	assertNothing(t, trib)

	b.Publish(event("e2", ""))
	assert.Equal(t, "e2", receive(t, all).ID, "unrouted conversations reach the all feed once")
	assertNothing(t, all)
	assertNothing(t, fin)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "financeiro")
	require.Equal(t, 1, b.Subscribers())

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_SlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "s")
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(event("e", "s"))
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_CloseClosesChannels(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, _ := b.Subscribe(t.Context(), "s")

	b.Close()
	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(t.Context(), "s")
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
	b.Publish(event("e", "s"))
}

func TestBroadcaster_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBroadcaster(nil)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		ch, _ := b.Subscribe(ctx, "s")
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
	}
	for i := 0; i < 100; i++ {
		b.Publish(event("e", "s"))
	}

	cancel()
	wg.Wait()
	b.Close()
}

func TestForConversation(t *testing.T) {
	sector, agent := "sec", "agent"
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	ev := ForConversation(MessageCreated, &store.Conversation{
		ID:              "c1",
		Status:          store.StatusInProgress,
		CurrentSectorID: &sector,
		CurrentAgentID:  &agent,
	}, at)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, MessageCreated, ev.Type)
	assert.Equal(t, "sec", ev.SectorID)
	assert.Equal(t, "agent", ev.AgentID)
	assert.Equal(t, time.UTC, ev.At.Location())
}
