// ABOUTME: Tests for the inactivity auto-closer
// ABOUTME: Uses a real SQLite store; the run loop is checked for goroutine leaks

package autoclose

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/triage-gateway/internal/store"
	"github.com/2389/triage-gateway/internal/transport"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addConversation(t *testing.T, s store.Store, status store.ConversationStatus, idle time.Duration) *store.Conversation {
	t.Helper()
	last := testNow.Add(-idle)
	conv := &store.Conversation{
		ID:             uuid.NewString(),
		ContactAddress: "55" + uuid.NewString()[:8],
		Status:         status,
		BotState:       store.BotIdle,
		LastMessageAt:  &last,
		CreatedAt:      last,
		UpdatedAt:      last,
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) SendText(_ context.Context, address, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, address)
	return nil
}

func newSweeper(s store.Store, sender transport.Sender, cfg Config) *Sweeper {
	sw := New(s, sender, cfg, nil)
	sw.now = func() time.Time { return testNow }
	return sw
}

func TestRunOnce_ClosesExactlyInactiveOpenConversations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	stale := []*store.Conversation{
		addConversation(t, s, store.StatusNew, 2*time.Hour),
		addConversation(t, s, store.StatusQueued, 61*time.Minute),
		addConversation(t, s, store.StatusWaitingClient, time.Hour), // exactly at the threshold
	}
	fresh := addConversation(t, s, store.StatusInProgress, 59*time.Minute)
	archived := addConversation(t, s, store.StatusArchived, 5*time.Hour)

	sender := &recordingSender{}
	sw := newSweeper(s, sender, Config{After: time.Hour, SendMessage: true})

	res, err := sw.RunOnce(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Closed)
	assert.Len(t, sender.sent, 3)

	for _, c := range stale {
		got, err := s.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusClosed, got.Status)

		msgs, err := s.ListMessages(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, store.DirectionSystem, msgs[0].Direction)
		assert.Equal(t, KindAutoClose, msgs[0].Kind)
	}

	got, err := s.GetConversation(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, got.Status)

	got, err = s.GetConversation(ctx, archived.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusArchived, got.Status)
}

func TestRunOnce_OnClosedSeesClosedConversation(t *testing.T) {
	s := createTestStore(t)
	stale := addConversation(t, s, store.StatusQueued, 2*time.Hour)
	addConversation(t, s, store.StatusQueued, time.Minute)

	var closed []*store.Conversation
	sw := newSweeper(s, nil, Config{
		After:    time.Hour,
		OnClosed: func(c *store.Conversation) { closed = append(closed, c) },
	})

	_, err := sw.RunOnce(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, stale.ID, closed[0].ID)
	assert.Equal(t, store.StatusClosed, closed[0].Status)
}

func TestRunOnce_DropsPendingClarification(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	conv := addConversation(t, s, store.StatusNew, 2*time.Hour)
	conv.AwaitClarification(&store.ClarificationContext{
		QuestionKey: "segunda via",
		Question:    "A segunda via é de qual assunto?",
		Options:     []store.ClarificationOption{{SectorSlug: "tributos", Label: "Tributos"}},
	})
	require.NoError(t, s.UpdateConversation(ctx, conv))

	var notified *store.Conversation
	sw := newSweeper(s, nil, Config{
		After:    time.Hour,
		OnClosed: func(c *store.Conversation) { notified = c },
	})
	res, err := sw.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, res.Closed)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, got.Status)
	assert.Equal(t, store.BotIdle, got.BotState)
	assert.Nil(t, got.Clarification)
	assert.NoError(t, got.Validate())

	require.NotNil(t, notified)
	assert.Equal(t, store.BotIdle, notified.BotState)
	assert.Nil(t, notified.Clarification)
}

func TestRunOnce_DryRunDoesNotMutate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := addConversation(t, s, store.StatusQueued, 3*time.Hour)
	addConversation(t, s, store.StatusNew, 2*time.Hour)
	addConversation(t, s, store.StatusQueued, time.Minute)

	sw := newSweeper(s, nil, Config{After: time.Hour})
	res, err := sw.RunOnce(ctx, true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.Candidates)
	assert.Zero(t, res.Closed)

	got, err := s.GetConversation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, got.Status)
	msgs, err := s.ListMessages(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRunOnce_Batches(t *testing.T) {
	s := createTestStore(t)
	for i := 0; i < 7; i++ {
		addConversation(t, s, store.StatusQueued, time.Duration(2+i)*time.Hour)
	}

	sw := newSweeper(s, nil, Config{After: time.Hour, BatchSize: 3})
	res, err := sw.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Closed)

	n, err := s.CountAutoCloseCandidates(context.Background(), testNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnce_Disabled(t *testing.T) {
	s := createTestStore(t)
	addConversation(t, s, store.StatusQueued, 48*time.Hour)

	sw := newSweeper(s, nil, Config{})
	res, err := sw.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, res.Closed)
}

// touchingStore simulates a client message landing between the candidate query
// and the per-conversation close.
type touchingStore struct {
	store.Store
	touch func()
	once  sync.Once
}

func (ts *touchingStore) ListAutoCloseCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*store.Conversation, error) {
	out, err := ts.Store.ListAutoCloseCandidates(ctx, cutoff, limit)
	ts.once.Do(ts.touch)
	return out, err
}

func TestRunOnce_SkipsConversationTouchedAfterQuery(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	touched := addConversation(t, s, store.StatusQueued, 2*time.Hour)
	other := addConversation(t, s, store.StatusQueued, 2*time.Hour)

	ts := &touchingStore{Store: s, touch: func() {
		c, err := s.GetConversation(ctx, touched.ID)
		require.NoError(t, err)
		now := testNow
		c.LastMessageAt = &now
		require.NoError(t, s.UpdateConversation(ctx, c))
	}}

	sw := newSweeper(ts, nil, Config{After: time.Hour})
	res, err := sw.RunOnce(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, 1, res.Skipped)

	got, err := s.GetConversation(ctx, touched.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, got.Status)

	got, err = s.GetConversation(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, got.Status)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := createTestStore(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addConversation(t, s, store.StatusQueued, 2*time.Hour)
	sw := newSweeper(s, nil, Config{After: time.Hour, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := s.CountAutoCloseCandidates(context.Background(), testNow.Add(-time.Hour))
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
