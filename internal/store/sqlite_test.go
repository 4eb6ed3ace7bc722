// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Uses a real database in a temp directory per test

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func newTestSector(t *testing.T, s *SQLiteStore, slug, code string, active bool) *Sector {
	t.Helper()
	sector := &Sector{
		ID:        uuid.New().String(),
		Name:      slug,
		Slug:      slug,
		MenuCode:  code,
		Active:    active,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateSector(context.Background(), sector))
	return sector
}

func newTestConversation(t *testing.T, s *SQLiteStore, address string, status ConversationStatus, lastMessage *time.Time) *Conversation {
	t.Helper()
	now := time.Now()
	conv := &Conversation{
		ID:             uuid.New().String(),
		ContactAddress: address,
		Status:         status,
		BotState:       BotIdle,
		LastMessageAt:  lastMessage,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func TestNewSQLiteStore_CreatesSchemaIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "triage.db")

	s1, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	assert.NoError(t, s2.Ping(context.Background()))
}

func TestConversation_ClarificationRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	conv := newTestConversation(t, s, "5511999990000", StatusNew, nil)

	conv.AwaitClarification(&ClarificationContext{
		QuestionKey: "boleto",
		Question:    "Boleto de qual tributo?",
		Options: []ClarificationOption{
			{SectorSlug: "divida_ativa", Label: "Dívida ativa"},
			{SectorSlug: "fiscalizacao", Label: "Fiscalização"},
		},
	})
	conv.UpdatedAt = time.Now()
	require.NoError(t, s.UpdateConversation(ctx, conv))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, BotAwaitingClarification, got.BotState)
	require.NotNil(t, got.Clarification)
	assert.Equal(t, "boleto", got.Clarification.QuestionKey)
	require.Len(t, got.Clarification.Options, 2)
	assert.Equal(t, "fiscalizacao", got.Clarification.Options[1].SectorSlug)

	got.ClearClarification(BotHandoff)
	got.UpdatedAt = time.Now()
	require.NoError(t, s.UpdateConversation(ctx, got))

	again, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, BotHandoff, again.BotState)
	assert.Nil(t, again.Clarification)
}

func TestConversation_RejectsBrokenInvariant(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	conv := newTestConversation(t, s, "5511999990001", StatusNew, nil)

	conv.BotState = BotAwaitingClarification
	err := s.UpdateConversation(ctx, conv)
	assert.ErrorIs(t, err, ErrInvalidState)

	conv.BotState = BotIdle
	conv.Clarification = &ClarificationContext{Options: []ClarificationOption{{SectorSlug: "x"}}}
	err = s.UpdateConversation(ctx, conv)
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, BotIdle, got.BotState)
	assert.Nil(t, got.Clarification)
}

func TestGetConversation_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindOpenConversationByContact_PicksMostRecentOpen(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now()

	newTestConversation(t, s, "5511", StatusClosed, ptr(now))
	older := newTestConversation(t, s, "5511", StatusQueued, ptr(now.Add(-2*time.Hour)))
	newer := newTestConversation(t, s, "5511", StatusInProgress, ptr(now.Add(-time.Minute)))
	newTestConversation(t, s, "5522", StatusNew, ptr(now))

	got, err := s.FindOpenConversationByContact(ctx, "5511")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
	assert.NotEqual(t, older.ID, got.ID)

	_, err = s.FindOpenConversationByContact(ctx, "5533")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindLatestInactiveConversationByContact(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now()

	newTestConversation(t, s, "5511", StatusClosed, ptr(now.Add(-3*time.Hour)))
	archived := newTestConversation(t, s, "5511", StatusArchived, ptr(now.Add(-time.Hour)))
	newTestConversation(t, s, "5511", StatusNew, ptr(now))

	got, err := s.FindLatestInactiveConversationByContact(ctx, "5511")
	require.NoError(t, err)
	assert.Equal(t, archived.ID, got.ID)
}

func TestAutoCloseCandidates_CountAndList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now()
	cutoff := now.Add(-30 * time.Minute)

	stale := newTestConversation(t, s, "a", StatusQueued, ptr(now.Add(-time.Hour)))
	exact := newTestConversation(t, s, "b", StatusNew, ptr(cutoff))
	newTestConversation(t, s, "c", StatusInProgress, ptr(now.Add(-10*time.Minute)))
	newTestConversation(t, s, "d", StatusClosed, ptr(now.Add(-2*time.Hour)))
	newTestConversation(t, s, "e", StatusQueued, nil)

	n, err := s.CountAutoCloseCandidates(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	convs, err := s.ListAutoCloseCandidates(ctx, cutoff, 1)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, stale.ID, convs[0].ID, "oldest first")

	convs, err = s.ListAutoCloseCandidates(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, exact.ID, convs[1].ID)
}

func TestCloseInactiveConversation_IsConditional(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now()
	cutoff := now.Add(-30 * time.Minute)

	stale := newTestConversation(t, s, "a", StatusInProgress, ptr(now.Add(-time.Hour)))
	fresh := newTestConversation(t, s, "b", StatusQueued, ptr(now))

	closed, err := s.CloseInactiveConversation(ctx, stale.ID, cutoff, now)
	require.NoError(t, err)
	assert.True(t, closed)

	closed, err = s.CloseInactiveConversation(ctx, fresh.ID, cutoff, now)
	require.NoError(t, err)
	assert.False(t, closed)

	closed, err = s.CloseInactiveConversation(ctx, stale.ID, cutoff, now)
	require.NoError(t, err)
	assert.False(t, closed, "already closed")

	got, err := s.GetConversation(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
	assert.Nil(t, got.CurrentAgentID)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	conv := newTestConversation(t, s, "a", StatusNew, nil)

	err := s.InTx(ctx, func(tx Tx) error {
		c, err := tx.GetConversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		c.Status = StatusQueued
		c.UpdatedAt = time.Now()
		if err := tx.UpdateConversation(ctx, c); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNew, got.Status)
}

func TestSectors_MenuOrderAndLookups(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	newTestSector(t, s, "recepcao", "99", true)
	newTestSector(t, s, "tributos", "10", true)
	newTestSector(t, s, "financeiro", "2", true)
	newTestSector(t, s, "antigo", "3", false)

	active, err := s.ListActiveSectors(ctx)
	require.NoError(t, err)
	var codes []string
	for _, sec := range active {
		codes = append(codes, sec.MenuCode)
	}
	assert.Equal(t, []string{"2", "10", "99"}, codes)

	all, err := s.ListSectors(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	bySlug, err := s.GetSectorBySlug(ctx, "antigo")
	require.NoError(t, err)
	assert.False(t, bySlug.Active)

	byCode, err := s.GetSectorByMenuCode(ctx, "10")
	require.NoError(t, err)
	assert.Equal(t, "tributos", byCode.Slug)

	err = s.CreateSector(ctx, &Sector{ID: uuid.New().String(), Name: "dup", Slug: "financeiro", MenuCode: "7", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, s.SetSectorActive(ctx, bySlug.ID, true))
	active, err = s.ListActiveSectors(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 4)
}

func TestUsers_CreateGetList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sector := newTestSector(t, s, "financeiro", "1", true)

	agent := &User{ID: uuid.New().String(), Name: "Bea", Email: "bea@example.com", Role: RoleAgent, SectorID: &sector.ID, Active: true, CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(ctx, agent))

	got, err := s.GetUser(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleAgent, got.Role)
	require.NotNil(t, got.SectorID)
	assert.Equal(t, sector.ID, *got.SectorID)

	err = s.CreateUser(ctx, &User{ID: uuid.New().String(), Name: "Other", Email: "bea@example.com", Role: RoleAdmin, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrDuplicate)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessagesAndTransferLogs_Chronological(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	conv := newTestConversation(t, s, "a", StatusNew, nil)
	base := time.Now()

	for i, body := range []string{"oi", "menu", "1"} {
		require.NoError(t, s.CreateMessage(ctx, &Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			Direction:      DirectionClient,
			Body:           body,
			RawPayload:     []byte(`{"id":"` + body + `"}`),
			SentAt:         base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "oi", msgs[0].Body)
	assert.Equal(t, TypeText, msgs[0].Type)
	assert.JSONEq(t, `{"id":"1"}`, string(msgs[2].RawPayload))

	from := newTestSector(t, s, "financeiro", "1", true)
	to := newTestSector(t, s, "tributos", "2", true)
	require.NoError(t, s.CreateTransferLog(ctx, &TransferLog{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		FromSectorID:   &from.ID,
		ToSectorID:     &to.ID,
		Note:           "cliente pediu",
		CreatedAt:      base,
	}))

	logs, err := s.ListTransferLogs(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, from.ID, *logs[0].FromSectorID)
	assert.Nil(t, logs[0].FromAgentID)
	assert.Equal(t, "cliente pediu", logs[0].Note)
}

func TestParseMessageType(t *testing.T) {
	assert.Equal(t, TypeVideo, ParseMessageType("video"))
	assert.Equal(t, TypeOther, ParseMessageType("sticker"))
}
