// ABOUTME: Tests for the sector directory: lookups, reception provisioning, seeding and creation
// ABOUTME: Runs against a real SQLite store

package sectors

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/triage-gateway/internal/config"
	"github.com/2389/triage-gateway/internal/store"
)

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func reception() config.ReceptionSector {
	return config.ReceptionSector{Name: "Recepção", Slug: "recepcao", MenuCode: "99", Active: true}
}

func TestDirectory_LookupsIgnoreInactive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	d := New(reception(), nil)

	require.NoError(t, s.CreateSector(ctx, &store.Sector{ID: uuid.New().String(), Name: "Financeiro", Slug: "financeiro", MenuCode: "1", Active: true, CreatedAt: time.Now()}))
	require.NoError(t, s.CreateSector(ctx, &store.Sector{ID: uuid.New().String(), Name: "Antigo", Slug: "antigo", MenuCode: "2", Active: false, CreatedAt: time.Now()}))

	sector, err := d.ByMenuCode(ctx, s, "1")
	require.NoError(t, err)
	assert.Equal(t, "financeiro", sector.Slug)

	_, err = d.ByMenuCode(ctx, s, "2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = d.BySlug(ctx, s, "antigo")
	assert.ErrorIs(t, err, store.ErrNotFound)

	active, err := d.Active(ctx, s)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestDirectory_ReceptionIsCreatedOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	d := New(reception(), nil)

	first, err := d.Reception(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "99", first.MenuCode)

	second, err := d.Reception(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := s.ListSectors(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDirectory_SeedIsIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	d := New(reception(), nil)
	inactive := false
	seeds := []config.SectorSeed{
		{Name: "Financeiro", Slug: "financeiro", MenuCode: "1"},
		{Name: "Tributos", Slug: "tributos", MenuCode: "2", Active: &inactive},
	}

	n, err := d.Seed(ctx, s, seeds)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = d.Seed(ctx, s, seeds)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	tributos, err := s.GetSectorBySlug(ctx, "tributos")
	require.NoError(t, err)
	assert.False(t, tributos.Active)
}

func TestDirectory_Create(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	d := New(reception(), nil)

	sector, err := d.Create(ctx, s, "Dívida Ativa", "divida_ativa", "3", true)
	require.NoError(t, err)
	assert.NotEmpty(t, sector.ID)

	got, err := d.ByMenuCode(ctx, s, "3")
	require.NoError(t, err)
	assert.Equal(t, sector.ID, got.ID)

	_, err = d.Create(ctx, s, "Outro", "outro", "3", true)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	for _, tc := range []struct{ name, slug, code string }{
		{"", "x", "4"},
		{"X", "Com Espaço", "4"},
		{"X", "x", "a1"},
		{"X", "x", "1234"},
	} {
		_, err := d.Create(ctx, s, tc.name, tc.slug, tc.code, true)
		assert.ErrorIs(t, err, ErrInvalidSector, "%+v", tc)
	}
}
