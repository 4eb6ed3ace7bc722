// ABOUTME: Tests for staff user creation
// ABOUTME: Reuses the lifecycle SQLite fixture

package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/triage-gateway/internal/store"
)

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sector := f.sector(t, "financeiro", "1", true)

	user, err := f.manager.CreateUser(ctx, NewUser{
		Name:     " Bruna ",
		Email:    "Bruna@Prefeitura.gov.br",
		Role:     store.RoleAgent,
		SectorID: sector.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bruna", user.Name)
	assert.Equal(t, "bruna@prefeitura.gov.br", user.Email)
	assert.True(t, user.Active)
	require.NotNil(t, user.SectorID)
	assert.Equal(t, sector.ID, *user.SectorID)

	stored, err := f.store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RoleAgent, stored.Role)

	_, err = f.manager.CreateUser(ctx, NewUser{Name: "Outra", Email: "bruna@prefeitura.gov.br", Role: store.RoleAdmin})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestCreateUser_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   NewUser
		want error
	}{
		{"missing name", NewUser{Email: "a@b.c", Role: store.RoleAgent}, ErrInvalidUser},
		{"bad email", NewUser{Name: "A", Email: "nope", Role: store.RoleAgent}, ErrInvalidUser},
		{"bad role", NewUser{Name: "A", Email: "a@b.c", Role: "owner"}, ErrInvalidUser},
		{"unknown sector", NewUser{Name: "A", Email: "a@b.c", Role: store.RoleAgent, SectorID: "missing"}, ErrUnknownSector},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.CreateUser(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	users, err := f.store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}
