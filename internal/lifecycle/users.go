// ABOUTME: Staff user creation with role and sector validation
// ABOUTME: Agents created here are the users AssignAgent and Transfer accept

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/triage-gateway/internal/store"
)

// ErrInvalidUser is returned when a new user has missing or malformed fields.
var ErrInvalidUser = errors.New("invalid user")

// NewUser describes a staff member to create.
type NewUser struct {
	Name     string
	Email    string
	Role     store.UserRole
	SectorID string // optional home sector
}

// CreateUser validates and inserts an active staff user. A taken email
// returns store.ErrDuplicate.
func (m *Manager) CreateUser(ctx context.Context, nu NewUser) (*store.User, error) {
	name := strings.TrimSpace(nu.Name)
	email := strings.ToLower(strings.TrimSpace(nu.Email))
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidUser)
	case !strings.Contains(email, "@"):
		return nil, fmt.Errorf("%w: email %q is not valid", ErrInvalidUser, nu.Email)
	case nu.Role != store.RoleAdmin && nu.Role != store.RoleAgent:
		return nil, fmt.Errorf("%w: role must be %q or %q", ErrInvalidUser, store.RoleAdmin, store.RoleAgent)
	}

	user := &store.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Role:      nu.Role,
		Active:    true,
		CreatedAt: m.Now(),
	}
	if nu.SectorID != "" {
		if _, err := m.store.GetSector(ctx, nu.SectorID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownSector, nu.SectorID)
			}
			return nil, err
		}
		user.SectorID = &nu.SectorID
	}

	if err := m.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	m.logger.Info("created user", "user_id", user.ID, "role", user.Role)
	return user, nil
}
