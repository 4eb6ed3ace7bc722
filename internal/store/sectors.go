// ABOUTME: Sector and user persistence
// ABOUTME: Sectors are ordered by numeric menu code for menu rendering

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const sectorColumns = `id, name, slug, menu_code, active, created_at`

// menuOrder sorts numerically first so "10" follows "9".
const menuOrder = ` ORDER BY CAST(menu_code AS INTEGER) ASC, menu_code ASC`

func scanSector(row rowScanner) (*Sector, error) {
	var (
		sector       Sector
		active       int
		createdAtStr string
	)
	if err := row.Scan(&sector.ID, &sector.Name, &sector.Slug, &sector.MenuCode, &active, &createdAtStr); err != nil {
		return nil, err
	}
	sector.Active = active == 1

	var err error
	if sector.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &sector, nil
}

func (q *queries) querySector(ctx context.Context, query string, args ...any) (*Sector, error) {
	sector, err := scanSector(q.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying sector: %w", err)
	}
	return sector, nil
}

func (q *queries) querySectors(ctx context.Context, query string, args ...any) ([]*Sector, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sectors: %w", err)
	}
	defer rows.Close()

	var sectors []*Sector
	for rows.Next() {
		sector, err := scanSector(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sector: %w", err)
		}
		sectors = append(sectors, sector)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sectors: %w", err)
	}
	return sectors, nil
}

// GetSector retrieves a sector by ID, active or not.
func (q *queries) GetSector(ctx context.Context, id string) (*Sector, error) {
	return q.querySector(ctx, `SELECT `+sectorColumns+` FROM sectors WHERE id = ?`, id)
}

// GetSectorBySlug retrieves a sector by slug, active or not.
func (q *queries) GetSectorBySlug(ctx context.Context, slug string) (*Sector, error) {
	return q.querySector(ctx, `SELECT `+sectorColumns+` FROM sectors WHERE slug = ?`, slug)
}

// GetSectorByMenuCode retrieves a sector by its exact menu code, active or not.
func (q *queries) GetSectorByMenuCode(ctx context.Context, code string) (*Sector, error) {
	return q.querySector(ctx, `SELECT `+sectorColumns+` FROM sectors WHERE menu_code = ?`, code)
}

// ListActiveSectors returns active sectors in menu order.
func (q *queries) ListActiveSectors(ctx context.Context) ([]*Sector, error) {
	return q.querySectors(ctx, `SELECT `+sectorColumns+` FROM sectors WHERE active = 1`+menuOrder)
}

// CreateSector inserts a sector. Returns ErrDuplicate when slug or menu code is taken.
func (q *queries) CreateSector(ctx context.Context, sector *Sector) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO sectors (`+sectorColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		sector.ID,
		sector.Name,
		sector.Slug,
		sector.MenuCode,
		boolToInt(sector.Active),
		formatTime(sector.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting sector: %w", err)
	}
	q.logger.Debug("created sector", "slug", sector.Slug, "menu_code", sector.MenuCode)
	return nil
}

// ListSectors returns every sector in menu order.
func (s *SQLiteStore) ListSectors(ctx context.Context) ([]*Sector, error) {
	return s.querySectors(ctx, `SELECT `+sectorColumns+` FROM sectors`+menuOrder)
}

// SetSectorActive toggles a sector's active flag.
func (s *SQLiteStore) SetSectorActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sectors SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("updating sector: %w", err)
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

const userColumns = `id, name, email, role, sector_id, active, created_at`

func scanUser(row rowScanner) (*User, error) {
	var (
		user         User
		role         string
		sectorID     sql.NullString
		active       int
		createdAtStr string
	)
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &role, &sectorID, &active, &createdAtStr); err != nil {
		return nil, err
	}
	user.Role = UserRole(role)
	user.SectorID = refFromNull(sectorID)
	user.Active = active == 1

	var err error
	if user.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}

// GetUser retrieves a user by ID.
func (q *queries) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// CreateUser inserts a user. Returns ErrDuplicate when the email is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		user.Email,
		string(user.Role),
		nullRef(user.SectorID),
		boolToInt(user.Active),
		formatTime(user.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// ListUsers returns every user ordered by name.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}
