// ABOUTME: Sector directory: active service queues looked up by menu code or slug
// ABOUTME: Lazily provisions the reception sector used for human handoff

// Package sectors exposes the active sector list to the triage engine.
package sectors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/2389/triage-gateway/internal/config"
	"github.com/2389/triage-gateway/internal/store"
)

// ErrInvalidSector is returned when a new sector has missing or malformed fields.
var ErrInvalidSector = errors.New("invalid sector")

var (
	slugPattern     = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	menuCodePattern = regexp.MustCompile(`^[0-9]{1,3}$`)
)

// Queries is the subset of store.Tx the directory reads and writes.
type Queries interface {
	ListActiveSectors(ctx context.Context) ([]*store.Sector, error)
	GetSectorBySlug(ctx context.Context, slug string) (*store.Sector, error)
	GetSectorByMenuCode(ctx context.Context, code string) (*store.Sector, error)
	CreateSector(ctx context.Context, sector *store.Sector) error
}

// Directory resolves sectors for the triage engine. It holds no sector state
// itself; every call reads through the Queries it is given, so it runs inside
// the caller's transaction.
type Directory struct {
	reception config.ReceptionSector
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Directory that provisions reception on demand.
func New(reception config.ReceptionSector, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		reception: reception,
		logger:    logger.With("component", "sectors"),
		now:       time.Now,
	}
}

// Active returns active sectors in menu order.
func (d *Directory) Active(ctx context.Context, q Queries) ([]*store.Sector, error) {
	return q.ListActiveSectors(ctx)
}

// ByMenuCode returns the active sector with exactly code. Returns store.ErrNotFound otherwise.
func (d *Directory) ByMenuCode(ctx context.Context, q Queries, code string) (*store.Sector, error) {
	sector, err := q.GetSectorByMenuCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !sector.Active {
		return nil, store.ErrNotFound
	}
	return sector, nil
}

// BySlug returns the active sector with slug. Returns store.ErrNotFound otherwise.
func (d *Directory) BySlug(ctx context.Context, q Queries, slug string) (*store.Sector, error) {
	sector, err := q.GetSectorBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !sector.Active {
		return nil, store.ErrNotFound
	}
	return sector, nil
}

// Reception returns the reception sector, creating it from configuration the
// first time a client asks for a human. An existing sector is returned even
// when inactive so handoff never fails.
func (d *Directory) Reception(ctx context.Context, q Queries) (*store.Sector, error) {
	sector, err := q.GetSectorBySlug(ctx, d.reception.Slug)
	if err == nil {
		return sector, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up reception sector: %w", err)
	}

	sector = &store.Sector{
		ID:        uuid.New().String(),
		Name:      d.reception.Name,
		Slug:      d.reception.Slug,
		MenuCode:  d.reception.MenuCode,
		Active:    d.reception.Active,
		CreatedAt: d.now(),
	}
	if err := q.CreateSector(ctx, sector); err != nil {
		return nil, fmt.Errorf("creating reception sector: %w", err)
	}
	d.logger.Info("created reception sector", "slug", sector.Slug, "menu_code", sector.MenuCode)
	return sector, nil
}

// Seed creates the configured sectors that don't exist yet, matched by slug,
// plus the reception sector. It returns how many sectors were created.
func (d *Directory) Seed(ctx context.Context, q Queries, seeds []config.SectorSeed) (int, error) {
	created := 0
	for _, seed := range seeds {
		_, err := q.GetSectorBySlug(ctx, seed.Slug)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return created, fmt.Errorf("looking up sector %q: %w", seed.Slug, err)
		}
		sector := &store.Sector{
			ID:        uuid.New().String(),
			Name:      seed.Name,
			Slug:      seed.Slug,
			MenuCode:  seed.MenuCode,
			Active:    seed.IsActive(),
			CreatedAt: d.now(),
		}
		if err := q.CreateSector(ctx, sector); err != nil {
			return created, fmt.Errorf("creating sector %q: %w", seed.Slug, err)
		}
		created++
	}

	if _, err := q.GetSectorBySlug(ctx, d.reception.Slug); errors.Is(err, store.ErrNotFound) {
		if _, err := d.Reception(ctx, q); err != nil {
			return created, err
		}
		created++
	} else if err != nil {
		return created, fmt.Errorf("looking up reception sector: %w", err)
	}

	return created, nil
}

// Create validates and inserts a new sector. Menu codes are one to three
// digits; taken slugs or codes return store.ErrDuplicate.
func (d *Directory) Create(ctx context.Context, q Queries, name, slug, menuCode string, active bool) (*store.Sector, error) {
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSector)
	case !slugPattern.MatchString(slug):
		return nil, fmt.Errorf("%w: slug %q must be lowercase letters, digits, '_' or '-'", ErrInvalidSector, slug)
	case !menuCodePattern.MatchString(menuCode):
		return nil, fmt.Errorf("%w: menu code %q must be 1 to 3 digits", ErrInvalidSector, menuCode)
	}

	sector := &store.Sector{
		ID:        uuid.New().String(),
		Name:      name,
		Slug:      slug,
		MenuCode:  menuCode,
		Active:    active,
		CreatedAt: d.now(),
	}
	if err := q.CreateSector(ctx, sector); err != nil {
		return nil, err
	}
	d.logger.Info("created sector", "slug", slug, "menu_code", menuCode)
	return sector, nil
}
