// Package listing answers read-only questions about dossiers: paged lists,
// single lookups and dashboard figures. Every query is narrowed by the
// caller's scope before anything else is applied.
package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type Filter struct {
	Scope    access.Scope
	Search   string
	Status   model.StatusFilter
	Page     int
	PageSize int
}

// Entry is a dossier together with its current situation.
type Entry struct {
	model.Dossier
	Current *model.Situation `json:"situation_actuelle"`
}

type Page struct {
	Total      int64   `json:"total"`
	Page       int     `json:"page"`
	PageSize   int     `json:"limit"`
	TotalPages int     `json:"totalPages"`
	Dossiers   []Entry `json:"dossiers"`
}

type Service struct {
	store *postgres.Store
}

func NewService(store *postgres.Store) *Service {
	return &Service{store: store}
}

// List returns one page of the dossiers visible under f.Scope. The total
// is computed under exactly the same predicates as the page itself.
func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	page, size := normalizePage(f.Page, f.PageSize)

	dossiers, total, err := postgres.NewDossierRepository(s.store.DB()).List(ctx, postgres.DossierQuery{
		Scope:         f.Scope.Apply,
		Search:        f.Search,
		IncludeLabels: f.Status.IncludedLabels(),
		ExcludeLabels: f.Status.ExcludedLabels(),
		Limit:         size,
		Offset:        (page - 1) * size,
	})
	if err != nil {
		return nil, fmt.Errorf("list dossiers: %w", err)
	}

	entries, err := s.withCurrent(ctx, dossiers)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(size) - 1) / int64(size))
	return &Page{
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: totalPages,
		Dossiers:   entries,
	}, nil
}

// Get loads a dossier the caller is allowed to see. Dossiers outside the
// scope are reported as missing.
func (s *Service) Get(ctx context.Context, scope access.Scope, id uint) (*Entry, error) {
	dossier, err := postgres.NewDossierRepository(s.store.DB()).GetVisible(ctx, id, scope.Apply)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, apperror.NotFound("Dossier introuvable")
		}
		return nil, fmt.Errorf("load dossier: %w", err)
	}
	entries, err := s.withCurrent(ctx, []model.Dossier{*dossier})
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

func (s *Service) withCurrent(ctx context.Context, dossiers []model.Dossier) ([]Entry, error) {
	ids := make([]uint, 0, len(dossiers))
	for _, d := range dossiers {
		ids = append(ids, d.ID)
	}
	latest, err := postgres.NewSituationRepository(s.store.DB()).LatestFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load current situations: %w", err)
	}

	entries := make([]Entry, 0, len(dossiers))
	for _, d := range dossiers {
		entry := Entry{Dossier: d}
		if current, ok := latest[d.ID]; ok {
			entry.Current = &current
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}
