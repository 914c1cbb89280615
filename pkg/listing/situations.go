package listing

import (
	"context"
	"fmt"
	"time"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

const (
	recentlyModifiedWindow = 7 * 24 * time.Hour
	recentlyModifiedLimit  = 10
)

type SituationFilter struct {
	Scope      access.Scope
	Search     string
	Label      model.SituationLabel
	From       *time.Time
	To         *time.Time
	DivisionID *uint
	ServiceID  *uint
	Page       int
	PageSize   int
}

// SituationEntry is a situation together with the dossier it belongs to.
type SituationEntry struct {
	model.Situation
	Dossier *model.Dossier `json:"dossier"`
}

type SituationPage struct {
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"limit"`
	TotalPages int              `json:"totalPages"`
	Situations []SituationEntry `json:"situations"`
}

// SearchSituations pages through the situation history of every dossier
// visible under f.Scope.
func (s *Service) SearchSituations(ctx context.Context, f SituationFilter) (*SituationPage, error) {
	page, size := normalizePage(f.Page, f.PageSize)

	situations, total, err := postgres.NewSituationRepository(s.store.DB()).Search(ctx, postgres.SituationQuery{
		Scope:      f.Scope.Apply,
		Search:     f.Search,
		Label:      f.Label,
		From:       f.From,
		To:         f.To,
		DivisionID: f.DivisionID,
		ServiceID:  f.ServiceID,
		Limit:      size,
		Offset:     (page - 1) * size,
	})
	if err != nil {
		return nil, fmt.Errorf("search situations: %w", err)
	}

	ids := make([]uint, 0, len(situations))
	seen := make(map[uint]bool, len(situations))
	for _, sit := range situations {
		if !seen[sit.DossierID] {
			seen[sit.DossierID] = true
			ids = append(ids, sit.DossierID)
		}
	}
	dossiers, err := postgres.NewDossierRepository(s.store.DB()).ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load situation dossiers: %w", err)
	}
	byID := make(map[uint]*model.Dossier, len(dossiers))
	for i := range dossiers {
		byID[dossiers[i].ID] = &dossiers[i]
	}

	entries := make([]SituationEntry, 0, len(situations))
	for _, sit := range situations {
		entries = append(entries, SituationEntry{Situation: sit, Dossier: byID[sit.DossierID]})
	}

	return &SituationPage{
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
		Situations: entries,
	}, nil
}

type LabelCount struct {
	Label string `json:"libelle_situation"`
	Count int64  `json:"count"`
}

// SituationsDashboard is the personal view of a user: the dossiers they
// own, how their situations are spread over labels and what changed lately.
type SituationsDashboard struct {
	Dossiers         []Entry      `json:"dossiers"`
	Statistics       []LabelCount `json:"statistics"`
	RecentlyModified []Entry      `json:"recentlyModified"`
}

func (s *Service) SituationsDashboard(ctx context.Context, userID uint) (*SituationsDashboard, error) {
	return s.situationsDashboard(ctx, userID, time.Now())
}

func (s *Service) situationsDashboard(ctx context.Context, userID uint, now time.Time) (*SituationsDashboard, error) {
	scope := access.Scope{Kind: access.ScopeOwner, UserID: userID}
	dossierRepo := postgres.NewDossierRepository(s.store.DB())

	owned, _, err := dossierRepo.List(ctx, postgres.DossierQuery{Scope: scope.Apply})
	if err != nil {
		return nil, fmt.Errorf("list owned dossiers: %w", err)
	}
	var out SituationsDashboard
	if out.Dossiers, err = s.withCurrent(ctx, owned); err != nil {
		return nil, err
	}

	rows, err := postgres.NewSituationRepository(s.store.DB()).CountPerLabel(ctx, scope.Apply)
	if err != nil {
		return nil, fmt.Errorf("count situations per label: %w", err)
	}
	out.Statistics = make([]LabelCount, 0, len(rows))
	for _, row := range rows {
		out.Statistics = append(out.Statistics, LabelCount{Label: row.Label, Count: row.Count})
	}

	since := now.Add(-recentlyModifiedWindow)
	recent, _, err := dossierRepo.List(ctx, postgres.DossierQuery{
		Scope:         scope.Apply,
		ModifiedSince: &since,
		Limit:         recentlyModifiedLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list recently modified: %w", err)
	}
	if out.RecentlyModified, err = s.withCurrent(ctx, recent); err != nil {
		return nil, err
	}
	return &out, nil
}
