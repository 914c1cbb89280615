package listing

import (
	"context"
	"fmt"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

const (
	recentLimit = 5
	alertLimit  = 20
)

type GroupCount struct {
	ID    uint   `json:"id"`
	Label string `json:"label"`
	Count int64  `json:"count"`
}

type Totals struct {
	InProgress int64 `json:"enCours"`
	Completed  int64 `json:"termines"`
	Late       int64 `json:"enRetard"`
}

type Dashboard struct {
	Totals     Totals       `json:"totals"`
	ByDivision []GroupCount `json:"parDivision"`
	ByService  []GroupCount `json:"parService"`
	Alerts     []Entry      `json:"alertes"`
	Recent     []Entry      `json:"recents"`
}

// Dashboard computes the reporting figures for everything visible under
// scope.
func (s *Service) Dashboard(ctx context.Context, scope access.Scope) (*Dashboard, error) {
	repo := postgres.NewDossierRepository(s.store.DB())
	var (
		out Dashboard
		err error
	)

	if out.Totals.InProgress, err = repo.CountByLabels(ctx, scope.Apply, model.LabelEnCours); err != nil {
		return nil, fmt.Errorf("count in progress: %w", err)
	}
	if out.Totals.Completed, err = repo.CountByLabels(ctx, scope.Apply, model.LabelTermine); err != nil {
		return nil, fmt.Errorf("count completed: %w", err)
	}
	if out.Totals.Late, err = repo.CountByLabels(ctx, scope.Apply, model.LabelEnRetard); err != nil {
		return nil, fmt.Errorf("count late: %w", err)
	}

	divisions, err := repo.CountPerDivision(ctx, scope.Apply)
	if err != nil {
		return nil, fmt.Errorf("count per division: %w", err)
	}
	out.ByDivision = convertGroups(divisions)

	services, err := repo.CountPerService(ctx, scope.Apply)
	if err != nil {
		return nil, fmt.Errorf("count per service: %w", err)
	}
	out.ByService = convertGroups(services)

	late, err := repo.ListByLabels(ctx, scope.Apply, alertLimit, model.LabelEnRetard)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	if out.Alerts, err = s.withCurrent(ctx, late); err != nil {
		return nil, err
	}

	recent, err := repo.Recent(ctx, scope.Apply, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	if out.Recent, err = s.withCurrent(ctx, recent); err != nil {
		return nil, err
	}

	return &out, nil
}

func convertGroups(rows []postgres.GroupCount) []GroupCount {
	out := make([]GroupCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, GroupCount{ID: row.ID, Label: row.Label, Count: row.Count})
	}
	return out
}
