package listing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/listing"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
	"github.com/dossierflow/dossierflow/pkg/store/sqlitetest"
	"github.com/dossierflow/dossierflow/pkg/workflow"
)

type world struct {
	store     *postgres.Store
	engine    *workflow.Engine
	listing   *listing.Service
	urbanisme *model.Division
	finances  *model.Division
	permis    *model.Service
	budget    *model.Service
	alice     *model.User
	bob       *model.User
}

func newWorld(t *testing.T) *world {
	t.Helper()
	store := sqlitetest.Open(t)
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	engine := workflow.NewEngine(store, nil, zap.NewNop(), workflow.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))

	urbanisme := sqlitetest.Division(t, store, "Urbanisme")
	finances := sqlitetest.Division(t, store, "Finances")
	agents := sqlitetest.Profile(t, store, model.ProfileFonctionnaire)

	return &world{
		store:     store,
		engine:    engine,
		listing:   listing.NewService(store),
		urbanisme: urbanisme,
		finances:  finances,
		permis:    sqlitetest.Service(t, store, "Permis", urbanisme),
		budget:    sqlitetest.Service(t, store, "Budget", finances),
		alice:     sqlitetest.User(t, store, "alice", agents),
		bob:       sqlitetest.User(t, store, "bob", agents),
	}
}

func (w *world) create(t *testing.T, title string, service *model.Service, owner *model.User, labels ...model.SituationLabel) *model.Dossier {
	t.Helper()
	ctx := context.Background()
	serviceID := service.ID
	created, err := w.engine.CreateDossier(ctx, workflow.NewDossier{
		Title:      title,
		DivisionID: service.DivisionID,
		ServiceID:  &serviceID,
	}, owner.ID)
	if err != nil {
		t.Fatalf("CreateDossier(%q) error: %v", title, err)
	}
	for _, label := range labels {
		if _, err := w.engine.ChangeState(ctx, created.Dossier.ID, label, nil, owner.ID); err != nil {
			t.Fatalf("ChangeState(%q) error: %v", label, err)
		}
	}
	return created.Dossier
}

func TestListAppliesScopeUnderEveryFilter(t *testing.T) {
	w := newWorld(t)
	w.create(t, "Permis A", w.permis, w.alice)
	w.create(t, "Permis B", w.permis, w.bob, model.LabelEnCours)
	w.create(t, "Permis C", w.permis, w.bob, model.LabelTermine)
	w.create(t, "Budget permis", w.budget, w.alice, model.LabelEnCours)
	w.create(t, "Budget 2025", w.budget, w.bob, model.LabelTermine)

	scopes := []access.Scope{
		{Kind: access.ScopeDivision, DivisionID: w.urbanisme.ID},
		{Kind: access.ScopeService, ServiceID: w.budget.ID},
		{Kind: access.ScopeOwner, UserID: w.alice.ID},
	}
	statuses := []model.StatusFilter{model.StatusAll, model.StatusNew, model.StatusProgress, model.StatusCompleted}
	searches := []string{"", "permis", "BUDGET"}

	for _, scope := range scopes {
		for _, status := range statuses {
			for _, search := range searches {
				for _, size := range []int{1, 2, 10} {
					name := fmt.Sprintf("%s/%s/%q/%d", scope.Kind, status, search, size)
					page, err := w.listing.List(context.Background(), listing.Filter{
						Scope: scope, Search: search, Status: status, Page: 1, PageSize: size,
					})
					if err != nil {
						t.Fatalf("%s: List() error: %v", name, err)
					}
					for _, entry := range page.Dossiers {
						if !scope.Allows(&entry.Dossier) {
							t.Fatalf("%s: dossier %d escaped scope", name, entry.ID)
						}
						if entry.Current == nil || !status.Matches(entry.Current.Label) {
							t.Fatalf("%s: dossier %d has status %+v", name, entry.ID, entry.Current)
						}
					}
				}
			}
		}
	}
}

func TestListStatusFilters(t *testing.T) {
	w := newWorld(t)
	w.create(t, "fresh", w.permis, w.alice)
	w.create(t, "working", w.permis, w.alice, model.LabelEnCours)
	w.create(t, "paused", w.permis, w.alice, model.LabelEnCours, model.LabelSuspendu)
	w.create(t, "done", w.permis, w.alice, model.LabelEnCours, model.LabelTermine)

	all := access.Scope{Kind: access.ScopeAll}
	cases := map[model.StatusFilter]int64{
		model.StatusAll:       4,
		model.StatusNew:       1,
		model.StatusProgress:  2,
		model.StatusCompleted: 1,
	}
	for status, want := range cases {
		page, err := w.listing.List(context.Background(), listing.Filter{Scope: all, Status: status})
		if err != nil {
			t.Fatalf("List(%s) error: %v", status, err)
		}
		if page.Total != want || int64(len(page.Dossiers)) != want {
			t.Fatalf("status %q: expected %d dossiers, got total %d and %d rows", status, want, page.Total, len(page.Dossiers))
		}
	}
}

func TestListPagination(t *testing.T) {
	w := newWorld(t)
	for i := 0; i < 7; i++ {
		w.create(t, fmt.Sprintf("Dossier %d", i), w.permis, w.alice)
	}
	all := access.Scope{Kind: access.ScopeAll}

	page, err := w.listing.List(context.Background(), listing.Filter{Scope: all, Page: 3, PageSize: 3})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if page.Total != 7 || page.TotalPages != 3 || len(page.Dossiers) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Dossiers[0].Title != "Dossier 0" {
		t.Fatalf("expected oldest dossier on the last page, got %q", page.Dossiers[0].Title)
	}

	defaults, err := w.listing.List(context.Background(), listing.Filter{Scope: all, Page: -2, PageSize: 5000})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if defaults.Page != 1 || defaults.PageSize != listing.MaxPageSize {
		t.Fatalf("expected clamped paging, got page %d size %d", defaults.Page, defaults.PageSize)
	}
}

func TestListWithEmptyScopeReturnsNothing(t *testing.T) {
	w := newWorld(t)
	w.create(t, "Permis A", w.permis, w.alice)

	page, err := w.listing.List(context.Background(), listing.Filter{Scope: access.Scope{Kind: access.ScopeNone}})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if page.Total != 0 || len(page.Dossiers) != 0 {
		t.Fatalf("expected no dossiers, got %+v", page)
	}
}

func TestGetHonoursScope(t *testing.T) {
	w := newWorld(t)
	dossier := w.create(t, "Permis A", w.permis, w.alice, model.LabelEnCours)
	ctx := context.Background()

	entry, err := w.listing.Get(ctx, access.Scope{Kind: access.ScopeOwner, UserID: w.alice.ID}, dossier.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if entry.Current == nil || entry.Current.Label != model.LabelEnCours {
		t.Fatalf("unexpected current situation %+v", entry.Current)
	}

	_, err = w.listing.Get(ctx, access.Scope{Kind: access.ScopeOwner, UserID: w.bob.ID}, dossier.ID)
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found outside scope, got %v", err)
	}
	_, err = w.listing.Get(ctx, access.Scope{Kind: access.ScopeDivision, DivisionID: w.finances.ID}, dossier.ID)
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found for other division, got %v", err)
	}
}

func TestDashboard(t *testing.T) {
	w := newWorld(t)
	w.create(t, "a", w.permis, w.alice, model.LabelEnCours)
	w.create(t, "b", w.permis, w.alice, model.LabelEnRetard)
	w.create(t, "c", w.permis, w.bob, model.LabelTermine)
	w.create(t, "d", w.budget, w.bob, model.LabelEnRetard)

	stats, err := w.listing.Dashboard(context.Background(), access.Scope{Kind: access.ScopeAll})
	if err != nil {
		t.Fatalf("Dashboard() error: %v", err)
	}
	if stats.Totals.InProgress != 1 || stats.Totals.Completed != 1 || stats.Totals.Late != 2 {
		t.Fatalf("unexpected totals %+v", stats.Totals)
	}
	if len(stats.Alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(stats.Alerts))
	}
	if len(stats.Recent) != 4 || stats.Recent[0].Title != "d" {
		t.Fatalf("unexpected recent list %+v", stats.Recent)
	}
	if len(stats.ByDivision) != 2 || stats.ByDivision[0].Count != 3 || stats.ByDivision[1].Count != 1 {
		t.Fatalf("unexpected division counts %+v", stats.ByDivision)
	}

	scoped, err := w.listing.Dashboard(context.Background(), access.Scope{Kind: access.ScopeService, ServiceID: w.budget.ID})
	if err != nil {
		t.Fatalf("Dashboard() error: %v", err)
	}
	if scoped.Totals.Late != 1 || scoped.Totals.InProgress != 0 || len(scoped.Recent) != 1 {
		t.Fatalf("unexpected scoped dashboard %+v", scoped)
	}
}

func TestSearchSituationsHonoursScope(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	permis := w.create(t, "Permis A", w.permis, w.alice, model.LabelEnCours)
	w.create(t, "Budget B", w.budget, w.bob, model.LabelEnCours, model.LabelEnRetard)

	page, err := w.listing.SearchSituations(ctx, listing.SituationFilter{Scope: access.Scope{Kind: access.ScopeAll}})
	if err != nil {
		t.Fatalf("SearchSituations() error: %v", err)
	}
	if page.Total != 5 || len(page.Situations) != 5 {
		t.Fatalf("expected 5 situations overall, got total=%d len=%d", page.Total, len(page.Situations))
	}
	if page.Situations[0].Label != model.LabelEnRetard {
		t.Fatalf("expected newest situation first, got %q", page.Situations[0].Label)
	}

	scoped, err := w.listing.SearchSituations(ctx, listing.SituationFilter{
		Scope: access.Scope{Kind: access.ScopeDivision, DivisionID: w.urbanisme.ID},
	})
	if err != nil {
		t.Fatalf("SearchSituations() error: %v", err)
	}
	if scoped.Total != 2 {
		t.Fatalf("expected 2 situations in urbanisme, got %d", scoped.Total)
	}
	for _, entry := range scoped.Situations {
		if entry.Dossier == nil || entry.Dossier.ID != permis.ID {
			t.Fatalf("situation %d leaked from dossier %+v", entry.ID, entry.Dossier)
		}
		if entry.User == nil || entry.User.ID != w.alice.ID {
			t.Fatalf("expected author preloaded, got %+v", entry.User)
		}
	}

	none, err := w.listing.SearchSituations(ctx, listing.SituationFilter{Scope: access.Scope{Kind: access.ScopeNone}})
	if err != nil {
		t.Fatalf("SearchSituations() error: %v", err)
	}
	if none.Total != 0 || len(none.Situations) != 0 {
		t.Fatalf("expected nothing under an empty scope, got %d", none.Total)
	}
}

func TestSearchSituationsFilters(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	dossier := w.create(t, "Permis A", w.permis, w.alice)
	observation := "Pièces manquantes: plan cadastral"
	if _, err := w.engine.ChangeState(ctx, dossier.ID, model.LabelSuspendu, &observation, w.alice.ID); err != nil {
		t.Fatalf("ChangeState() error: %v", err)
	}
	w.create(t, "Budget B", w.budget, w.bob, model.LabelSuspendu)

	all := access.Scope{Kind: access.ScopeAll}
	tests := []struct {
		name   string
		filter listing.SituationFilter
		want   int64
	}{
		{name: "label", filter: listing.SituationFilter{Scope: all, Label: model.LabelSuspendu}, want: 2},
		{name: "search observation", filter: listing.SituationFilter{Scope: all, Search: "CADASTRAL"}, want: 1},
		{name: "search label", filter: listing.SituationFilter{Scope: all, Search: "suspendu"}, want: 2},
		{name: "division", filter: listing.SituationFilter{Scope: all, DivisionID: &w.finances.ID}, want: 2},
		{name: "service", filter: listing.SituationFilter{Scope: all, ServiceID: &w.permis.ID}, want: 2},
		{name: "label inside scope", filter: listing.SituationFilter{
			Scope: access.Scope{Kind: access.ScopeOwner, UserID: w.bob.ID},
			Label: model.LabelSuspendu,
		}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := w.listing.SearchSituations(ctx, tt.filter)
			if err != nil {
				t.Fatalf("SearchSituations() error: %v", err)
			}
			if page.Total != tt.want || int64(len(page.Situations)) != tt.want {
				t.Fatalf("expected %d situations, got total=%d len=%d", tt.want, page.Total, len(page.Situations))
			}
		})
	}
}

func TestSearchSituationsDateRangeAndPaging(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.create(t, "Permis A", w.permis, w.alice, model.LabelEnCours, model.LabelSuspendu, model.LabelEnCours)

	first, err := w.listing.SearchSituations(ctx, listing.SituationFilter{Scope: access.Scope{Kind: access.ScopeAll}})
	if err != nil {
		t.Fatalf("SearchSituations() error: %v", err)
	}
	if first.Total != 4 {
		t.Fatalf("expected 4 situations, got %d", first.Total)
	}
	newest := first.Situations[0].Date
	oldest := first.Situations[3].Date

	from := oldest.Add(time.Second)
	to := newest.Add(-time.Second)
	ranged, err := w.listing.SearchSituations(ctx, listing.SituationFilter{
		Scope: access.Scope{Kind: access.ScopeAll},
		From:  &from,
		To:    &to,
	})
	if err != nil {
		t.Fatalf("SearchSituations() error: %v", err)
	}
	if ranged.Total != 2 {
		t.Fatalf("expected 2 situations inside the range, got %d", ranged.Total)
	}

	paged, err := w.listing.SearchSituations(ctx, listing.SituationFilter{
		Scope:    access.Scope{Kind: access.ScopeAll},
		Page:     2,
		PageSize: 3,
	})
	if err != nil {
		t.Fatalf("SearchSituations() error: %v", err)
	}
	if paged.TotalPages != 2 || len(paged.Situations) != 1 || paged.Situations[0].Label != model.InitialLabel {
		t.Fatalf("unexpected second page %+v", paged)
	}
}

func TestSituationsDashboardIsPersonal(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.create(t, "a", w.permis, w.alice, model.LabelEnCours)
	w.create(t, "b", w.permis, w.alice, model.LabelEnCours, model.LabelTermine)
	w.create(t, "c", w.budget, w.bob, model.LabelEnRetard)

	now := time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)
	board, err := w.listing.SituationsDashboardAt(ctx, w.alice.ID, now)
	if err != nil {
		t.Fatalf("SituationsDashboard() error: %v", err)
	}
	if len(board.Dossiers) != 2 {
		t.Fatalf("expected alice's 2 dossiers, got %d", len(board.Dossiers))
	}
	if board.Dossiers[0].Current == nil || board.Dossiers[0].Current.Label != model.LabelTermine {
		t.Fatalf("expected latest dossier first with its current situation, got %+v", board.Dossiers[0])
	}

	counts := make(map[string]int64)
	for _, row := range board.Statistics {
		counts[row.Label] = row.Count
	}
	if counts[string(model.LabelNouveau)] != 2 || counts[string(model.LabelEnCours)] != 2 || counts[string(model.LabelTermine)] != 1 {
		t.Fatalf("unexpected label counts %+v", board.Statistics)
	}
	if _, ok := counts[string(model.LabelEnRetard)]; ok {
		t.Fatalf("bob's situations counted for alice: %+v", board.Statistics)
	}
	if len(board.RecentlyModified) != 2 {
		t.Fatalf("expected 2 recently modified dossiers, got %d", len(board.RecentlyModified))
	}

	later, err := w.listing.SituationsDashboardAt(ctx, w.alice.ID, now.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("SituationsDashboard() error: %v", err)
	}
	if len(later.Dossiers) != 2 || len(later.RecentlyModified) != 0 {
		t.Fatalf("expected nothing recent a month later, got %d", len(later.RecentlyModified))
	}
}
