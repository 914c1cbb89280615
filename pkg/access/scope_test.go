package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
	"github.com/dossierflow/dossierflow/pkg/store/sqlitetest"
)

func uintPtr(v uint) *uint { return &v }

func TestScopeForProfiles(t *testing.T) {
	policy := access.DefaultScopePolicy()
	division := uint(3)
	service := uint(8)

	cases := []struct {
		profile string
		user    access.UserContext
		want    access.ScopeKind
	}{
		{model.ProfileAdmin, access.UserContext{}, access.ScopeAll},
		{model.ProfileSG, access.UserContext{}, access.ScopeAll},
		{model.ProfileCabinetGouv, access.UserContext{}, access.ScopeAll},
		{model.ProfileChef, access.UserContext{DivisionID: &division}, access.ScopeDivision},
		{model.ProfileChef, access.UserContext{}, access.ScopeNone},
		{model.ProfileChefService, access.UserContext{ServiceID: &service}, access.ScopeService},
		{model.ProfileFonctionnaire, access.UserContext{UserID: 5}, access.ScopeOwner},
	}

	for _, tc := range cases {
		user := tc.user
		user.ProfileName = tc.profile
		if got := policy.ScopeFor(&user).Kind; got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.profile, tc.want, got)
		}
	}
}

func TestScopeFiltersDossiers(t *testing.T) {
	store := sqlitetest.Open(t)
	ctx := context.Background()

	profile := sqlitetest.Profile(t, store, model.ProfileFonctionnaire)
	alice := sqlitetest.User(t, store, "alice", profile)
	bob := sqlitetest.User(t, store, "bob", profile)
	finance := sqlitetest.Division(t, store, "Finances")
	works := sqlitetest.Division(t, store, "Travaux")
	audit := sqlitetest.Service(t, store, "Audit", finance)

	now := time.Now().UTC()
	repo := postgres.NewDossierRepository(store.DB())
	create := func(title string, division *model.Division, service *model.Service, owner *model.User) *model.Dossier {
		d := &model.Dossier{Title: title, DivisionID: division.ID, UserID: owner.ID, CreatedOn: now, ModifiedOn: now}
		if service != nil {
			d.ServiceID = uintPtr(service.ID)
		}
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("create dossier: %v", err)
		}
		return d
	}

	d1 := create("A", finance, audit, alice)
	d2 := create("B", finance, nil, bob)
	d3 := create("C", works, nil, alice)

	cases := []struct {
		name  string
		scope access.Scope
		want  []uint
	}{
		{"all", access.Scope{Kind: access.ScopeAll}, []uint{d1.ID, d2.ID, d3.ID}},
		{"division", access.Scope{Kind: access.ScopeDivision, DivisionID: finance.ID}, []uint{d1.ID, d2.ID}},
		{"service", access.Scope{Kind: access.ScopeService, ServiceID: audit.ID}, []uint{d1.ID}},
		{"owner", access.Scope{Kind: access.ScopeOwner, UserID: alice.ID}, []uint{d1.ID, d3.ID}},
		{"none", access.Scope{Kind: access.ScopeNone}, nil},
	}

	for _, tc := range cases {
		dossiers, total, err := repo.List(ctx, postgres.DossierQuery{Scope: tc.scope.Apply})
		if err != nil {
			t.Fatalf("%s: List() error: %v", tc.name, err)
		}
		if int(total) != len(tc.want) || len(dossiers) != len(tc.want) {
			t.Fatalf("%s: expected %d dossiers, got %d (total %d)", tc.name, len(tc.want), len(dossiers), total)
		}
		seen := map[uint]bool{}
		for _, d := range dossiers {
			seen[d.ID] = true
			if !tc.scope.Allows(&d) {
				t.Fatalf("%s: Allows disagrees with Apply for dossier %d", tc.name, d.ID)
			}
		}
		for _, id := range tc.want {
			if !seen[id] {
				t.Fatalf("%s: expected dossier %d in results", tc.name, id)
			}
		}
	}
}
