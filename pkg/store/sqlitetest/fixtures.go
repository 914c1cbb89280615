package sqlitetest

import (
	"context"
	"testing"

	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

// Profile creates a profile granted the given permission codes, creating
// missing permissions on the way.
func Profile(t testing.TB, store *postgres.Store, name string, codes ...string) *model.Profile {
	t.Helper()
	ctx := context.Background()

	profile := &model.Profile{Name: name, IsActive: true}
	profiles := postgres.NewProfileRepository(store.DB())
	if err := profiles.Create(ctx, profile); err != nil {
		t.Fatalf("create profile %s: %v", name, err)
	}

	perms := postgres.NewPermissionRepository(store.DB())
	ids := make([]uint, 0, len(codes))
	for _, code := range codes {
		perm, err := perms.GetByCode(ctx, code)
		if err == postgres.ErrNotFound {
			perm = &model.Permission{Name: code, Code: code}
			err = perms.Create(ctx, perm)
		}
		if err != nil {
			t.Fatalf("permission %s: %v", code, err)
		}
		ids = append(ids, perm.ID)
	}
	if err := profiles.Grant(ctx, profile.ID, ids); err != nil {
		t.Fatalf("grant %s: %v", name, err)
	}
	return profile
}

type UserOption func(*model.User)

func InDivision(id uint) UserOption {
	return func(u *model.User) { u.DivisionID = &id }
}

func InService(id uint) UserOption {
	return func(u *model.User) { u.ServiceID = &id }
}

func Inactive() UserOption {
	return func(u *model.User) { u.IsActive = false }
}

func User(t testing.TB, store *postgres.Store, username string, profile *model.Profile, opts ...UserOption) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		ProfileID:    profile.ID,
		IsActive:     true,
	}
	for _, opt := range opts {
		opt(user)
	}
	if err := postgres.NewUserRepository(store.DB()).Create(context.Background(), user); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

func Division(t testing.TB, store *postgres.Store, label string) *model.Division {
	t.Helper()
	division := &model.Division{LabelFr: label, LabelAr: label}
	if err := postgres.NewDivisionRepository(store.DB()).Create(context.Background(), division); err != nil {
		t.Fatalf("create division %s: %v", label, err)
	}
	return division
}

func Service(t testing.TB, store *postgres.Store, label string, division *model.Division) *model.Service {
	t.Helper()
	service := &model.Service{LabelFr: label, LabelAr: label, DivisionID: division.ID}
	if err := postgres.NewServiceRepository(store.DB()).Create(context.Background(), service); err != nil {
		t.Fatalf("create service %s: %v", label, err)
	}
	return service
}
