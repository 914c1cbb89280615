// Package seed installs the reference permissions and profiles and the
// first administrator account. Every step is idempotent.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/auth"
	"github.com/dossierflow/dossierflow/pkg/config"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

type PermissionDef struct {
	Code string
	Name string
}

var permissions = []PermissionDef{
	{access.CreateDossier, "Créer dossier"},
	{access.ViewDossiers, "Voir dossiers"},
	{access.ViewDossier, "Voir dossier spécifique"},
	{access.UpdateDossier, "Modifier dossier"},
	{access.DeleteDossier, "Supprimer dossier"},
	{access.EditEtat, "Modifier les états"},
	{access.ViewInstruction, "Voir instruction"},
	{access.AddInstruction, "Ajouter instruction"},
	{access.EditInstruction, "Modifier instruction"},
	{access.DeleteInstruction, "Supprimer instruction"},
	{access.ViewDivision, "Voir les divisions"},
	{access.AddDivision, "Ajouter une division"},
	{access.EditDivision, "Modifier une division"},
	{access.DeleteDivision, "Supprimer une division"},
	{access.ViewService, "Voir les services"},
	{access.AddService, "Ajouter un service"},
	{access.EditService, "Modifier un service"},
	{access.DeleteService, "Supprimer un service"},
	{access.ManageUsers, "Gérer les utilisateurs"},
	{access.ViewReporting, "Voir le reporting"},
}

type ProfileDef struct {
	Name        string
	Description string
	Codes       []string
}

var chefCodes = []string{
	access.CreateDossier, access.ViewDossiers, access.ViewDossier, access.UpdateDossier,
	access.DeleteDossier, access.EditEtat, access.ViewInstruction, access.AddInstruction,
	access.ViewDivision, access.ViewService, access.ViewReporting,
}

var executiveCodes = []string{
	access.ViewDossiers, access.ViewDossier, access.ViewInstruction, access.AddInstruction,
	access.DeleteInstruction, access.ViewDivision, access.ViewService, access.ViewReporting,
}

var profiles = []ProfileDef{
	{model.ProfileAdmin, "Super admin", access.AllPermissions()},
	{model.ProfileChef, "Chef de division", chefCodes},
	{model.ProfileChefService, "Chef de service", chefCodes},
	{model.ProfileFonctionnaire, "Fonctionnaire standard", []string{
		access.CreateDossier, access.ViewDossiers, access.ViewDossier, access.ViewInstruction,
		access.ViewDivision, access.ViewService, access.ViewReporting,
	}},
	{model.ProfileSG, "Secrétaire Général", executiveCodes},
	{model.ProfileCabinetGouv, "Cabinet du Gouverneur", executiveCodes},
	{model.ProfileGouv, "Gouverneur", executiveCodes},
}

func Permissions() []PermissionDef {
	out := make([]PermissionDef, len(permissions))
	copy(out, permissions)
	return out
}

func Profiles() []ProfileDef {
	out := make([]ProfileDef, len(profiles))
	copy(out, profiles)
	return out
}

type Seeder struct {
	store      *postgres.Store
	bcryptCost int
	logger     *zap.Logger
}

func NewSeeder(store *postgres.Store, bcryptCost int, logger *zap.Logger) *Seeder {
	return &Seeder{store: store, bcryptCost: bcryptCost, logger: logger}
}

// Run installs permissions, profiles and grants, then the administrator
// when cfg carries a password.
func (s *Seeder) Run(ctx context.Context, cfg config.SeedConfig) error {
	if err := s.store.Transaction(ctx, s.reference(ctx)); err != nil {
		return fmt.Errorf("seed reference data: %w", err)
	}
	if strings.TrimSpace(cfg.AdminPassword) == "" {
		s.logger.Warn("seed.admin_password is empty, administrator not created")
		return nil
	}
	return s.admin(ctx, cfg)
}

func (s *Seeder) reference(ctx context.Context) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		perms := postgres.NewPermissionRepository(tx)
		ids := make(map[string]uint, len(permissions))
		for _, def := range permissions {
			perm, err := perms.GetByCode(ctx, def.Code)
			if errors.Is(err, postgres.ErrNotFound) {
				perm = &model.Permission{Code: def.Code, Name: def.Name}
				err = perms.Create(ctx, perm)
			}
			if err != nil {
				return fmt.Errorf("permission %s: %w", def.Code, err)
			}
			ids[def.Code] = perm.ID
		}

		repo := postgres.NewProfileRepository(tx)
		for _, def := range profiles {
			profile, err := repo.GetByName(ctx, def.Name)
			if errors.Is(err, postgres.ErrNotFound) {
				profile = &model.Profile{Name: def.Name, Description: def.Description, IsActive: true}
				err = repo.Create(ctx, profile)
			}
			if err != nil {
				return fmt.Errorf("profile %s: %w", def.Name, err)
			}

			grants := make([]uint, 0, len(def.Codes))
			for _, code := range def.Codes {
				grants = append(grants, ids[code])
			}
			if err := repo.Grant(ctx, profile.ID, grants); err != nil {
				return fmt.Errorf("grant %s: %w", def.Name, err)
			}
		}
		s.logger.Info("reference data installed",
			zap.Int("permissions", len(permissions)),
			zap.Int("profiles", len(profiles)),
		)
		return nil
	}
}

func (s *Seeder) admin(ctx context.Context, cfg config.SeedConfig) error {
	db := s.store.DB()
	users := postgres.NewUserRepository(db)
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))

	if _, err := users.GetByEmail(ctx, email); err == nil {
		s.logger.Info("administrator already exists", zap.String("email", email))
		return nil
	} else if !errors.Is(err, postgres.ErrNotFound) {
		return fmt.Errorf("look up administrator: %w", err)
	}

	profile, err := postgres.NewProfileRepository(db).GetByName(ctx, model.ProfileAdmin)
	if err != nil {
		return fmt.Errorf("load admin profile: %w", err)
	}
	hash, err := auth.HashPassword(cfg.AdminPassword, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin := &model.User{
		Username:     cfg.AdminUsername,
		Email:        email,
		PasswordHash: hash,
		ProfileID:    profile.ID,
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return fmt.Errorf("create administrator: %w", err)
	}
	s.logger.Info("administrator created", zap.Uint("user_id", admin.ID), zap.String("email", email))
	return nil
}
