// Package directory manages the two-level organisation (divisions and
// their services) that owns dossiers and scopes access to them.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

type DivisionInput struct {
	LabelFr *string
	LabelAr *string
}

type ServiceInput struct {
	LabelFr    *string
	LabelAr    *string
	DivisionID *uint
}

type Directory struct {
	store  *postgres.Store
	logger *zap.Logger
}

func New(store *postgres.Store, logger *zap.Logger) *Directory {
	return &Directory{store: store, logger: logger}
}

func (d *Directory) Divisions(ctx context.Context) ([]model.Division, error) {
	return postgres.NewDivisionRepository(d.store.DB()).List(ctx)
}

func (d *Directory) Division(ctx context.Context, id uint) (*model.Division, error) {
	division, err := postgres.NewDivisionRepository(d.store.DB()).GetByID(ctx, id)
	if err != nil {
		return nil, divisionError(err)
	}
	return division, nil
}

func (d *Directory) CreateDivision(ctx context.Context, in DivisionInput) (*model.Division, error) {
	labelFr, labelAr := trimmed(in.LabelFr), trimmed(in.LabelAr)
	if labelFr == "" || labelAr == "" {
		return nil, apperror.Validation("lib_division_fr et lib_division_ar sont requis")
	}
	division := &model.Division{LabelFr: labelFr, LabelAr: labelAr}
	if err := postgres.NewDivisionRepository(d.store.DB()).Create(ctx, division); err != nil {
		return nil, fmt.Errorf("create division: %w", err)
	}
	d.logger.Info("division created", zap.Uint("division_id", division.ID))
	return division, nil
}

func (d *Directory) UpdateDivision(ctx context.Context, id uint, in DivisionInput) (*model.Division, error) {
	updates := map[string]interface{}{}
	if in.LabelFr != nil {
		label := trimmed(in.LabelFr)
		if label == "" {
			return nil, apperror.Validation("lib_division_fr ne peut pas être vide")
		}
		updates["lib_division_fr"] = label
	}
	if in.LabelAr != nil {
		label := trimmed(in.LabelAr)
		if label == "" {
			return nil, apperror.Validation("lib_division_ar ne peut pas être vide")
		}
		updates["lib_division_ar"] = label
	}

	if len(updates) == 0 {
		return d.Division(ctx, id)
	}
	if err := postgres.NewDivisionRepository(d.store.DB()).Update(ctx, id, updates); err != nil {
		return nil, divisionError(err)
	}
	return d.Division(ctx, id)
}

// DeleteDivision refuses to remove a division that services, dossiers or
// users still reference.
func (d *Directory) DeleteDivision(ctx context.Context, id uint) error {
	err := d.store.Transaction(ctx, func(tx *gorm.DB) error {
		divisions := postgres.NewDivisionRepository(tx)
		exists, err := divisions.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return postgres.ErrNotFound
		}

		services, err := postgres.NewServiceRepository(tx).CountByDivision(ctx, id)
		if err != nil {
			return err
		}
		dossiers, err := postgres.NewDossierRepository(tx).CountByDivision(ctx, id)
		if err != nil {
			return err
		}
		users, err := postgres.NewUserRepository(tx).CountByDivision(ctx, id)
		if err != nil {
			return err
		}
		if services > 0 || dossiers > 0 || users > 0 {
			return apperror.Conflict(fmt.Sprintf(
				"Division utilisée par %d service(s), %d dossier(s) et %d utilisateur(s)", services, dossiers, users))
		}
		return divisions.Delete(ctx, id)
	})
	if err != nil {
		return divisionError(err)
	}
	d.logger.Info("division deleted", zap.Uint("division_id", id))
	return nil
}

// Services lists services, optionally restricted to one division.
func (d *Directory) Services(ctx context.Context, divisionID *uint) ([]model.Service, error) {
	return postgres.NewServiceRepository(d.store.DB()).List(ctx, divisionID)
}

func (d *Directory) Service(ctx context.Context, id uint) (*model.Service, error) {
	service, err := postgres.NewServiceRepository(d.store.DB()).GetByID(ctx, id)
	if err != nil {
		return nil, serviceError(err)
	}
	return service, nil
}

func (d *Directory) CreateService(ctx context.Context, in ServiceInput) (*model.Service, error) {
	labelFr := trimmed(in.LabelFr)
	if labelFr == "" || in.DivisionID == nil {
		return nil, apperror.Validation("lib_service_fr et id_division sont requis")
	}
	if err := d.requireDivision(ctx, *in.DivisionID); err != nil {
		return nil, err
	}

	service := &model.Service{LabelFr: labelFr, LabelAr: trimmed(in.LabelAr), DivisionID: *in.DivisionID}
	if err := postgres.NewServiceRepository(d.store.DB()).Create(ctx, service); err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	d.logger.Info("service created", zap.Uint("service_id", service.ID), zap.Uint("division_id", service.DivisionID))
	return d.Service(ctx, service.ID)
}

func (d *Directory) UpdateService(ctx context.Context, id uint, in ServiceInput) (*model.Service, error) {
	updates := map[string]interface{}{}
	if in.LabelFr != nil {
		label := trimmed(in.LabelFr)
		if label == "" {
			return nil, apperror.Validation("lib_service_fr ne peut pas être vide")
		}
		updates["lib_service_fr"] = label
	}
	if in.LabelAr != nil {
		updates["lib_service_ar"] = trimmed(in.LabelAr)
	}
	if in.DivisionID != nil {
		if err := d.requireDivision(ctx, *in.DivisionID); err != nil {
			return nil, err
		}
		updates["id_division"] = *in.DivisionID
	}

	if len(updates) == 0 {
		return d.Service(ctx, id)
	}
	if err := postgres.NewServiceRepository(d.store.DB()).Update(ctx, id, updates); err != nil {
		return nil, serviceError(err)
	}
	return d.Service(ctx, id)
}

// DeleteService refuses to remove a service that dossiers or users still
// reference.
func (d *Directory) DeleteService(ctx context.Context, id uint) error {
	err := d.store.Transaction(ctx, func(tx *gorm.DB) error {
		services := postgres.NewServiceRepository(tx)
		if _, err := services.GetByID(ctx, id); err != nil {
			return err
		}

		dossiers, err := postgres.NewDossierRepository(tx).CountByService(ctx, id)
		if err != nil {
			return err
		}
		users, err := postgres.NewUserRepository(tx).CountByService(ctx, id)
		if err != nil {
			return err
		}
		if dossiers > 0 || users > 0 {
			return apperror.Conflict(fmt.Sprintf(
				"Service utilisé par %d dossier(s) et %d utilisateur(s)", dossiers, users))
		}
		return services.Delete(ctx, id)
	})
	if err != nil {
		return serviceError(err)
	}
	d.logger.Info("service deleted", zap.Uint("service_id", id))
	return nil
}

func (d *Directory) requireDivision(ctx context.Context, id uint) error {
	exists, err := postgres.NewDivisionRepository(d.store.DB()).Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("check division: %w", err)
	}
	if !exists {
		return apperror.NotFound("Division introuvable")
	}
	return nil
}

func divisionError(err error) error {
	if errors.Is(err, postgres.ErrNotFound) {
		return apperror.NotFound("Division introuvable")
	}
	if apperror.KindOf(err) != apperror.KindInternal {
		return err
	}
	return fmt.Errorf("division: %w", err)
}

func serviceError(err error) error {
	if errors.Is(err, postgres.ErrNotFound) {
		return apperror.NotFound("Service introuvable")
	}
	if apperror.KindOf(err) != apperror.KindInternal {
		return err
	}
	return fmt.Errorf("service: %w", err)
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
