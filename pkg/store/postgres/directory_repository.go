package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/dossierflow/dossierflow/pkg/model"
)

type DivisionRepository struct {
	db *gorm.DB
}

func NewDivisionRepository(db *gorm.DB) *DivisionRepository {
	return &DivisionRepository{db: db}
}

func (r *DivisionRepository) List(ctx context.Context) ([]model.Division, error) {
	var divisions []model.Division
	err := r.db.WithContext(ctx).
		Preload("Services", func(db *gorm.DB) *gorm.DB {
			return db.Order("id_service ASC")
		}).
		Order("id_division ASC").
		Find(&divisions).Error
	return divisions, err
}

func (r *DivisionRepository) GetByID(ctx context.Context, id uint) (*model.Division, error) {
	var division model.Division
	err := r.db.WithContext(ctx).
		Preload("Services", func(db *gorm.DB) *gorm.DB {
			return db.Order("id_service ASC")
		}).
		First(&division, "id_division = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &division, nil
}

func (r *DivisionRepository) Create(ctx context.Context, division *model.Division) error {
	return r.db.WithContext(ctx).Omit("Services").Create(division).Error
}

func (r *DivisionRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&model.Division{}).Where("id_division = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DivisionRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Where("id_division = ?", id).Delete(&model.Division{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DivisionRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Division{}).Where("id_division = ?", id).Count(&count).Error
	return count > 0, err
}

type ServiceRepository struct {
	db *gorm.DB
}

func NewServiceRepository(db *gorm.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

func (r *ServiceRepository) List(ctx context.Context, divisionID *uint) ([]model.Service, error) {
	var services []model.Service
	query := r.db.WithContext(ctx).Preload("Division")
	if divisionID != nil {
		query = query.Where("id_division = ?", *divisionID)
	}
	err := query.Order("id_service ASC").Find(&services).Error
	return services, err
}

func (r *ServiceRepository) GetByID(ctx context.Context, id uint) (*model.Service, error) {
	var service model.Service
	err := r.db.WithContext(ctx).Preload("Division").First(&service, "id_service = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &service, nil
}

func (r *ServiceRepository) Create(ctx context.Context, service *model.Service) error {
	return r.db.WithContext(ctx).Omit("Division").Create(service).Error
}

func (r *ServiceRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&model.Service{}).Where("id_service = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ServiceRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Where("id_service = ?", id).Delete(&model.Service{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ServiceRepository) CountByDivision(ctx context.Context, divisionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Service{}).Where("id_division = ?", divisionID).Count(&count).Error
	return count, err
}
