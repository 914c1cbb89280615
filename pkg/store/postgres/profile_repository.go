package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dossierflow/dossierflow/pkg/model"
)

type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) List(ctx context.Context) ([]model.Profile, error) {
	var profiles []model.Profile
	if err := r.db.WithContext(ctx).Order("id_profile ASC").Find(&profiles).Error; err != nil {
		return nil, err
	}
	for i := range profiles {
		perms, err := r.Permissions(ctx, profiles[i].ID)
		if err != nil {
			return nil, err
		}
		profiles[i].Permissions = perms
	}
	return profiles, nil
}

func (r *ProfileRepository) GetByID(ctx context.Context, id uint) (*model.Profile, error) {
	var profile model.Profile
	if err := r.db.WithContext(ctx).First(&profile, "id_profile = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	perms, err := r.Permissions(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	profile.Permissions = perms
	return &profile, nil
}

func (r *ProfileRepository) GetByName(ctx context.Context, name string) (*model.Profile, error) {
	var profile model.Profile
	if err := r.db.WithContext(ctx).First(&profile, "name = ?", name).Error; err != nil {
		return nil, translate(err)
	}
	return &profile, nil
}

func (r *ProfileRepository) Create(ctx context.Context, profile *model.Profile) error {
	return r.db.WithContext(ctx).Create(profile).Error
}

func (r *ProfileRepository) Permissions(ctx context.Context, profileID uint) ([]model.Permission, error) {
	var perms []model.Permission
	err := r.db.WithContext(ctx).
		Joins("JOIN profile_permissions pp ON pp.id_permission = permissions.id_permission").
		Where("pp.id_profile = ?", profileID).
		Order("permissions.code_name ASC").
		Find(&perms).Error
	return perms, err
}

func (r *ProfileRepository) PermissionCodes(ctx context.Context, profileID uint) ([]string, error) {
	var codes []string
	err := r.db.WithContext(ctx).Model(&model.Permission{}).
		Joins("JOIN profile_permissions pp ON pp.id_permission = permissions.id_permission").
		Where("pp.id_profile = ?", profileID).
		Order("permissions.code_name ASC").
		Pluck("permissions.code_name", &codes).Error
	return codes, err
}

// Grant links the profile to the given permissions. Existing links are kept.
func (r *ProfileRepository) Grant(ctx context.Context, profileID uint, permissionIDs []uint) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	links := make([]model.ProfilePermission, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		links = append(links, model.ProfilePermission{ProfileID: profileID, PermissionID: id})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}

type PermissionRepository struct {
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

func (r *PermissionRepository) List(ctx context.Context) ([]model.Permission, error) {
	var perms []model.Permission
	err := r.db.WithContext(ctx).Order("code_name ASC").Find(&perms).Error
	return perms, err
}

func (r *PermissionRepository) Create(ctx context.Context, perm *model.Permission) error {
	return r.db.WithContext(ctx).Create(perm).Error
}

func (r *PermissionRepository) GetByCode(ctx context.Context, code string) (*model.Permission, error) {
	var perm model.Permission
	if err := r.db.WithContext(ctx).First(&perm, "code_name = ?", code).Error; err != nil {
		return nil, translate(err)
	}
	return &perm, nil
}

func (r *PermissionRepository) FindByCodes(ctx context.Context, codes []string) ([]model.Permission, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	var perms []model.Permission
	err := r.db.WithContext(ctx).Where("code_name IN ?", codes).Find(&perms).Error
	return perms, err
}
