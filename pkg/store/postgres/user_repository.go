package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dossierflow/dossierflow/pkg/model"
)

var ErrNotFound = errors.New("record not found")

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Omit("Profile", "Division", "Service").Create(user).Error
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Preload("Profile").
		Preload("Division").
		Preload("Service").
		First(&user, "id_user = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Preload("Profile").
		First(&user, "email = ?", email).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *UserRepository) EmailTaken(ctx context.Context, email string, exceptID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("email = ? AND id_user <> ?", email, exceptID).
		Count(&count).Error
	return count > 0, err
}

func (r *UserRepository) UsernameTaken(ctx context.Context, username string, exceptID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("username = ? AND id_user <> ?", username, exceptID).
		Count(&count).Error
	return count > 0, err
}

func (r *UserRepository) List(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := r.db.WithContext(ctx).
		Preload("Profile").
		Preload("Division").
		Preload("Service").
		Order("id_user ASC").
		Find(&users).Error
	return users, err
}

func (r *UserRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&model.User{}).Where("id_user = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the user together with every notification addressed to it.
func (r *UserRepository) Delete(ctx context.Context, id uint) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("user_id = ?", id).Delete(&model.Notification{}).Error; err != nil {
		return err
	}
	result := db.Where("id_user = ?", id).Delete(&model.User{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadIdentity returns the user with its profile and the permission codes
// granted to that profile.
func (r *UserRepository) LoadIdentity(ctx context.Context, id uint) (*model.User, []string, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	codes, err := NewProfileRepository(r.db).PermissionCodes(ctx, user.ProfileID)
	if err != nil {
		return nil, nil, err
	}
	return user, codes, nil
}

func (r *UserRepository) ActiveIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("is_active = ?", true).
		Order("id_user ASC").
		Pluck("id_user", &ids).Error
	return ids, err
}

func (r *UserRepository) ActiveIDsByProfiles(ctx context.Context, profiles []string) ([]uint, error) {
	if len(profiles) == 0 {
		return nil, nil
	}
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Joins("JOIN profiles ON profiles.id_profile = users.id_profile").
		Where("users.is_active = ? AND profiles.name IN ?", true, profiles).
		Order("users.id_user ASC").
		Pluck("users.id_user", &ids).Error
	return ids, err
}

func (r *UserRepository) CountByDivision(ctx context.Context, divisionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("id_division = ?", divisionID).Count(&count).Error
	return count, err
}

func (r *UserRepository) CountByService(ctx context.Context, serviceID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("id_service = ?", serviceID).Count(&count).Error
	return count, err
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
