package postgres

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/dossierflow/dossierflow/pkg/model"
)

// CurrentLabelExpr evaluates to the label of a dossier's current situation:
// latest date_situation, ties broken by the highest num_situation. Listing,
// dashboard and status lookups all resolve the current status through it.
const CurrentLabelExpr = `(SELECT cs.libelle_situation FROM situation_dossiers cs` +
	` WHERE cs.num_dossier = dossiers.num_dossier` +
	` ORDER BY cs.date_situation DESC, cs.num_situation DESC LIMIT 1)`

// LatestSituationOrder is the ordering that puts the current situation first.
const LatestSituationOrder = "date_situation DESC, num_situation DESC"

type DossierQuery struct {
	Scope         func(*gorm.DB) *gorm.DB
	Search        string
	IncludeLabels []model.SituationLabel
	ExcludeLabels []model.SituationLabel
	ModifiedSince *time.Time
	Limit         int
	Offset        int
}

type DossierRepository struct {
	db *gorm.DB
}

func NewDossierRepository(db *gorm.DB) *DossierRepository {
	return &DossierRepository{db: db}
}

func (r *DossierRepository) Create(ctx context.Context, dossier *model.Dossier) error {
	return r.db.WithContext(ctx).Omit("Division", "Service", "User", "Situations").Create(dossier).Error
}

func (r *DossierRepository) GetByID(ctx context.Context, id uint) (*model.Dossier, error) {
	var dossier model.Dossier
	err := r.db.WithContext(ctx).
		Preload("Division").
		Preload("Service").
		Preload("User").
		First(&dossier, "num_dossier = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &dossier, nil
}

// GetVisible loads the dossier only if it satisfies scope.
func (r *DossierRepository) GetVisible(ctx context.Context, id uint, scope func(*gorm.DB) *gorm.DB) (*model.Dossier, error) {
	var dossier model.Dossier
	query := r.db.WithContext(ctx).Model(&model.Dossier{})
	if scope != nil {
		query = query.Scopes(scope)
	}
	err := query.
		Preload("Division").
		Preload("Service").
		Preload("User").
		First(&dossier, "dossiers.num_dossier = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &dossier, nil
}

// GetWithHistory loads the dossier and its full situation history in
// chronological order, each situation carrying its author and attached
// instructions.
func (r *DossierRepository) GetWithHistory(ctx context.Context, id uint) (*model.Dossier, error) {
	var dossier model.Dossier
	err := r.db.WithContext(ctx).
		Preload("Division").
		Preload("Service").
		Preload("User").
		Preload("Situations", func(db *gorm.DB) *gorm.DB {
			return db.Order("date_situation ASC, num_situation ASC")
		}).
		Preload("Situations.User").
		Preload("Situations.Instructions").
		Preload("Situations.Instructions.Instruction").
		Preload("Situations.Instructions.Instruction.User").
		First(&dossier, "num_dossier = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &dossier, nil
}

func (r *DossierRepository) UpdateTitle(ctx context.Context, id uint, title string, modifiedOn time.Time) error {
	result := r.db.WithContext(ctx).Model(&model.Dossier{}).
		Where("num_dossier = ?", id).
		Updates(map[string]interface{}{
			"intitule_dossier":          title,
			"date_dernier_modification": modifiedOn,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DossierRepository) Touch(ctx context.Context, id uint, modifiedOn time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Dossier{}).
		Where("num_dossier = ?", id).
		Update("date_dernier_modification", modifiedOn).Error
}

// Delete removes the dossier, its situations and its instruction links.
// Callers run it inside a transaction.
func (r *DossierRepository) Delete(ctx context.Context, id uint) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("num_dossier = ?", id).Delete(&model.DossierInstruction{}).Error; err != nil {
		return err
	}
	if err := db.Where("num_dossier = ?", id).Delete(&model.Situation{}).Error; err != nil {
		return err
	}
	result := db.Where("num_dossier = ?", id).Delete(&model.Dossier{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DossierRepository) filtered(ctx context.Context, q DossierQuery) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&model.Dossier{})
	if q.Scope != nil {
		query = query.Scopes(q.Scope)
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		query = query.Where("LOWER(dossiers.intitule_dossier) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	if len(q.IncludeLabels) > 0 {
		query = query.Where(CurrentLabelExpr+" IN ?", q.IncludeLabels)
	}
	if len(q.ExcludeLabels) > 0 {
		query = query.Where(CurrentLabelExpr+" NOT IN ?", q.ExcludeLabels)
	}
	if q.ModifiedSince != nil {
		query = query.Where("dossiers.date_dernier_modification >= ?", *q.ModifiedSince)
	}
	return query
}

// List returns one page of dossiers matching q, most recently modified
// first, and the total number of matches under the same predicates.
func (r *DossierRepository) List(ctx context.Context, q DossierQuery) ([]model.Dossier, int64, error) {
	var total int64
	if err := r.filtered(ctx, q).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var dossiers []model.Dossier
	query := r.filtered(ctx, q).
		Preload("Division").
		Preload("Service").
		Preload("User").
		Order("dossiers.date_dernier_modification DESC").
		Order("dossiers.num_dossier DESC")
	if q.Limit > 0 {
		query = query.Limit(q.Limit).Offset(q.Offset)
	}
	if err := query.Find(&dossiers).Error; err != nil {
		return nil, 0, err
	}
	return dossiers, total, nil
}

// CountByLabels counts scoped dossiers whose current label is one of labels.
func (r *DossierRepository) CountByLabels(ctx context.Context, scope func(*gorm.DB) *gorm.DB, labels ...model.SituationLabel) (int64, error) {
	var count int64
	err := r.filtered(ctx, DossierQuery{Scope: scope, IncludeLabels: labels}).Count(&count).Error
	return count, err
}

// ListByIDs loads the listed dossiers with their division, service and
// owner.
func (r *DossierRepository) ListByIDs(ctx context.Context, ids []uint) ([]model.Dossier, error) {
	var dossiers []model.Dossier
	if len(ids) == 0 {
		return dossiers, nil
	}
	err := r.db.WithContext(ctx).
		Preload("Division").
		Preload("Service").
		Preload("User").
		Where("num_dossier IN ?", ids).
		Find(&dossiers).Error
	return dossiers, err
}

func (r *DossierRepository) CountByDivision(ctx context.Context, divisionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Dossier{}).Where("id_division = ?", divisionID).Count(&count).Error
	return count, err
}

func (r *DossierRepository) CountByOwner(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Dossier{}).Where("id_user = ?", userID).Count(&count).Error
	return count, err
}

func (r *DossierRepository) CountByService(ctx context.Context, serviceID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Dossier{}).Where("id_service = ?", serviceID).Count(&count).Error
	return count, err
}

type GroupCount struct {
	ID    uint
	Label string
	Count int64
}

func (r *DossierRepository) CountPerDivision(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]GroupCount, error) {
	var rows []GroupCount
	err := r.filtered(ctx, DossierQuery{Scope: scope}).
		Select("divisions.id_division AS id, divisions.lib_division_fr AS label, COUNT(*) AS count").
		Joins("JOIN divisions ON divisions.id_division = dossiers.id_division").
		Group("divisions.id_division, divisions.lib_division_fr").
		Order("divisions.id_division ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *DossierRepository) CountPerService(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]GroupCount, error) {
	var rows []GroupCount
	err := r.filtered(ctx, DossierQuery{Scope: scope}).
		Select("services.id_service AS id, services.lib_service_fr AS label, COUNT(*) AS count").
		Joins("JOIN services ON services.id_service = dossiers.id_service").
		Group("services.id_service, services.lib_service_fr").
		Order("services.id_service ASC").
		Scan(&rows).Error
	return rows, err
}

// ListByLabels returns scoped dossiers currently carrying one of labels.
func (r *DossierRepository) ListByLabels(ctx context.Context, scope func(*gorm.DB) *gorm.DB, limit int, labels ...model.SituationLabel) ([]model.Dossier, error) {
	var dossiers []model.Dossier
	query := r.filtered(ctx, DossierQuery{Scope: scope, IncludeLabels: labels}).
		Preload("Division").
		Preload("Service").
		Order("dossiers.date_dernier_modification DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&dossiers).Error
	return dossiers, err
}

func (r *DossierRepository) Recent(ctx context.Context, scope func(*gorm.DB) *gorm.DB, limit int) ([]model.Dossier, error) {
	var dossiers []model.Dossier
	err := r.filtered(ctx, DossierQuery{Scope: scope}).
		Preload("Division").
		Preload("Service").
		Order("dossiers.date_creation DESC").
		Order("dossiers.num_dossier DESC").
		Limit(limit).
		Find(&dossiers).Error
	return dossiers, err
}

// ParticipantIDs returns the distinct authors of the dossier's situations.
func (r *DossierRepository) ParticipantIDs(ctx context.Context, id uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.Situation{}).
		Where("num_dossier = ? AND id_user IS NOT NULL", id).
		Distinct("id_user").
		Order("id_user ASC").
		Pluck("id_user", &ids).Error
	return ids, err
}

// CountPerCurrentLabel counts every dossier by the label of its current
// situation.
func (r *DossierRepository) CountPerCurrentLabel(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Label string
		Count int64
	}
	err := r.db.WithContext(ctx).
		Table("(?) AS latest_labels", r.db.Model(&model.Dossier{}).Select(CurrentLabelExpr+" AS label")).
		Select("label, COUNT(*) AS count").
		Where("label IS NOT NULL").
		Group("label").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Label] = row.Count
	}
	return counts, nil
}
