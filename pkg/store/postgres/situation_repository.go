package postgres

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/dossierflow/dossierflow/pkg/model"
)

// SituationRepository only appends; situations are never updated.
type SituationRepository struct {
	db *gorm.DB
}

func NewSituationRepository(db *gorm.DB) *SituationRepository {
	return &SituationRepository{db: db}
}

func (r *SituationRepository) Append(ctx context.Context, situation *model.Situation) error {
	return r.db.WithContext(ctx).Omit("User", "Instructions").Create(situation).Error
}

// Latest returns the dossier's current situation, or ErrNotFound when the
// dossier has none.
func (r *SituationRepository) Latest(ctx context.Context, dossierID uint) (*model.Situation, error) {
	var situation model.Situation
	err := r.db.WithContext(ctx).
		Where("num_dossier = ?", dossierID).
		Order(LatestSituationOrder).
		First(&situation).Error
	if err != nil {
		return nil, translate(err)
	}
	return &situation, nil
}

// LatestFor resolves the current situation of each listed dossier.
func (r *SituationRepository) LatestFor(ctx context.Context, dossierIDs []uint) (map[uint]model.Situation, error) {
	result := make(map[uint]model.Situation, len(dossierIDs))
	if len(dossierIDs) == 0 {
		return result, nil
	}

	var situations []model.Situation
	err := r.db.WithContext(ctx).
		Where("num_dossier IN ?", dossierIDs).
		Where(`num_situation = (SELECT ls.num_situation FROM situation_dossiers ls` +
			` WHERE ls.num_dossier = situation_dossiers.num_dossier` +
			` ORDER BY ls.date_situation DESC, ls.num_situation DESC LIMIT 1)`).
		Find(&situations).Error
	if err != nil {
		return nil, err
	}

	for _, situation := range situations {
		result[situation.DossierID] = situation
	}
	return result, nil
}

func (r *SituationRepository) ListByDossier(ctx context.Context, dossierID uint) ([]model.Situation, error) {
	var situations []model.Situation
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("num_dossier = ?", dossierID).
		Order("date_situation ASC, num_situation ASC").
		Find(&situations).Error
	return situations, err
}

func (r *SituationRepository) CountByAuthor(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Situation{}).Where("id_user = ?", userID).Count(&count).Error
	return count, err
}

func (r *SituationRepository) CountByDossier(ctx context.Context, dossierID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Situation{}).Where("num_dossier = ?", dossierID).Count(&count).Error
	return count, err
}

// SituationQuery filters situations through their dossier. Scope applies to
// the joined dossiers table.
type SituationQuery struct {
	Scope      func(*gorm.DB) *gorm.DB
	Search     string
	Label      model.SituationLabel
	From       *time.Time
	To         *time.Time
	DivisionID *uint
	ServiceID  *uint
	Limit      int
	Offset     int
}

func (r *SituationRepository) joined(ctx context.Context, scope func(*gorm.DB) *gorm.DB) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&model.Situation{}).
		Joins("JOIN dossiers ON dossiers.num_dossier = situation_dossiers.num_dossier")
	if scope != nil {
		query = query.Scopes(scope)
	}
	return query
}

func (r *SituationRepository) searched(ctx context.Context, q SituationQuery) *gorm.DB {
	query := r.joined(ctx, q.Scope)
	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("(LOWER(situation_dossiers.libelle_situation) LIKE ? OR LOWER(COALESCE(situation_dossiers.observation_situation, '')) LIKE ?)", pattern, pattern)
	}
	if q.Label != "" {
		query = query.Where("situation_dossiers.libelle_situation = ?", q.Label)
	}
	if q.From != nil {
		query = query.Where("situation_dossiers.date_situation >= ?", *q.From)
	}
	if q.To != nil {
		query = query.Where("situation_dossiers.date_situation <= ?", *q.To)
	}
	if q.DivisionID != nil {
		query = query.Where("dossiers.id_division = ?", *q.DivisionID)
	}
	if q.ServiceID != nil {
		query = query.Where("dossiers.id_service = ?", *q.ServiceID)
	}
	return query
}

// Search returns one page of matching situations, newest first, with their
// author and attached instructions, plus the total match count.
func (r *SituationRepository) Search(ctx context.Context, q SituationQuery) ([]model.Situation, int64, error) {
	var total int64
	if err := r.searched(ctx, q).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var situations []model.Situation
	query := r.searched(ctx, q).
		Preload("User").
		Preload("Instructions.Instruction").
		Order("situation_dossiers.date_situation DESC").
		Order("situation_dossiers.num_situation DESC")
	if q.Limit > 0 {
		query = query.Limit(q.Limit).Offset(q.Offset)
	}
	if err := query.Find(&situations).Error; err != nil {
		return nil, 0, err
	}
	return situations, total, nil
}

type LabelCount struct {
	Label string
	Count int64
}

// CountPerLabel counts every situation recorded on the scoped dossiers,
// grouped by label.
func (r *SituationRepository) CountPerLabel(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]LabelCount, error) {
	var rows []LabelCount
	err := r.joined(ctx, scope).
		Select("situation_dossiers.libelle_situation AS label, COUNT(*) AS count").
		Group("situation_dossiers.libelle_situation").
		Order("situation_dossiers.libelle_situation ASC").
		Scan(&rows).Error
	return rows, err
}
