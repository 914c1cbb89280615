package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/dossierflow/dossierflow/pkg/model"
)

type InstructionRepository struct {
	db *gorm.DB
}

func NewInstructionRepository(db *gorm.DB) *InstructionRepository {
	return &InstructionRepository{db: db}
}

func (r *InstructionRepository) List(ctx context.Context) ([]model.Instruction, error) {
	var instructions []model.Instruction
	err := r.db.WithContext(ctx).Preload("User").Order("id_instruction DESC").Find(&instructions).Error
	return instructions, err
}

func (r *InstructionRepository) GetByID(ctx context.Context, id uint) (*model.Instruction, error) {
	var instruction model.Instruction
	err := r.db.WithContext(ctx).Preload("User").First(&instruction, "id_instruction = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &instruction, nil
}

func (r *InstructionRepository) Create(ctx context.Context, instruction *model.Instruction) error {
	return r.db.WithContext(ctx).Omit("User").Create(instruction).Error
}

func (r *InstructionRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&model.Instruction{}).Where("id_instruction = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *InstructionRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Where("id_instruction = ?", id).Delete(&model.Instruction{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *InstructionRepository) Link(ctx context.Context, link *model.DossierInstruction) error {
	return r.db.WithContext(ctx).Omit("Instruction").Create(link).Error
}

func (r *InstructionRepository) CountByAuthor(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Instruction{}).Where("id_user = ?", userID).Count(&count).Error
	return count, err
}

func (r *InstructionRepository) CountLinks(ctx context.Context, instructionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.DossierInstruction{}).
		Where("num_instruction = ?", instructionID).
		Count(&count).Error
	return count, err
}

// ListForDossier returns the instruction links of a dossier, oldest first.
func (r *InstructionRepository) ListForDossier(ctx context.Context, dossierID uint) ([]model.DossierInstruction, error) {
	var links []model.DossierInstruction
	err := r.db.WithContext(ctx).
		Preload("Instruction").
		Preload("Instruction.User").
		Where("num_dossier = ?", dossierID).
		Order("num_situation ASC").
		Find(&links).Error
	return links, err
}
