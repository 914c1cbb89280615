package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

// InstructionCatalog manages the reusable instructions that can be
// attached to dossiers.
type InstructionCatalog struct {
	store *postgres.Store
}

func NewInstructionCatalog(store *postgres.Store) *InstructionCatalog {
	return &InstructionCatalog{store: store}
}

type InstructionInput struct {
	Label       *string
	Description *string
}

func (c *InstructionCatalog) List(ctx context.Context) ([]model.Instruction, error) {
	return postgres.NewInstructionRepository(c.store.DB()).List(ctx)
}

func (c *InstructionCatalog) Get(ctx context.Context, id uint) (*model.Instruction, error) {
	instruction, err := postgres.NewInstructionRepository(c.store.DB()).GetByID(ctx, id)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil, apperror.NotFound("Instruction introuvable")
	}
	return instruction, err
}

func (c *InstructionCatalog) Create(ctx context.Context, in InstructionInput, authorID uint) (*model.Instruction, error) {
	if in.Label == nil || strings.TrimSpace(*in.Label) == "" {
		return nil, apperror.Validation("libelle_instruction est requis")
	}
	instruction := &model.Instruction{
		Label:       strings.TrimSpace(*in.Label),
		Description: in.Description,
		UserID:      &authorID,
	}
	if err := postgres.NewInstructionRepository(c.store.DB()).Create(ctx, instruction); err != nil {
		return nil, fmt.Errorf("create instruction: %w", err)
	}
	return instruction, nil
}

func (c *InstructionCatalog) Update(ctx context.Context, id uint, in InstructionInput) (*model.Instruction, error) {
	updates := map[string]interface{}{}
	if in.Label != nil {
		label := strings.TrimSpace(*in.Label)
		if label == "" {
			return nil, apperror.Validation("libelle_instruction ne peut pas être vide")
		}
		updates["libelle_instruction"] = label
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if len(updates) == 0 {
		return c.Get(ctx, id)
	}

	if err := postgres.NewInstructionRepository(c.store.DB()).Update(ctx, id, updates); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, apperror.NotFound("Instruction introuvable")
		}
		return nil, fmt.Errorf("update instruction: %w", err)
	}
	return c.Get(ctx, id)
}

// Delete refuses to remove an instruction still recorded on a dossier.
func (c *InstructionCatalog) Delete(ctx context.Context, id uint) error {
	repo := postgres.NewInstructionRepository(c.store.DB())
	links, err := repo.CountLinks(ctx, id)
	if err != nil {
		return fmt.Errorf("count instruction links: %w", err)
	}
	if links > 0 {
		return apperror.Conflict("Instruction rattachée à des dossiers")
	}
	if err := repo.Delete(ctx, id); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return apperror.NotFound("Instruction introuvable")
		}
		return fmt.Errorf("delete instruction: %w", err)
	}
	return nil
}
