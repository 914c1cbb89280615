// Package workflow owns every state transition of a dossier. The dossier's
// history is an append-only list of situations; the current status is
// always derived from that list and never stored on the dossier.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/eventbus"
	"github.com/dossierflow/dossierflow/pkg/metrics"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/notify"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

const initialObservation = "Situation initiale"

// Notifier delivers post-commit notifications.
type Notifier interface {
	NotifyMany(ctx context.Context, recipients []uint, msg notify.Message) (int, error)
}

type Engine struct {
	store     *postgres.Store
	notifier  Notifier
	publisher notify.Publisher
	logger    *zap.Logger
	managers  []string
	now       func() time.Time
}

type Option func(*Engine)

func WithManagerProfiles(profiles []string) Option {
	return func(e *Engine) {
		if len(profiles) > 0 {
			e.managers = profiles
		}
	}
}

func WithPublisher(publisher notify.Publisher) Option {
	return func(e *Engine) { e.publisher = publisher }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store *postgres.Store, notifier Notifier, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier,
		logger:   logger,
		managers: []string{model.ProfileAdmin, model.ProfileSG, model.ProfileCabinetGouv, model.ProfileGouv},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type NewDossier struct {
	Title      string
	DivisionID uint
	ServiceID  *uint
}

type Created struct {
	Dossier   *model.Dossier
	Situation *model.Situation
}

// CreateDossier stores the dossier and its initial situation atomically,
// then tells every other active user about it.
func (e *Engine) CreateDossier(ctx context.Context, in NewDossier, actorID uint) (*Created, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperror.Validation("intitule_dossier est requis")
	}
	if in.DivisionID == 0 {
		return nil, apperror.Validation("id_division est requis")
	}

	now := e.now()
	dossier := &model.Dossier{
		Title:      title,
		DivisionID: in.DivisionID,
		ServiceID:  in.ServiceID,
		UserID:     actorID,
		CreatedOn:  now,
		ModifiedOn: now,
	}
	observation := initialObservation
	situation := &model.Situation{
		Label:       model.InitialLabel,
		Observation: &observation,
		Date:        now,
		ModifiedOn:  now,
		UserID:      &actorID,
	}

	err := e.store.Transaction(ctx, func(tx *gorm.DB) error {
		if err := checkPlacement(ctx, tx, in.DivisionID, in.ServiceID); err != nil {
			return err
		}
		if err := postgres.NewDossierRepository(tx).Create(ctx, dossier); err != nil {
			return fmt.Errorf("create dossier: %w", err)
		}
		situation.DossierID = dossier.ID
		if err := postgres.NewSituationRepository(tx).Append(ctx, situation); err != nil {
			return fmt.Errorf("append initial situation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DossiersCreated.Inc()
	metrics.SituationsAppended.WithLabelValues(string(situation.Label)).Inc()
	e.logger.Info("dossier created",
		zap.Uint("dossier_id", dossier.ID),
		zap.Uint("user_id", actorID),
	)

	e.dispatch(ctx, "create_dossier", dossier.ID, func(ctx context.Context) error {
		ids, err := postgres.NewUserRepository(e.store.DB()).ActiveIDs(ctx)
		if err != nil {
			return fmt.Errorf("load active users: %w", err)
		}
		_, err = e.notifier.NotifyMany(ctx, notify.Recipients(ids, actorID), notify.Message{
			Type:  model.NotificationDossier,
			Title: "Nouveau dossier",
			Body:  fmt.Sprintf("Nouveau dossier créé: %s", dossier.Title),
			Link:  dossierLink(dossier.ID),
		})
		return err
	})
	e.publish(ctx, eventbus.EventDossierCreated, dossier.ID, situation.Label, nil, actorID)

	if loaded, err := postgres.NewDossierRepository(e.store.DB()).GetByID(ctx, dossier.ID); err == nil {
		dossier = loaded
	}
	return &Created{Dossier: dossier, Situation: situation}, nil
}

func checkPlacement(ctx context.Context, tx *gorm.DB, divisionID uint, serviceID *uint) error {
	exists, err := postgres.NewDivisionRepository(tx).Exists(ctx, divisionID)
	if err != nil {
		return fmt.Errorf("check division: %w", err)
	}
	if !exists {
		return apperror.NotFound("Division introuvable")
	}
	if serviceID == nil {
		return nil
	}
	service, err := postgres.NewServiceRepository(tx).GetByID(ctx, *serviceID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return apperror.NotFound("Service introuvable")
		}
		return fmt.Errorf("check service: %w", err)
	}
	if service.DivisionID != divisionID {
		return apperror.Validation("Le service n'appartient pas à la division indiquée")
	}
	return nil
}

type StateChange struct {
	Dossier   *model.Dossier
	Situation *model.Situation
	Previous  *model.Situation
}

func (c *StateChange) PreviousLabel() *model.SituationLabel {
	if c.Previous == nil {
		return nil
	}
	label := c.Previous.Label
	return &label
}

// ChangeState appends a situation carrying the new label. The owner and
// the manager profiles are told, never the actor.
func (e *Engine) ChangeState(ctx context.Context, dossierID uint, label model.SituationLabel, observation *string, actorID uint) (*StateChange, error) {
	change, err := e.appendSituation(ctx, dossierID, label, observation, actorID, situationHooks{})
	if err != nil {
		return nil, err
	}

	suffix := observationSuffix(change.Situation.Observation)
	owner := change.Dossier.UserID

	e.dispatch(ctx, "change_state", dossierID, func(ctx context.Context) error {
		if owner != actorID {
			_, err := e.notifier.NotifyMany(ctx, []uint{owner}, notify.Message{
				Type:  model.NotificationStateChange,
				Title: "Changement d'état de dossier",
				Body: fmt.Sprintf("Votre dossier \"%s\" est passé de \"%s\" à \"%s\"%s",
					change.Dossier.Title, labelOrNone(change.Previous), label, suffix),
				Link: dossierLink(dossierID),
			})
			if err != nil {
				return err
			}
		}

		managers, err := postgres.NewUserRepository(e.store.DB()).ActiveIDsByProfiles(ctx, e.managers)
		if err != nil {
			return fmt.Errorf("load managers: %w", err)
		}
		_, err = e.notifier.NotifyMany(ctx, notify.Recipients(managers, actorID, owner), notify.Message{
			Type:  model.NotificationStateChangeAdmin,
			Title: "Dossier mis à jour",
			Body: fmt.Sprintf("Le dossier \"%s\" est passé de \"%s\" à \"%s\"%s",
				change.Dossier.Title, labelOrNone(change.Previous), label, suffix),
			Link: dossierLink(dossierID),
		})
		return err
	})
	e.publish(ctx, eventbus.EventDossierStateChanged, dossierID, label, change.PreviousLabel(), actorID)

	return change, nil
}

// AddSituation appends a situation and tells the owner and everyone who
// authored an earlier situation on the dossier.
func (e *Engine) AddSituation(ctx context.Context, dossierID uint, label model.SituationLabel, observation *string, actorID uint) (*StateChange, error) {
	change, err := e.appendSituation(ctx, dossierID, label, observation, actorID, situationHooks{})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, "add_situation", dossierID, func(ctx context.Context) error {
		participants, err := postgres.NewDossierRepository(e.store.DB()).ParticipantIDs(ctx, dossierID)
		if err != nil {
			return fmt.Errorf("load participants: %w", err)
		}
		recipients := notify.Recipients(append([]uint{change.Dossier.UserID}, participants...), actorID)
		_, err = e.notifier.NotifyMany(ctx, recipients, notify.Message{
			Type:  model.NotificationSituationUpdate,
			Title: "Mise à jour du dossier",
			Body: fmt.Sprintf("Nouvelle situation \"%s\" pour le dossier \"%s\"%s",
				label, change.Dossier.Title, observationSuffix(change.Situation.Observation)),
			Link: dossierLink(dossierID),
		})
		return err
	})
	e.publish(ctx, eventbus.EventDossierStateChanged, dossierID, label, change.PreviousLabel(), actorID)

	return change, nil
}

type Attachment struct {
	Situation *model.Situation
	Link      *model.DossierInstruction
}

// AttachInstruction records an instruction on the dossier as a new
// situation and links the two.
func (e *Engine) AttachInstruction(ctx context.Context, dossierID, instructionID uint, actorID uint) (*Attachment, error) {
	if instructionID == 0 {
		return nil, apperror.Validation("num_instruction est requis")
	}

	var link *model.DossierInstruction
	change, err := e.appendSituation(ctx, dossierID, model.LabelInstructionAjoutee, nil, actorID, situationHooks{
		before: func(tx *gorm.DB, situation *model.Situation) error {
			instruction, err := postgres.NewInstructionRepository(tx).GetByID(ctx, instructionID)
			if err != nil {
				if errors.Is(err, postgres.ErrNotFound) {
					return apperror.NotFound("Instruction introuvable")
				}
				return fmt.Errorf("load instruction: %w", err)
			}
			observation := "Instruction: " + instruction.Label
			situation.Observation = &observation
			return nil
		},
		after: func(tx *gorm.DB, situation *model.Situation) error {
			link = &model.DossierInstruction{
				DossierID:     dossierID,
				SituationID:   situation.ID,
				InstructionID: instructionID,
				CreatedAt:     situation.Date,
			}
			if err := postgres.NewInstructionRepository(tx).Link(ctx, link); err != nil {
				return fmt.Errorf("link instruction: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, eventbus.EventDossierStateChanged, dossierID, model.LabelInstructionAjoutee, change.PreviousLabel(), actorID)
	return &Attachment{Situation: change.Situation, Link: link}, nil
}

// situationHooks run inside the append transaction, before and after the
// situation insert.
type situationHooks struct {
	before func(tx *gorm.DB, situation *model.Situation) error
	after  func(tx *gorm.DB, situation *model.Situation) error
}

// appendSituation is the single write path for situations.
func (e *Engine) appendSituation(
	ctx context.Context,
	dossierID uint,
	label model.SituationLabel,
	observation *string,
	actorID uint,
	hooks situationHooks,
) (*StateChange, error) {
	if !label.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("Libellé de situation invalide: %q", label))
	}

	now := e.now()
	situation := &model.Situation{
		DossierID:   dossierID,
		Label:       label,
		Observation: normalizeObservation(observation),
		Date:        now,
		ModifiedOn:  now,
		UserID:      &actorID,
	}
	result := &StateChange{}

	err := e.store.Transaction(ctx, func(tx *gorm.DB) error {
		dossiers := postgres.NewDossierRepository(tx)
		dossier, err := dossiers.GetByID(ctx, dossierID)
		if err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				return apperror.NotFound("Dossier introuvable")
			}
			return fmt.Errorf("load dossier: %w", err)
		}

		situations := postgres.NewSituationRepository(tx)
		previous, err := situations.Latest(ctx, dossierID)
		if err != nil && !errors.Is(err, postgres.ErrNotFound) {
			return fmt.Errorf("load current situation: %w", err)
		}

		if hooks.before != nil {
			if err := hooks.before(tx, situation); err != nil {
				return err
			}
		}
		if err := situations.Append(ctx, situation); err != nil {
			return fmt.Errorf("append situation: %w", err)
		}
		if hooks.after != nil {
			if err := hooks.after(tx, situation); err != nil {
				return err
			}
		}

		if err := dossiers.Touch(ctx, dossierID, now); err != nil {
			return fmt.Errorf("touch dossier: %w", err)
		}
		dossier.ModifiedOn = now

		result.Dossier = dossier
		result.Previous = previous
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Situation = situation
	metrics.SituationsAppended.WithLabelValues(string(label)).Inc()
	e.logger.Info("situation appended",
		zap.Uint("dossier_id", dossierID),
		zap.Uint("situation_id", situation.ID),
		zap.String("label", string(label)),
		zap.Uint("user_id", actorID),
	)
	return result, nil
}

func (e *Engine) UpdateDossier(ctx context.Context, dossierID uint, title string) (*model.Dossier, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperror.Validation("intitule_dossier est requis")
	}
	repo := postgres.NewDossierRepository(e.store.DB())
	if err := repo.UpdateTitle(ctx, dossierID, title, e.now()); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, apperror.NotFound("Dossier introuvable")
		}
		return nil, fmt.Errorf("update dossier: %w", err)
	}
	return repo.GetByID(ctx, dossierID)
}

// DeleteDossier removes the dossier with its whole history.
func (e *Engine) DeleteDossier(ctx context.Context, dossierID uint) error {
	err := e.store.Transaction(ctx, func(tx *gorm.DB) error {
		return postgres.NewDossierRepository(tx).Delete(ctx, dossierID)
	})
	if errors.Is(err, postgres.ErrNotFound) {
		return apperror.NotFound("Dossier introuvable")
	}
	if err != nil {
		return fmt.Errorf("delete dossier: %w", err)
	}
	e.logger.Info("dossier deleted", zap.Uint("dossier_id", dossierID))
	return nil
}

// CurrentStatus returns the dossier's current situation.
func (e *Engine) CurrentStatus(ctx context.Context, dossierID uint) (*model.Situation, error) {
	situation, err := postgres.NewSituationRepository(e.store.DB()).Latest(ctx, dossierID)
	if err == nil {
		return situation, nil
	}
	if !errors.Is(err, postgres.ErrNotFound) {
		return nil, fmt.Errorf("load current situation: %w", err)
	}
	if _, err := postgres.NewDossierRepository(e.store.DB()).GetByID(ctx, dossierID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, apperror.NotFound("Dossier introuvable")
		}
		return nil, err
	}
	return nil, apperror.Internal("dossier sans situation", fmt.Errorf("dossier %d has no situation", dossierID))
}

type History struct {
	Dossier *model.Dossier
	Current *model.Situation
}

// History returns the dossier with its situations oldest first.
func (e *Engine) History(ctx context.Context, dossierID uint) (*History, error) {
	dossier, err := postgres.NewDossierRepository(e.store.DB()).GetWithHistory(ctx, dossierID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, apperror.NotFound("Dossier introuvable")
		}
		return nil, fmt.Errorf("load history: %w", err)
	}
	return &History{Dossier: dossier, Current: CurrentSituation(dossier.Situations)}, nil
}

func (e *Engine) Instructions(ctx context.Context, dossierID uint) ([]model.DossierInstruction, error) {
	return postgres.NewInstructionRepository(e.store.DB()).ListForDossier(ctx, dossierID)
}

// dispatch runs a notification fan-out after commit. Failures, including
// panics, are logged and swallowed: the committed change stands. The
// fan-out is detached from the caller's cancellation.
func (e *Engine) dispatch(ctx context.Context, operation string, dossierID uint, fn func(ctx context.Context) error) {
	if e.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationFailures.WithLabelValues(operation).Inc()
			e.logger.Warn("notification dispatch panicked",
				zap.String("operation", operation),
				zap.Uint("dossier_id", dossierID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		metrics.NotificationFailures.WithLabelValues(operation).Inc()
		e.logger.Warn("notification dispatch failed",
			zap.String("operation", operation),
			zap.Uint("dossier_id", dossierID),
			zap.Error(err),
		)
	}
}

func (e *Engine) publish(ctx context.Context, eventType string, dossierID uint, label model.SituationLabel, previous *model.SituationLabel, actorID uint) {
	if e.publisher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	payload := eventbus.DossierEvent{DossierID: dossierID, Label: string(label), ActorID: actorID}
	if previous != nil {
		prev := string(*previous)
		payload.PreviousLabel = &prev
	}
	event, err := eventbus.NewEvent(eventType, payload)
	if err != nil {
		return
	}
	if err := e.publisher.Publish(ctx, eventbus.ChannelDossier, event); err != nil {
		e.logger.Warn("failed to publish dossier event", zap.Uint("dossier_id", dossierID), zap.Error(err))
	}
}

func normalizeObservation(observation *string) *string {
	if observation == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*observation)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func observationSuffix(observation *string) string {
	if observation == nil {
		return ""
	}
	return " - " + *observation
}

func dossierLink(id uint) *string {
	link := fmt.Sprintf("/dossiers/%d", id)
	return &link
}
