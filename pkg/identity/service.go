// Package identity administers users, profiles and permission codes, and
// opens sessions for users who present valid credentials.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/auth"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

const minPasswordLength = 6

var validate = validator.New()

// TokenIssuer signs session tokens for authenticated users.
type TokenIssuer interface {
	GenerateSessionToken(user *model.User) (string, error)
}

type Service struct {
	store      *postgres.Store
	tokens     TokenIssuer
	bcryptCost int
	logger     *zap.Logger
}

func NewService(store *postgres.Store, tokens TokenIssuer, bcryptCost int, logger *zap.Logger) *Service {
	return &Service{store: store, tokens: tokens, bcryptCost: bcryptCost, logger: logger}
}

type Session struct {
	Token       string
	User        *model.User
	Permissions []string
}

// Login checks the credentials and issues a session token. Unknown emails
// and wrong passwords get the same answer.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.Validation("email et password sont requis")
	}

	users := postgres.NewUserRepository(s.store.DB())
	user, err := users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, apperror.Unauthenticated("Email ou mot de passe incorrect", nil)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login rejected", zap.Uint("user_id", user.ID))
		return nil, apperror.Unauthenticated("Email ou mot de passe incorrect", nil)
	}
	if !user.IsActive {
		return nil, apperror.Unauthenticated("Compte désactivé", nil)
	}

	user, codes, err := users.LoadIdentity(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	token, err := s.tokens.GenerateSessionToken(user)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	s.logger.Info("user logged in", zap.Uint("user_id", user.ID))
	return &Session{Token: token, User: user, Permissions: codes}, nil
}

type UserInput struct {
	Username   *string
	Email      *string
	Password   *string
	ProfileID  *uint
	DivisionID *uint
	ServiceID  *uint
	IsActive   *bool
	Photo      *string
}

func (s *Service) Users(ctx context.Context) ([]model.User, error) {
	return postgres.NewUserRepository(s.store.DB()).List(ctx)
}

func (s *Service) User(ctx context.Context, id uint) (*model.User, error) {
	user, err := postgres.NewUserRepository(s.store.DB()).GetByID(ctx, id)
	if err != nil {
		return nil, userError(err)
	}
	return user, nil
}

func (s *Service) CreateUser(ctx context.Context, in UserInput) (*model.User, error) {
	username, email := trimmed(in.Username), normalizeEmail(deref(in.Email))
	if username == "" || email == "" || in.Password == nil || in.ProfileID == nil {
		return nil, apperror.Validation("username, email, password et id_profile sont requis")
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(*in.Password); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, username, email, 0); err != nil {
		return nil, err
	}
	if err := s.checkPlacement(ctx, in.ProfileID, in.DivisionID, in.ServiceID); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(*in.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		ProfileID:    *in.ProfileID,
		DivisionID:   in.DivisionID,
		ServiceID:    in.ServiceID,
		IsActive:     in.IsActive == nil || *in.IsActive,
		Photo:        in.Photo,
	}
	if err := postgres.NewUserRepository(s.store.DB()).Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user created", zap.Uint("user_id", user.ID), zap.Uint("profile_id", user.ProfileID))
	return s.User(ctx, user.ID)
}

func (s *Service) UpdateUser(ctx context.Context, id uint, in UserInput) (*model.User, error) {
	users := postgres.NewUserRepository(s.store.DB())
	current, err := users.GetByID(ctx, id)
	if err != nil {
		return nil, userError(err)
	}

	updates := map[string]interface{}{}
	username, email := current.Username, current.Email
	if in.Username != nil {
		if username = trimmed(in.Username); username == "" {
			return nil, apperror.Validation("username ne peut pas être vide")
		}
		updates["username"] = username
	}
	if in.Email != nil {
		email = normalizeEmail(*in.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		updates["email"] = email
	}
	if err := s.checkUnique(ctx, username, email, id); err != nil {
		return nil, err
	}
	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := auth.HashPassword(*in.Password, s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		updates["password"] = hash
	}

	divisionID, serviceID := current.DivisionID, current.ServiceID
	if in.DivisionID != nil {
		divisionID = in.DivisionID
		updates["id_division"] = *in.DivisionID
	}
	if in.ServiceID != nil {
		serviceID = in.ServiceID
		updates["id_service"] = *in.ServiceID
	}
	if in.ProfileID != nil {
		updates["id_profile"] = *in.ProfileID
	}
	if in.ProfileID != nil || in.DivisionID != nil || in.ServiceID != nil {
		if err := s.checkPlacement(ctx, in.ProfileID, divisionID, serviceID); err != nil {
			return nil, err
		}
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if in.Photo != nil {
		updates["photo"] = *in.Photo
	}

	if len(updates) > 0 {
		if err := users.Update(ctx, id, updates); err != nil {
			return nil, userError(err)
		}
		s.logger.Info("user updated", zap.Uint("user_id", id))
	}
	return s.User(ctx, id)
}

// DeleteUser removes the user and the notifications addressed to it in one
// transaction. A user that still owns dossiers, authored situations or
// created instructions is kept.
func (s *Service) DeleteUser(ctx context.Context, id uint) error {
	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		users := postgres.NewUserRepository(tx)
		if _, err := users.GetByID(ctx, id); err != nil {
			return err
		}

		dossiers, err := postgres.NewDossierRepository(tx).CountByOwner(ctx, id)
		if err != nil {
			return err
		}
		situations, err := postgres.NewSituationRepository(tx).CountByAuthor(ctx, id)
		if err != nil {
			return err
		}
		instructions, err := postgres.NewInstructionRepository(tx).CountByAuthor(ctx, id)
		if err != nil {
			return err
		}
		if dossiers > 0 || situations > 0 || instructions > 0 {
			return apperror.Conflict(fmt.Sprintf(
				"Utilisateur référencé par %d dossier(s), %d situation(s) et %d instruction(s)", dossiers, situations, instructions))
		}
		return users.Delete(ctx, id)
	})
	if err != nil {
		return userError(err)
	}
	s.logger.Info("user deleted", zap.Uint("user_id", id))
	return nil
}

func (s *Service) checkUnique(ctx context.Context, username, email string, exceptID uint) error {
	users := postgres.NewUserRepository(s.store.DB())
	taken, err := users.EmailTaken(ctx, email, exceptID)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if taken {
		return apperror.Validation("Cet email est déjà utilisé")
	}
	taken, err = users.UsernameTaken(ctx, username, exceptID)
	if err != nil {
		return fmt.Errorf("check username: %w", err)
	}
	if taken {
		return apperror.Validation("Ce nom d'utilisateur est déjà utilisé")
	}
	return nil
}

func (s *Service) checkPlacement(ctx context.Context, profileID, divisionID, serviceID *uint) error {
	db := s.store.DB()
	if profileID != nil {
		if _, err := postgres.NewProfileRepository(db).GetByID(ctx, *profileID); err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				return apperror.NotFound("Profil introuvable")
			}
			return fmt.Errorf("check profile: %w", err)
		}
	}
	if divisionID != nil {
		exists, err := postgres.NewDivisionRepository(db).Exists(ctx, *divisionID)
		if err != nil {
			return fmt.Errorf("check division: %w", err)
		}
		if !exists {
			return apperror.NotFound("Division introuvable")
		}
	}
	if serviceID != nil {
		service, err := postgres.NewServiceRepository(db).GetByID(ctx, *serviceID)
		if err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				return apperror.NotFound("Service introuvable")
			}
			return fmt.Errorf("check service: %w", err)
		}
		if divisionID != nil && service.DivisionID != *divisionID {
			return apperror.Validation("Le service n'appartient pas à la division indiquée")
		}
	}
	return nil
}

type ProfileInput struct {
	Name        string
	Description string
	Permissions []string
}

func (s *Service) Profiles(ctx context.Context) ([]model.Profile, error) {
	return postgres.NewProfileRepository(s.store.DB()).List(ctx)
}

func (s *Service) Profile(ctx context.Context, id uint) (*model.Profile, error) {
	profile, err := postgres.NewProfileRepository(s.store.DB()).GetByID(ctx, id)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil, apperror.NotFound("Profil introuvable")
	}
	return profile, err
}

// CreateProfile stores a profile and grants it the listed permission
// codes. Every code must already exist.
func (s *Service) CreateProfile(ctx context.Context, in ProfileInput) (*model.Profile, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperror.Validation("name est requis")
	}

	profile := &model.Profile{Name: name, Description: strings.TrimSpace(in.Description), IsActive: true}
	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		profiles := postgres.NewProfileRepository(tx)
		if _, err := profiles.GetByName(ctx, name); err == nil {
			return apperror.Conflict("Un profil portant ce nom existe déjà")
		} else if !errors.Is(err, postgres.ErrNotFound) {
			return err
		}

		perms, err := postgres.NewPermissionRepository(tx).FindByCodes(ctx, in.Permissions)
		if err != nil {
			return err
		}
		if missing := missingCodes(in.Permissions, perms); len(missing) > 0 {
			return apperror.Validation("Permissions inconnues: " + strings.Join(missing, ", "))
		}

		if err := profiles.Create(ctx, profile); err != nil {
			return err
		}
		ids := make([]uint, 0, len(perms))
		for _, perm := range perms {
			ids = append(ids, perm.ID)
		}
		return profiles.Grant(ctx, profile.ID, ids)
	})
	if err != nil {
		if apperror.KindOf(err) != apperror.KindInternal {
			return nil, err
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}

	s.logger.Info("profile created", zap.Uint("profile_id", profile.ID), zap.Int("permissions", len(in.Permissions)))
	return s.Profile(ctx, profile.ID)
}

type PermissionInput struct {
	Name        string
	Code        string
	Description string
}

func (s *Service) Permissions(ctx context.Context) ([]model.Permission, error) {
	return postgres.NewPermissionRepository(s.store.DB()).List(ctx)
}

func (s *Service) CreatePermission(ctx context.Context, in PermissionInput) (*model.Permission, error) {
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	name := strings.TrimSpace(in.Name)
	if code == "" || name == "" {
		return nil, apperror.Validation("name et code_name sont requis")
	}

	perms := postgres.NewPermissionRepository(s.store.DB())
	if _, err := perms.GetByCode(ctx, code); err == nil {
		return nil, apperror.Conflict("Cette permission existe déjà")
	} else if !errors.Is(err, postgres.ErrNotFound) {
		return nil, fmt.Errorf("check permission: %w", err)
	}

	perm := &model.Permission{Name: name, Code: code, Description: strings.TrimSpace(in.Description)}
	if err := perms.Create(ctx, perm); err != nil {
		return nil, fmt.Errorf("create permission: %w", err)
	}
	return perm, nil
}

func missingCodes(requested []string, found []model.Permission) []string {
	known := make(map[string]struct{}, len(found))
	for _, perm := range found {
		known[perm.Code] = struct{}{}
	}
	var missing []string
	for _, code := range requested {
		if _, ok := known[code]; !ok {
			missing = append(missing, code)
		}
	}
	sort.Strings(missing)
	return missing
}

func validateEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return apperror.Validation("Adresse email invalide")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperror.Validation(fmt.Sprintf("Le mot de passe doit contenir au moins %d caractères", minPasswordLength))
	}
	return nil
}

func userError(err error) error {
	if errors.Is(err, postgres.ErrNotFound) {
		return apperror.NotFound("Utilisateur introuvable")
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func trimmed(s *string) string {
	return strings.TrimSpace(deref(s))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
