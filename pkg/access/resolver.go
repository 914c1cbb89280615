package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/auth"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

type TokenValidator interface {
	ValidateSessionToken(token string) (*auth.SessionClaims, error)
}

type IdentityLoader interface {
	LoadIdentity(ctx context.Context, userID uint) (*model.User, []string, error)
}

// UserContext is the identity attached to an authenticated request. It is
// rebuilt from storage on every request so permission and activation
// changes apply immediately.
type UserContext struct {
	UserID      uint     `json:"id_user"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	ProfileID   uint     `json:"id_profile"`
	ProfileName string   `json:"profile"`
	DivisionID  *uint    `json:"id_division"`
	ServiceID   *uint    `json:"id_service"`
	Permissions []string `json:"permissions"`

	granted map[string]struct{}
}

func NewUserContext(user *model.User, codes []string) *UserContext {
	uc := &UserContext{
		UserID:     user.ID,
		Username:   user.Username,
		Email:      user.Email,
		ProfileID:  user.ProfileID,
		DivisionID: user.DivisionID,
		ServiceID:  user.ServiceID,
		granted:    make(map[string]struct{}, len(codes)),
	}
	if user.Profile != nil {
		uc.ProfileName = user.Profile.Name
	}
	for _, code := range codes {
		if _, seen := uc.granted[code]; seen {
			continue
		}
		uc.granted[code] = struct{}{}
		uc.Permissions = append(uc.Permissions, code)
	}
	sort.Strings(uc.Permissions)
	return uc
}

func (u *UserContext) Has(code string) bool {
	if u == nil {
		return false
	}
	_, ok := u.granted[code]
	return ok
}

// PermissionError reports which of the required codes the caller lacks.
type PermissionError struct {
	Required []string
	Missing  []string
	Granted  []string
}

func (e *PermissionError) Error() string {
	return "insufficient permissions: missing " + strings.Join(e.Missing, ", ")
}

// Authorize succeeds only when every required code is granted. Profile
// names confer nothing by themselves.
func Authorize(user *UserContext, required ...string) error {
	if len(required) == 0 {
		return nil
	}
	var missing []string
	for _, code := range required {
		if !user.Has(code) {
			missing = append(missing, code)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	var granted []string
	if user != nil {
		granted = append(granted, user.Permissions...)
	}
	return &PermissionError{Required: required, Missing: missing, Granted: granted}
}

type Resolver struct {
	tokens     TokenValidator
	identities IdentityLoader
	policy     ScopePolicy
}

func NewResolver(tokens TokenValidator, identities IdentityLoader, policy ScopePolicy) *Resolver {
	return &Resolver{tokens: tokens, identities: identities, policy: policy}
}

func (r *Resolver) Authenticate(ctx context.Context, token string) (*UserContext, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperror.Unauthenticated("Token manquant", nil)
	}

	claims, err := r.tokens.ValidateSessionToken(token)
	if err != nil {
		return nil, apperror.Unauthenticated("Token invalide", err)
	}

	user, codes, err := r.identities.LoadIdentity(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, apperror.Unauthenticated("Utilisateur introuvable", err)
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if !user.IsActive {
		return nil, apperror.Unauthenticated("Compte désactivé", nil)
	}

	return NewUserContext(user, codes), nil
}

func (r *Resolver) Scope(user *UserContext) Scope {
	return r.policy.ScopeFor(user)
}
