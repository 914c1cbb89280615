package access

import (
	"gorm.io/gorm"

	"github.com/dossierflow/dossierflow/pkg/model"
)

type ScopeKind string

const (
	ScopeAll      ScopeKind = "all"
	ScopeDivision ScopeKind = "division"
	ScopeService  ScopeKind = "service"
	ScopeOwner    ScopeKind = "owner"
	ScopeNone     ScopeKind = "none"
)

// Scope restricts which dossiers a user may see.
type Scope struct {
	Kind       ScopeKind
	DivisionID uint
	ServiceID  uint
	UserID     uint
}

// Apply narrows a query over the dossiers table. It has the signature of a
// gorm scope.
func (s Scope) Apply(db *gorm.DB) *gorm.DB {
	switch s.Kind {
	case ScopeAll:
		return db
	case ScopeDivision:
		return db.Where("dossiers.id_division = ?", s.DivisionID)
	case ScopeService:
		return db.Where("dossiers.id_service = ?", s.ServiceID)
	case ScopeOwner:
		return db.Where("dossiers.id_user = ?", s.UserID)
	default:
		return db.Where("1 = 0")
	}
}

func (s Scope) Allows(dossier *model.Dossier) bool {
	if dossier == nil {
		return false
	}
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeDivision:
		return dossier.DivisionID == s.DivisionID
	case ScopeService:
		return dossier.ServiceID != nil && *dossier.ServiceID == s.ServiceID
	case ScopeOwner:
		return dossier.UserID == s.UserID
	default:
		return false
	}
}

// ScopePolicy maps profile names onto scope kinds. Profiles not listed
// anywhere see only the dossiers they own.
type ScopePolicy struct {
	global   map[string]struct{}
	division map[string]struct{}
	service  map[string]struct{}
}

func NewScopePolicy(global, division, service []string) ScopePolicy {
	return ScopePolicy{
		global:   toSet(global),
		division: toSet(division),
		service:  toSet(service),
	}
}

func DefaultScopePolicy() ScopePolicy {
	return NewScopePolicy(
		[]string{model.ProfileAdmin, model.ProfileSG, model.ProfileCabinetGouv, model.ProfileGouv},
		[]string{model.ProfileChef},
		[]string{model.ProfileChefService},
	)
}

func (p ScopePolicy) ScopeFor(user *UserContext) Scope {
	if user == nil {
		return Scope{Kind: ScopeNone}
	}
	if _, ok := p.global[user.ProfileName]; ok {
		return Scope{Kind: ScopeAll}
	}
	if _, ok := p.division[user.ProfileName]; ok {
		if user.DivisionID == nil {
			return Scope{Kind: ScopeNone}
		}
		return Scope{Kind: ScopeDivision, DivisionID: *user.DivisionID}
	}
	if _, ok := p.service[user.ProfileName]; ok {
		if user.ServiceID == nil {
			return Scope{Kind: ScopeNone}
		}
		return Scope{Kind: ScopeService, ServiceID: *user.ServiceID}
	}
	return Scope{Kind: ScopeOwner, UserID: user.UserID}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}
