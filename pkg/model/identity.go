package model

import "time"

// Profile names referenced by the scope and notification rules.
const (
	ProfileAdmin         = "Admin"
	ProfileSG            = "SG"
	ProfileCabinetGouv   = "CabinetGouv"
	ProfileGouv          = "Gouv"
	ProfileChef          = "Chef"
	ProfileChefService   = "ChefService"
	ProfileFonctionnaire = "Fonctionnaire"
)

type User struct {
	ID           uint      `gorm:"column:id_user;primaryKey" json:"id_user"`
	Username     string    `gorm:"size:100;uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"column:password;not null" json:"-"`
	ProfileID    uint      `gorm:"column:id_profile;not null;index" json:"id_profile"`
	Profile      *Profile  `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
	DivisionID   *uint     `gorm:"column:id_division;index" json:"id_division"`
	Division     *Division `gorm:"foreignKey:DivisionID" json:"division,omitempty"`
	ServiceID    *uint     `gorm:"column:id_service;index" json:"id_service"`
	Service      *Service  `gorm:"foreignKey:ServiceID" json:"service,omitempty"`
	IsActive     bool      `gorm:"column:is_active;not null" json:"is_active"`
	Photo        *string   `gorm:"size:500" json:"photo"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Profile struct {
	ID          uint         `gorm:"column:id_profile;primaryKey" json:"id_profile"`
	Name        string       `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Description string       `json:"description"`
	IsActive    bool         `gorm:"column:is_active;not null" json:"is_active"`
	Permissions []Permission `gorm:"-" json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type Permission struct {
	ID          uint      `gorm:"column:id_permission;primaryKey" json:"id_permission"`
	Name        string    `gorm:"size:150;not null" json:"name"`
	Description string    `json:"description"`
	Code        string    `gorm:"column:code_name;size:100;uniqueIndex;not null" json:"code_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfilePermission is the explicit join between profiles and permission
// codes. Granted permissions come only from these rows.
type ProfilePermission struct {
	ProfileID    uint `gorm:"column:id_profile;primaryKey;autoIncrement:false"`
	PermissionID uint `gorm:"column:id_permission;primaryKey;autoIncrement:false;index"`
}

func (ProfilePermission) TableName() string {
	return "profile_permissions"
}
