package model

import "time"

const (
	NotificationDossier          = "dossier"
	NotificationStateChange      = "state_change"
	NotificationStateChangeAdmin = "state_change_admin"
	NotificationSituationUpdate  = "situation_update"
	NotificationInfo             = "info"
)

type Notification struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"column:user_id;not null;index:idx_notification_user_read,priority:1" json:"user_id"`
	Type      string     `gorm:"size:50;not null" json:"type"`
	Title     string     `gorm:"size:255;not null" json:"title"`
	Message   string     `gorm:"type:text;not null" json:"message"`
	Link      *string    `gorm:"size:500" json:"link"`
	IsRead    bool       `gorm:"column:is_read;not null;index:idx_notification_user_read,priority:2" json:"is_read"`
	ReadAt    *time.Time `gorm:"column:read_at" json:"read_at"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
}
