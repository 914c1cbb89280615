package model

import "time"

type Division struct {
	ID        uint      `gorm:"column:id_division;primaryKey" json:"id_division"`
	LabelFr   string    `gorm:"column:lib_division_fr;size:255;not null" json:"lib_division_fr"`
	LabelAr   string    `gorm:"column:lib_division_ar;size:255;not null" json:"lib_division_ar"`
	Services  []Service `gorm:"foreignKey:DivisionID" json:"services,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Service struct {
	ID         uint      `gorm:"column:id_service;primaryKey" json:"id_service"`
	LabelFr    string    `gorm:"column:lib_service_fr;size:255;not null" json:"lib_service_fr"`
	LabelAr    string    `gorm:"column:lib_service_ar;size:255" json:"lib_service_ar"`
	DivisionID uint      `gorm:"column:id_division;not null;index" json:"id_division"`
	Division   *Division `gorm:"foreignKey:DivisionID" json:"division,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
