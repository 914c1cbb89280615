package model

import "time"

type SituationLabel string

const (
	LabelDossierCree        SituationLabel = "Dossier créé"
	LabelInstructionAjoutee SituationLabel = "Instruction ajoutée"
	LabelNouveau            SituationLabel = "Nouveau"
	LabelEnCours            SituationLabel = "En cours"
	LabelSuspendu           SituationLabel = "Suspendu"
	LabelEnRetard           SituationLabel = "En retard"
	LabelTermine            SituationLabel = "Terminé"
	LabelCloture            SituationLabel = "Clôturé"
)

// InitialLabel opens the history of every new dossier.
const InitialLabel = LabelNouveau

var situationLabels = []SituationLabel{
	LabelDossierCree,
	LabelInstructionAjoutee,
	LabelNouveau,
	LabelEnCours,
	LabelSuspendu,
	LabelEnRetard,
	LabelTermine,
	LabelCloture,
}

func SituationLabels() []SituationLabel {
	out := make([]SituationLabel, len(situationLabels))
	copy(out, situationLabels)
	return out
}

func (l SituationLabel) Valid() bool {
	for _, label := range situationLabels {
		if label == l {
			return true
		}
	}
	return false
}

// StatusFilter groups situation labels for listing.
type StatusFilter string

const (
	StatusAll       StatusFilter = ""
	StatusNew       StatusFilter = "new"
	StatusCompleted StatusFilter = "completed"
	StatusProgress  StatusFilter = "progress"
)

func ParseStatusFilter(value string) (StatusFilter, bool) {
	switch StatusFilter(value) {
	case StatusAll, StatusNew, StatusCompleted, StatusProgress:
		return StatusFilter(value), true
	default:
		return StatusAll, false
	}
}

var (
	newLabels       = []SituationLabel{LabelNouveau, LabelDossierCree}
	completedLabels = []SituationLabel{LabelTermine}
)

func (f StatusFilter) IncludedLabels() []SituationLabel {
	switch f {
	case StatusNew:
		return newLabels
	case StatusCompleted:
		return completedLabels
	default:
		return nil
	}
}

// ExcludedLabels lists what "progress" must not match: anything neither
// new nor completed.
func (f StatusFilter) ExcludedLabels() []SituationLabel {
	if f != StatusProgress {
		return nil
	}
	out := make([]SituationLabel, 0, len(newLabels)+len(completedLabels))
	out = append(out, newLabels...)
	return append(out, completedLabels...)
}

func (f StatusFilter) Matches(label SituationLabel) bool {
	switch f {
	case StatusAll:
		return true
	case StatusProgress:
		for _, excluded := range f.ExcludedLabels() {
			if excluded == label {
				return false
			}
		}
		return true
	default:
		for _, included := range f.IncludedLabels() {
			if included == label {
				return true
			}
		}
		return false
	}
}

type Dossier struct {
	ID         uint        `gorm:"column:num_dossier;primaryKey" json:"num_dossier"`
	Title      string      `gorm:"column:intitule_dossier;size:500;not null" json:"intitule_dossier"`
	DivisionID uint        `gorm:"column:id_division;not null;index" json:"id_division"`
	Division   *Division   `gorm:"foreignKey:DivisionID" json:"division,omitempty"`
	ServiceID  *uint       `gorm:"column:id_service;index" json:"id_service"`
	Service    *Service    `gorm:"foreignKey:ServiceID" json:"service,omitempty"`
	UserID     uint        `gorm:"column:id_user;not null;index" json:"id_user"`
	User       *User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedOn  time.Time   `gorm:"column:date_creation;not null;index" json:"date_creation"`
	ModifiedOn time.Time   `gorm:"column:date_dernier_modification;not null;index" json:"date_dernier_modification"`
	Situations []Situation `gorm:"foreignKey:DossierID" json:"situations,omitempty"`
}

// Situation rows are append-only: the engine never updates or deletes one
// except when the owning dossier itself is deleted.
type Situation struct {
	ID           uint                 `gorm:"column:num_situation;primaryKey" json:"num_situation"`
	DossierID    uint                 `gorm:"column:num_dossier;not null;index:idx_situation_latest,priority:1" json:"num_dossier"`
	Label        SituationLabel       `gorm:"column:libelle_situation;size:50;not null;index" json:"libelle_situation"`
	Observation  *string              `gorm:"column:observation_situation;type:text" json:"observation_situation"`
	Date         time.Time            `gorm:"column:date_situation;not null;index:idx_situation_latest,priority:2" json:"date_situation"`
	ModifiedOn   time.Time            `gorm:"column:date_dernier_modification;not null" json:"date_dernier_modification"`
	UserID       *uint                `gorm:"column:id_user;index" json:"id_user"`
	User         *User                `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Instructions []DossierInstruction `gorm:"foreignKey:SituationID" json:"instructions,omitempty"`
}

func (Situation) TableName() string {
	return "situation_dossiers"
}

// After reports whether s supersedes other as the current situation:
// the later date wins and ties fall back to the higher id.
func (s *Situation) After(other *Situation) bool {
	if other == nil {
		return true
	}
	if !s.Date.Equal(other.Date) {
		return s.Date.After(other.Date)
	}
	return s.ID > other.ID
}

type Instruction struct {
	ID          uint      `gorm:"column:id_instruction;primaryKey" json:"id_instruction"`
	Label       string    `gorm:"column:libelle_instruction;size:500;not null" json:"libelle_instruction"`
	Description *string   `gorm:"type:text" json:"description"`
	UserID      *uint     `gorm:"column:id_user;index" json:"id_user"`
	User        *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type DossierInstruction struct {
	DossierID     uint         `gorm:"column:num_dossier;primaryKey;autoIncrement:false" json:"num_dossier"`
	SituationID   uint         `gorm:"column:num_situation;primaryKey;autoIncrement:false" json:"num_situation"`
	InstructionID uint         `gorm:"column:num_instruction;primaryKey;autoIncrement:false;index" json:"num_instruction"`
	Instruction   *Instruction `gorm:"foreignKey:InstructionID" json:"instruction,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (DossierInstruction) TableName() string {
	return "dossier_instructions"
}
