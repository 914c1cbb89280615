package workflow

import (
	"testing"
	"time"

	"github.com/dossierflow/dossierflow/pkg/model"
)

func TestCurrentSituation(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	situations := []model.Situation{
		{ID: 1, Label: model.LabelNouveau, Date: base},
		{ID: 3, Label: model.LabelSuspendu, Date: base.Add(time.Hour)},
		{ID: 2, Label: model.LabelEnCours, Date: base.Add(time.Hour)},
	}

	current := CurrentSituation(situations)
	if current == nil || current.ID != 3 {
		t.Fatalf("expected situation 3, got %+v", current)
	}
	if CurrentSituation(nil) != nil {
		t.Fatal("expected nil for empty history")
	}
}

func TestLabelOrNone(t *testing.T) {
	if labelOrNone(nil) != "Aucun" {
		t.Fatal("expected placeholder for missing situation")
	}
	if got := labelOrNone(&model.Situation{Label: model.LabelTermine}); got != "Terminé" {
		t.Fatalf("unexpected label %q", got)
	}
}
