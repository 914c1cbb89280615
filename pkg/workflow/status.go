package workflow

import "github.com/dossierflow/dossierflow/pkg/model"

// CurrentSituation picks the current situation from an in-memory history
// with the same rule the store applies: latest date, then highest id.
func CurrentSituation(situations []model.Situation) *model.Situation {
	var current *model.Situation
	for i := range situations {
		if situations[i].After(current) {
			current = &situations[i]
		}
	}
	return current
}

func labelOrNone(situation *model.Situation) string {
	if situation == nil {
		return "Aucun"
	}
	return string(situation.Label)
}
