package apiserver

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/dossierflow/dossierflow/pkg/model"
)

// registerValidators adds the domain tags used in request bindings.
func registerValidators() error {
	engine, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return engine.RegisterValidation("situation_label", func(fl validator.FieldLevel) bool {
		return model.SituationLabel(fl.Field().String()).Valid()
	})
}
