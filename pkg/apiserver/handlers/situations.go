package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/apiserver/middleware"
	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/listing"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/workflow"
)

type SituationHandler struct {
	dossierAccess
	engine *workflow.Engine
}

func NewSituationHandler(engine *workflow.Engine, listings *listing.Service, scoper Scoper, logger *zap.Logger) *SituationHandler {
	return &SituationHandler{
		dossierAccess: dossierAccess{listing: listings, scoper: scoper, logger: logger},
		engine:        engine,
	}
}

type changeStateRequest struct {
	NewState    string  `json:"nouveau_etat" binding:"required,situation_label"`
	Observation *string `json:"observation"`
}

type addSituationRequest struct {
	Label       string  `json:"libelle_situation" binding:"required,situation_label"`
	Observation *string `json:"observation_situation"`
}

func (h *SituationHandler) ChangeState(c *gin.Context) {
	id, ok := parseID(c, h.logger, "num_dossier")
	if !ok {
		return
	}
	var req changeStateRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if _, ok := h.visible(c, id); !ok {
		return
	}

	user := middleware.CurrentUser(c)
	change, err := h.engine.ChangeState(c.Request.Context(), id, model.SituationLabel(req.NewState), req.Observation, user.UserID)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "État du dossier mis à jour",
		"situation":   change.Situation,
		"ancien_etat": change.PreviousLabel(),
		"nouvel_etat": change.Situation.Label,
	})
}

func (h *SituationHandler) Add(c *gin.Context) {
	id, ok := parseID(c, h.logger, "num_dossier")
	if !ok {
		return
	}
	var req addSituationRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if _, ok := h.visible(c, id); !ok {
		return
	}

	user := middleware.CurrentUser(c)
	change, err := h.engine.AddSituation(c.Request.Context(), id, model.SituationLabel(req.Label), req.Observation, user.UserID)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Situation ajoutée", "situation": change.Situation})
}

func (h *SituationHandler) Current(c *gin.Context) {
	id, ok := parseID(c, h.logger, "num_dossier")
	if !ok {
		return
	}
	if _, ok := h.visible(c, id); !ok {
		return
	}

	situation, err := h.engine.CurrentStatus(c.Request.Context(), id)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"num_dossier": id, "etat": situation.Label, "situation": situation})
}

// Search walks the situation history of every dossier the caller can see.
func (h *SituationHandler) Search(c *gin.Context) {
	filter := listing.SituationFilter{
		Scope:    h.scope(c),
		Search:   strings.TrimSpace(c.Query("search")),
		Page:     parseLimit(c.Query("page"), 1),
		PageSize: parseLimit(c.Query("limit"), listing.DefaultPageSize),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		label := model.SituationLabel(raw)
		if !label.Valid() {
			middleware.WriteError(c, h.logger, apperror.Validation("Libellé de situation invalide: "+raw))
			return
		}
		filter.Label = label
	}

	var err error
	if filter.From, err = parseQueryDate(c, "dateFrom", false); err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	if filter.To, err = parseQueryDate(c, "dateTo", true); err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	if filter.DivisionID, err = parseQueryID(c, "division"); err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	if filter.ServiceID, err = parseQueryID(c, "service"); err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}

	page, err := h.listing.SearchSituations(c.Request.Context(), filter)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *SituationHandler) Dashboard(c *gin.Context) {
	user := middleware.CurrentUser(c)
	board, err := h.listing.SituationsDashboard(c.Request.Context(), user.UserID)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, board)
}
