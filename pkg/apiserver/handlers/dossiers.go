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

type DossierHandler struct {
	dossierAccess
	engine *workflow.Engine
}

func NewDossierHandler(engine *workflow.Engine, listings *listing.Service, scoper Scoper, logger *zap.Logger) *DossierHandler {
	return &DossierHandler{
		dossierAccess: dossierAccess{listing: listings, scoper: scoper, logger: logger},
		engine:        engine,
	}
}

type createDossierRequest struct {
	Title      string `json:"intitule_dossier" binding:"required"`
	DivisionID uint   `json:"id_division" binding:"required"`
	ServiceID  *uint  `json:"id_service"`
}

type updateDossierRequest struct {
	Title string `json:"intitule_dossier" binding:"required"`
}

type addInstructionRequest struct {
	DossierID     uint `json:"num_dossier" binding:"required"`
	InstructionID uint `json:"id_instruction" binding:"required"`
}

func (h *DossierHandler) List(c *gin.Context) {
	raw := strings.ToLower(strings.TrimSpace(c.Query("status")))
	if raw == "all" {
		raw = ""
	}
	status, ok := model.ParseStatusFilter(raw)
	if !ok {
		middleware.WriteError(c, h.logger, apperror.Validation("Filtre de statut invalide: "+raw))
		return
	}

	page, err := h.listing.List(c.Request.Context(), listing.Filter{
		Scope:    h.scope(c),
		Search:   strings.TrimSpace(c.Query("search")),
		Status:   status,
		Page:     parseLimit(c.Query("page"), 1),
		PageSize: parseLimit(c.Query("limit"), listing.DefaultPageSize),
	})
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *DossierHandler) Create(c *gin.Context) {
	var req createDossierRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	user := middleware.CurrentUser(c)
	created, err := h.engine.CreateDossier(c.Request.Context(), workflow.NewDossier{
		Title:      req.Title,
		DivisionID: req.DivisionID,
		ServiceID:  req.ServiceID,
	}, user.UserID)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "Dossier créé avec succès",
		"dossier":   created.Dossier,
		"situation": created.Situation,
	})
}

func (h *DossierHandler) Update(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	var req updateDossierRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if _, ok := h.visible(c, id); !ok {
		return
	}

	dossier, err := h.engine.UpdateDossier(c.Request.Context(), id, req.Title)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Dossier mis à jour avec succès", "dossier": dossier})
}

func (h *DossierHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	if _, ok := h.visible(c, id); !ok {
		return
	}

	if err := h.engine.DeleteDossier(c.Request.Context(), id); err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Dossier supprimé avec succès"})
}

// Suivi returns the dossier with its full history, oldest situation first.
func (h *DossierHandler) Suivi(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	if _, ok := h.visible(c, id); !ok {
		return
	}

	history, err := h.engine.History(c.Request.Context(), id)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dossier":            history.Dossier,
		"situation_actuelle": history.Current,
	})
}

func (h *DossierHandler) Instructions(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	if _, ok := h.visible(c, id); !ok {
		return
	}

	links, err := h.engine.Instructions(c.Request.Context(), id)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, links)
}

func (h *DossierHandler) AddInstruction(c *gin.Context) {
	var req addInstructionRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if _, ok := h.visible(c, req.DossierID); !ok {
		return
	}

	user := middleware.CurrentUser(c)
	attachment, err := h.engine.AttachInstruction(c.Request.Context(), req.DossierID, req.InstructionID, user.UserID)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":            "Instruction ajoutée au dossier",
		"situation":          attachment.Situation,
		"dossierInstruction": attachment.Link,
	})
}
