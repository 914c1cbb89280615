package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/apiserver/middleware"
	"github.com/dossierflow/dossierflow/pkg/directory"
)

type DirectoryHandler struct {
	directory *directory.Directory
	logger    *zap.Logger
}

func NewDirectoryHandler(dir *directory.Directory, logger *zap.Logger) *DirectoryHandler {
	return &DirectoryHandler{directory: dir, logger: logger}
}

type divisionRequest struct {
	LabelFr *string `json:"lib_division_fr"`
	LabelAr *string `json:"lib_division_ar"`
}

type serviceRequest struct {
	LabelFr    *string `json:"lib_service_fr"`
	LabelAr    *string `json:"lib_service_ar"`
	DivisionID *uint   `json:"id_division"`
}

func (h *DirectoryHandler) ListDivisions(c *gin.Context) {
	divisions, err := h.directory.Divisions(c.Request.Context())
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, divisions)
}

func (h *DirectoryHandler) GetDivision(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	division, err := h.directory.Division(c.Request.Context(), id)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, division)
}

func (h *DirectoryHandler) CreateDivision(c *gin.Context) {
	var req divisionRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	division, err := h.directory.CreateDivision(c.Request.Context(), directory.DivisionInput{LabelFr: req.LabelFr, LabelAr: req.LabelAr})
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, division)
}

func (h *DirectoryHandler) UpdateDivision(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	var req divisionRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	division, err := h.directory.UpdateDivision(c.Request.Context(), id, directory.DivisionInput{LabelFr: req.LabelFr, LabelAr: req.LabelAr})
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, division)
}

func (h *DirectoryHandler) DeleteDivision(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	if err := h.directory.DeleteDivision(c.Request.Context(), id); err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Division supprimée avec succès"})
}

func (h *DirectoryHandler) ListServices(c *gin.Context) {
	var divisionID *uint
	if raw := c.Query("id_division"); raw != "" {
		id := uint(parseLimit(raw, 0))
		divisionID = &id
	}
	services, err := h.directory.Services(c.Request.Context(), divisionID)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, services)
}

func (h *DirectoryHandler) GetService(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	service, err := h.directory.Service(c.Request.Context(), id)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, service)
}

func (h *DirectoryHandler) CreateService(c *gin.Context) {
	var req serviceRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	service, err := h.directory.CreateService(c.Request.Context(), directory.ServiceInput{
		LabelFr: req.LabelFr, LabelAr: req.LabelAr, DivisionID: req.DivisionID,
	})
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, service)
}

func (h *DirectoryHandler) UpdateService(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	var req serviceRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	service, err := h.directory.UpdateService(c.Request.Context(), id, directory.ServiceInput{
		LabelFr: req.LabelFr, LabelAr: req.LabelAr, DivisionID: req.DivisionID,
	})
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, service)
}

func (h *DirectoryHandler) DeleteService(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	if err := h.directory.DeleteService(c.Request.Context(), id); err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Service supprimé avec succès"})
}

func (h *DirectoryHandler) ExportDivisions(c *gin.Context) {
	h.export(c, h.directory.ExportDivisions)
}

func (h *DirectoryHandler) ExportServices(c *gin.Context) {
	h.export(c, h.directory.ExportServices)
}

func (h *DirectoryHandler) export(c *gin.Context, render func(ctx context.Context, format directory.Format) (*directory.Export, error)) {
	format, err := directory.ParseFormat(c.Param("format"))
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	export, err := render(c.Request.Context(), format)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	c.Data(http.StatusOK, export.ContentType, export.Data)
}
