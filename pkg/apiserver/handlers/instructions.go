package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/apiserver/middleware"
	"github.com/dossierflow/dossierflow/pkg/workflow"
)

type InstructionHandler struct {
	catalog *workflow.InstructionCatalog
	logger  *zap.Logger
}

func NewInstructionHandler(catalog *workflow.InstructionCatalog, logger *zap.Logger) *InstructionHandler {
	return &InstructionHandler{catalog: catalog, logger: logger}
}

type instructionRequest struct {
	Label       *string `json:"libelle_instruction"`
	Description *string `json:"description"`
}

func (h *InstructionHandler) List(c *gin.Context) {
	instructions, err := h.catalog.List(c.Request.Context())
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, instructions)
}

func (h *InstructionHandler) Get(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	instruction, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, instruction)
}

func (h *InstructionHandler) Create(c *gin.Context) {
	var req instructionRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	instruction, err := h.catalog.Create(c.Request.Context(), workflow.InstructionInput{
		Label:       req.Label,
		Description: req.Description,
	}, middleware.CurrentUser(c).UserID)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, instruction)
}

func (h *InstructionHandler) Update(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	var req instructionRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	instruction, err := h.catalog.Update(c.Request.Context(), id, workflow.InstructionInput{
		Label:       req.Label,
		Description: req.Description,
	})
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, instruction)
}

func (h *InstructionHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	if err := h.catalog.Delete(c.Request.Context(), id); err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Instruction supprimée avec succès"})
}
