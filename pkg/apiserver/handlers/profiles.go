package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/apiserver/middleware"
	"github.com/dossierflow/dossierflow/pkg/identity"
)

type ProfileHandler struct {
	identity *identity.Service
	logger   *zap.Logger
}

func NewProfileHandler(identities *identity.Service, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{identity: identities, logger: logger}
}

type profileRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type permissionRequest struct {
	Name        string `json:"name" binding:"required"`
	Code        string `json:"code_name" binding:"required"`
	Description string `json:"description"`
}

func (h *ProfileHandler) List(c *gin.Context) {
	profiles, err := h.identity.Profiles(c.Request.Context())
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (h *ProfileHandler) Get(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	profile, err := h.identity.Profile(c.Request.Context(), id)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *ProfileHandler) Create(c *gin.Context) {
	var req profileRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	profile, err := h.identity.CreateProfile(c.Request.Context(), identity.ProfileInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

func (h *ProfileHandler) ListPermissions(c *gin.Context) {
	perms, err := h.identity.Permissions(c.Request.Context())
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, perms)
}

func (h *ProfileHandler) CreatePermission(c *gin.Context) {
	var req permissionRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	perm, err := h.identity.CreatePermission(c.Request.Context(), identity.PermissionInput{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
	})
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, perm)
}
