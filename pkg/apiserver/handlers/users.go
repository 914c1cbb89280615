package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/apiserver/middleware"
	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/identity"
)

type UserHandler struct {
	identity *identity.Service
	logger   *zap.Logger
}

func NewUserHandler(identities *identity.Service, logger *zap.Logger) *UserHandler {
	return &UserHandler{identity: identities, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type userRequest struct {
	Username   *string `json:"username"`
	Email      *string `json:"email"`
	Password   *string `json:"password"`
	ProfileID  *uint   `json:"id_profile"`
	DivisionID *uint   `json:"id_division"`
	ServiceID  *uint   `json:"id_service"`
	IsActive   *bool   `json:"is_active"`
	Photo      *string `json:"photo"`
}

func (r userRequest) input() identity.UserInput {
	return identity.UserInput{
		Username:   r.Username,
		Email:      r.Email,
		Password:   r.Password,
		ProfileID:  r.ProfileID,
		DivisionID: r.DivisionID,
		ServiceID:  r.ServiceID,
		IsActive:   r.IsActive,
		Photo:      r.Photo,
	}
}

// administrative reports whether the request touches fields only user
// managers may change.
func (r userRequest) administrative() bool {
	return r.ProfileID != nil || r.DivisionID != nil || r.ServiceID != nil || r.IsActive != nil
}

func (h *UserHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	session, err := h.identity.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "Connexion réussie",
		"token":       session.Token,
		"user":        session.User,
		"permissions": session.Permissions,
	})
}

// Me returns the identity resolved for the current token.
func (h *UserHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.CurrentUser(c))
}

func (h *UserHandler) List(c *gin.Context) {
	users, err := h.identity.Users(c.Request.Context())
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) Get(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	user, err := h.identity.User(c.Request.Context(), id)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) Create(c *gin.Context) {
	var req userRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	user, err := h.identity.CreateUser(c.Request.Context(), req.input())
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// Update lets managers edit anyone. Other users may edit their own
// credentials and photo but not their profile or assignment.
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	var req userRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	caller := middleware.CurrentUser(c)
	if !caller.Has(access.ManageUsers) {
		if caller.UserID != id {
			middleware.WriteError(c, h.logger, access.Authorize(caller, access.ManageUsers))
			return
		}
		if req.administrative() {
			middleware.WriteError(c, h.logger, apperror.Forbidden("Seul un gestionnaire peut modifier le profil ou l'affectation"))
			return
		}
	}

	user, err := h.identity.UpdateUser(c.Request.Context(), id, req.input())
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return
	}
	if caller := middleware.CurrentUser(c); caller.UserID == id {
		middleware.WriteError(c, h.logger, apperror.Validation("Impossible de supprimer votre propre compte"))
		return
	}
	if err := h.identity.DeleteUser(c.Request.Context(), id); err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Utilisateur supprimé avec succès"})
}
