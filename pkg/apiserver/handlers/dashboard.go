package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/apiserver/middleware"
	"github.com/dossierflow/dossierflow/pkg/listing"
)

type DashboardHandler struct {
	listing *listing.Service
	scoper  Scoper
	logger  *zap.Logger
}

func NewDashboardHandler(listings *listing.Service, scoper Scoper, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{listing: listings, scoper: scoper, logger: logger}
}

func (h *DashboardHandler) Stats(c *gin.Context) {
	scope := h.scoper.Scope(middleware.CurrentUser(c))
	stats, err := h.listing.Dashboard(c.Request.Context(), scope)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
