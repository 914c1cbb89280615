package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/apiserver/middleware"
	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/listing"
)

// Scoper derives the dossier visibility of a caller.
type Scoper interface {
	Scope(user *access.UserContext) access.Scope
}

func parseLimit(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// parseID reads a positive numeric path parameter, answering 400 itself
// when it is malformed.
func parseID(c *gin.Context, logger *zap.Logger, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || value == 0 {
		middleware.WriteError(c, logger, apperror.Validation(fmt.Sprintf("Identifiant invalide: %s", name)))
		return 0, false
	}
	return uint(value), true
}

// parseQueryID reads an optional numeric query filter.
func parseQueryID(c *gin.Context, name string) (*uint, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		return nil, apperror.Validation(fmt.Sprintf("Identifiant invalide: %s", name))
	}
	id := uint(value)
	return &id, nil
}

// parseQueryDate accepts a calendar day or an RFC 3339 instant. A bare day
// used as an upper bound covers the whole day.
func parseQueryDate(c *gin.Context, name string, endOfDay bool) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	if day, err := time.Parse(time.DateOnly, raw); err == nil {
		if endOfDay {
			day = day.Add(24*time.Hour - time.Nanosecond)
		}
		return &day, nil
	}
	instant, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("Date invalide: %s", name))
	}
	return &instant, nil
}

func bindJSON(c *gin.Context, logger *zap.Logger, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		middleware.WriteError(c, logger, apperror.Validation("Requête invalide: "+err.Error()))
		return false
	}
	return true
}

// dossierAccess gates dossier routes on the caller's scope: a dossier the
// caller cannot see does not exist for it.
type dossierAccess struct {
	listing *listing.Service
	scoper  Scoper
	logger  *zap.Logger
}

func (a dossierAccess) scope(c *gin.Context) access.Scope {
	return a.scoper.Scope(middleware.CurrentUser(c))
}

func (a dossierAccess) visible(c *gin.Context, id uint) (*listing.Entry, bool) {
	entry, err := a.listing.Get(c.Request.Context(), a.scope(c), id)
	if err != nil {
		middleware.WriteError(c, a.logger, err)
		return nil, false
	}
	return entry, true
}
