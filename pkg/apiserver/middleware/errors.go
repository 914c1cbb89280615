package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/apperror"
)

// WriteError renders err as the JSON error body. Internal errors are
// logged in full and answered with a generic message.
func WriteError(c *gin.Context, logger *zap.Logger, err error) {
	status, body := errorResponse(c, logger, err)
	c.JSON(status, body)
}

func AbortWithError(c *gin.Context, logger *zap.Logger, err error) {
	status, body := errorResponse(c, logger, err)
	c.AbortWithStatusJSON(status, body)
}

func errorResponse(c *gin.Context, logger *zap.Logger, err error) (int, gin.H) {
	var permErr *access.PermissionError
	if errors.As(err, &permErr) {
		return http.StatusForbidden, gin.H{
			"message":         "Insufficient permissions",
			"required":        permErr.Required,
			"missing":         permErr.Missing,
			"userPermissions": nonNil(permErr.Granted),
		}
	}

	status := apperror.HTTPStatus(err)
	body := gin.H{"message": apperror.PublicMessage(err)}
	if status >= http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetString(requestIDKey)),
				zap.Error(err),
			)
		}
		return status, body
	}
	body["error"] = apperror.KindOf(err).String()
	return status, body
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
