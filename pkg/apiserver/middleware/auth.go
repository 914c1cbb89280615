package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/metrics"
)

const userContextKey = "dossierflow.user"

// Authenticator resolves a bearer token into the caller's identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*access.UserContext, error)
}

// Auth rejects requests without a valid bearer token and stores the
// resolved identity on the gin context.
func Auth(authenticator Authenticator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing authorization"})
			return
		}
		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid authorization"})
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "empty token"})
			return
		}

		user, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, logger, err)
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

// RequirePermissions lets the request through only when the caller holds
// every listed code.
func RequirePermissions(logger *zap.Logger, codes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := access.Authorize(CurrentUser(c), codes...); err != nil {
			metrics.PermissionDenials.WithLabelValues(c.FullPath()).Inc()
			AbortWithError(c, logger, err)
			return
		}
		c.Next()
	}
}

// CurrentUser returns the identity stored by Auth, or nil.
func CurrentUser(c *gin.Context) *access.UserContext {
	value, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, _ := value.(*access.UserContext)
	return user
}

// SetCurrentUser is used by tests that bypass Auth.
func SetCurrentUser(c *gin.Context, user *access.UserContext) {
	c.Set(userContextKey, user)
}
