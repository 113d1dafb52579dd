package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"github.com/settlus/settlegate/internal/config"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
)

const HeaderAdminKey = "X-Admin-Key"

// AdminMiddleware guards settler management and the devnet faucet. The
// routes stay closed until auth.admin_key is configured. The owner check
// on settler grants happens in the registry, on top of this key.
func AdminMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || cfg.Auth.AdminKey == "" {
			abortWith(c, apperrors.NewUnauthorized("admin routes are disabled: auth.admin_key is not configured"))
			return
		}
		given := c.GetHeader(HeaderAdminKey)
		if subtle.ConstantTimeCompare([]byte(given), []byte(cfg.Auth.AdminKey)) != 1 {
			abortWith(c, apperrors.New(apperrors.ErrAuthFailed, "invalid "+HeaderAdminKey, nil))
			return
		}
		c.Next()
	}
}

// abortWith stops the chain and renders err the way ErrorHandler does.
func abortWith(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus, err)
}
