package middleware

import (
	"strings"

	"checkout-service/common/auth"
	apperrors "checkout-service/common/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const UserContextKey = "userID"

// AuthMiddleware resolves the caller. Behind the API gateway the X-User-ID
// header is trusted; otherwise a bearer access token must verify.
func AuthMiddleware(verifier *auth.TokenVerifier, trustGatewayHeaders bool, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if trustGatewayHeaders {
			if userID := strings.TrimSpace(c.GetHeader("X-User-ID")); userID != "" {
				c.Set(UserContextKey, userID)
				c.Next()
				return
			}
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || verifier == nil {
			abortUnauthenticated(c)
			return
		}

		userID, err := verifier.UserID(token)
		if err != nil {
			logger.Debug("Rejected access token", zap.String("path", c.FullPath()), zap.Error(err))
			abortUnauthenticated(c)
			return
		}

		c.Set(UserContextKey, userID)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthenticated(c *gin.Context) {
	appErr := apperrors.Unauthenticated("Unauthorized")
	c.AbortWithStatusJSON(appErr.Code, appErr.Body())
}

// GetUserID returns the caller resolved by AuthMiddleware, or "" when absent.
func GetUserID(c *gin.Context) string {
	if val, ok := c.Get(UserContextKey); ok {
		if id, ok := val.(string); ok {
			return id
		}
	}
	return ""
}
