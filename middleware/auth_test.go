package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkout-service/common/auth"
	"checkout-service/middleware"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(trustHeaders bool) *gin.Engine {
	r := gin.New()
	r.Use(middleware.AuthMiddleware(auth.NewTokenVerifier(secret), trustHeaders, zap.NewNop()))
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, middleware.GetUserID(c))
	})
	return r
}

func accessToken(t *testing.T, sub, typ, key string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"typ": typ,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func do(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_GatewayHeader(t *testing.T) {
	w := do(newRouter(true), map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())

	w = do(newRouter(false), map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	r := newRouter(false)

	w := do(r, map[string]string{"Authorization": "Bearer " + accessToken(t, "user-2", "access", secret)})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-2", w.Body.String())

	cases := map[string]string{
		"missing":       "",
		"wrong scheme":  "Basic abc",
		"bad signature": "Bearer " + accessToken(t, "user-2", "access", "other"),
		"refresh token": "Bearer " + accessToken(t, "user-2", "refresh", secret),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(r, map[string]string{"Authorization": header})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "unauthenticated")
		})
	}
}
