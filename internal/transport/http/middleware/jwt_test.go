package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat/internal/pkg/jwtutil"
)

const testSecret = "test-secret"

func newGuardedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", AuthJWT(testSecret), func(c *gin.Context) {
		userID, _ := c.Get(ContextUserIDKey)
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})
	return router
}

func doRequest(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthJWT_ValidToken(t *testing.T) {
	router := newGuardedRouter()
	token, err := jwtutil.GenerateToken(testSecret, time.Hour, 42, "alice")
	require.NoError(t, err)

	rec := doRequest(router, "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "42")
}

func TestAuthJWT_MissingOrMalformedHeader(t *testing.T) {
	router := newGuardedRouter()

	for _, header := range []string{"", "Basic abc", "Bearer", "Bearer   "} {
		rec := doRequest(router, header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestAuthJWT_WrongSecret(t *testing.T) {
	router := newGuardedRouter()
	token, err := jwtutil.GenerateToken("other-secret", time.Hour, 42, "alice")
	require.NoError(t, err)

	rec := doRequest(router, "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthJWT_ZeroUserIDRejected(t *testing.T) {
	router := newGuardedRouter()
	token, err := jwtutil.GenerateToken(testSecret, time.Hour, 0, "ghost")
	require.NoError(t, err)

	rec := doRequest(router, "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
