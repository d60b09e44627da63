package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, header string) (string, string) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	var fromCtx string
	r.GET("/", func(c *gin.Context) {
		fromCtx = FromContext(c.Request.Context())
		assert.Equal(t, fromCtx, Value(c))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(headerKey, header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Header().Get(headerKey), fromCtx
}

func TestMiddlewareGeneratesID(t *testing.T) {
	header, fromCtx := serve(t, "")
	_, err := uuid.Parse(header)
	assert.NoError(t, err)
	assert.Equal(t, header, fromCtx)
}

func TestMiddlewareKeepsCallerID(t *testing.T) {
	header, _ := serve(t, "trace-123")
	assert.Equal(t, "trace-123", header)
}

func TestMiddlewareReplacesOversizedID(t *testing.T) {
	header, _ := serve(t, strings.Repeat("x", maxLength+1))
	assert.NotEqual(t, strings.Repeat("x", maxLength+1), header)
}
