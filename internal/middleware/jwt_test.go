package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

type stubVerifier struct {
	tokens map[string]*models.UserProfile
	seen   []string
}

func (s *stubVerifier) VerifyAccess(ctx context.Context, token string) (*models.UserProfile, error) {
	s.seen = append(s.seen, token)
	if profile, ok := s.tokens[token]; ok {
		return profile, nil
	}
	return nil, appErrors.ErrTokenExpired
}

func newProtectedRouter(verifier AccessVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWT(verifier), func(c *gin.Context) {
		profile, ok := ProfileFromContext(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": profile.ID})
	})
	return r
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestJWTAcceptsCookieAndBearer(t *testing.T) {
	verifier := &stubVerifier{tokens: map[string]*models.UserProfile{"good": {ID: "alice-id"}}}
	router := newProtectedRouter(verifier)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "good"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"alice-id"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTPrefersCookie(t *testing.T) {
	verifier := &stubVerifier{tokens: map[string]*models.UserProfile{"cookie": {ID: "alice-id"}}}
	router := newProtectedRouter(verifier)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "cookie"})
	req.Header.Set("Authorization", "Bearer header")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"cookie"}, verifier.seen)
}

func TestJWTRejections(t *testing.T) {
	cases := []struct {
		name   string
		header string
		code   string
	}{
		{name: "missing", code: appErrors.ErrUnauthorized.Code},
		{name: "wrong scheme", header: "Basic abc", code: appErrors.ErrUnauthorized.Code},
		{name: "empty bearer", header: "Bearer ", code: appErrors.ErrUnauthorized.Code},
		{name: "verifier error", header: "Bearer stale", code: appErrors.ErrTokenExpired.Code},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newProtectedRouter(&stubVerifier{})
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

type recordingObserver struct {
	paths []string
}

func (o *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.paths = append(o.paths, method+" "+path)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, []string{"GET /users/:id", "GET unmatched"}, observer.paths)
}

func TestJWTCarriesProfileOnlyInRequestContext(t *testing.T) {
	verifier := &stubVerifier{tokens: map[string]*models.UserProfile{"good": {ID: "alice-id"}}}
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var keys map[string]any
	var fromContext *models.UserProfile
	r.GET("/me", JWT(verifier), func(c *gin.Context) {
		keys = c.Keys
		fromContext, _ = ProfileFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, fromContext)
	assert.Equal(t, "alice-id", fromContext.ID)
	assert.Empty(t, keys)
}
