package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/service"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
}

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return v.claims, nil
}

type auditSink struct {
	logs []*models.AuditLog
}

func (a *auditSink) Create(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func protectedRouter(roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	auth := JWT(validatorStub{claims: &models.JWTClaims{UserID: "u-1", Role: models.RoleProfessor}})
	r.GET("/things", auth, RequireRoles(roles...), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestJWTRejectsMissingAndInvalidTokens(t *testing.T) {
	r := protectedRouter(models.RoleProfessor)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/things", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/things", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/things", nil)
	req.Header.Set("Authorization", "Bearer good")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAcceptsQueryTokenOnlyForWebsocketUpgrade(t *testing.T) {
	r := protectedRouter(models.RoleProfessor)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/things?access_token=good", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/things?access_token=good", nil)
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRolesForbidsOtherRoles(t *testing.T) {
	r := protectedRouter(models.RoleAdmin, models.RoleRegistrar)

	req := httptest.NewRequest(http.MethodGet, "/things", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &auditSink{}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	})
	r.DELETE("/students/:registration", Audit(sink, models.AuditActionStudentDelete, "student", "registration"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.DELETE("/courses/:code", Audit(sink, models.AuditActionCourseDelete, "course", "code"), func(c *gin.Context) {
		c.Status(http.StatusPreconditionFailed)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/students/2024001", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/courses/MAT101", nil))
	require.Equal(t, http.StatusPreconditionFailed, w.Code)

	require.Len(t, sink.logs, 1)
	assert.Equal(t, models.AuditActionStudentDelete, sink.logs[0].Action)
	require.NotNil(t, sink.logs[0].ResourceID)
	assert.Equal(t, "2024001", *sink.logs[0].ResourceID)
	require.NotNil(t, sink.logs[0].UserID)
	assert.Equal(t, "admin-1", *sink.logs[0].UserID)
}

func TestCacheHitMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	SetCacheHit(c, true)
	meta := ExtractMeta(c)
	require.NotNil(t, meta)
	assert.Equal(t, true, meta["cache_hit"])
	assert.NotContains(t, meta, "processing_time_ms")
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	meta = ExtractMeta(c, time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, meta["processing_time_ms"], int64(1000))
}

func TestResponseMetaMeasuresFromRequestStart(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WithResponseMeta())
	r.GET("/report", func(c *gin.Context) {
		SetCacheHit(c, false)
		c.JSON(http.StatusOK, ExtractMeta(c))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/report", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"processing_time_ms"`)
	assert.Contains(t, w.Body.String(), `"cache_hit":false`)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
}

func TestMetricsSkipsHealthRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/students/:registration", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/students/2024001", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, uint64(2), metrics.Snapshot().RequestsTotal)
}

func TestRequireRolesRejectsMissingClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
