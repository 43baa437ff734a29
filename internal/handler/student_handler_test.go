package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/service"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *appErrors.Error {
	t.Helper()
	var body struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error
}

type studentServiceMock struct {
	lastFilter  models.StudentFilter
	lastCodes   []string
	lastRankN   int
	createErr   error
	cr          float64
	ranking     []models.RankedStudent
	deleteCalls int
}

func (m *studentServiceMock) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.Student{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *studentServiceMock) Get(ctx context.Context, registration string) (*models.StudentDetail, error) {
	if registration == "missing" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return &models.StudentDetail{Student: models.Student{Registration: registration}}, nil
}

func (m *studentServiceMock) Create(ctx context.Context, req service.CreateStudentRequest) (*models.Student, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &models.Student{Registration: req.Registration, Person: models.Person{Name: req.Name, Email: req.Email}}, nil
}

func (m *studentServiceMock) Update(ctx context.Context, registration string, req service.UpdateStudentRequest) (*models.Student, error) {
	return &models.Student{Registration: registration}, nil
}

func (m *studentServiceMock) Delete(ctx context.Context, registration string) error {
	m.deleteCalls++
	return nil
}

func (m *studentServiceMock) History(ctx context.Context, registration string) ([]models.HistoryEntry, error) {
	return []models.HistoryEntry{}, nil
}

func (m *studentServiceMock) RecomputeCR(ctx context.Context, registration string) (float64, error) {
	return m.cr, nil
}

func (m *studentServiceMock) CheckPrerequisites(ctx context.Context, registration string, courseCodes []string) ([]service.PrerequisiteStatus, error) {
	m.lastCodes = courseCodes
	return []service.PrerequisiteStatus{}, nil
}

func (m *studentServiceMock) Ranking(ctx context.Context, n int) ([]models.RankedStudent, error) {
	m.lastRankN = n
	return m.ranking, nil
}

func TestStudentHandlerListOrderByCR(t *testing.T) {
	mock := &studentServiceMock{}
	handler := NewStudentHandler(mock)
	c, w := newGinContext(http.MethodGet, "/students?order_by_cr=true&search=%20ana%20&page=2&limit=5", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cr", mock.lastFilter.SortBy)
	assert.Equal(t, "desc", mock.lastFilter.SortOrder)
	assert.Equal(t, "ana", mock.lastFilter.Search)
	assert.Equal(t, 2, mock.lastFilter.Page)
	assert.Equal(t, 5, mock.lastFilter.PageSize)
}

func TestStudentHandlerCreate(t *testing.T) {
	handler := NewStudentHandler(&studentServiceMock{})
	payload, _ := json.Marshal(service.CreateStudentRequest{Registration: "2024001", Name: "Ana", Email: "ana@example.com"})
	c, w := newGinContext(http.MethodPost, "/students", payload)

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"registration":"2024001"`)
}

func TestStudentHandlerCreateConflict(t *testing.T) {
	handler := NewStudentHandler(&studentServiceMock{createErr: appErrors.Clone(appErrors.ErrConflict, "registration already exists")})
	payload, _ := json.Marshal(service.CreateStudentRequest{Registration: "2024001", Name: "Ana", Email: "ana@example.com"})
	c, w := newGinContext(http.MethodPost, "/students", payload)

	handler.Create(c)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrConflict.Code, decodeError(t, w).Code)
}

func TestStudentHandlerGetNotFound(t *testing.T) {
	handler := NewStudentHandler(&studentServiceMock{})
	c, w := newGinContext(http.MethodGet, "/students/missing", nil)
	c.Params = gin.Params{{Key: "registration", Value: "missing"}}

	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStudentHandlerCR(t *testing.T) {
	handler := NewStudentHandler(&studentServiceMock{cr: 7.25})
	c, w := newGinContext(http.MethodGet, "/students/2024001/cr", nil)
	c.Params = gin.Params{{Key: "registration", Value: "2024001"}}

	handler.CR(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cr":7.25`)
}

func TestStudentHandlerPrerequisitesSplitsCodes(t *testing.T) {
	mock := &studentServiceMock{}
	handler := NewStudentHandler(mock)
	c, w := newGinContext(http.MethodGet, "/students/2024001/prerequisites?courses=MAT101,%20FIS101,,", nil)
	c.Params = gin.Params{{Key: "registration", Value: "2024001"}}

	handler.Prerequisites(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"MAT101", "FIS101"}, mock.lastCodes)

	c, w = newGinContext(http.MethodGet, "/students/2024001/prerequisites", nil)
	handler.Prerequisites(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStudentHandlerRankingRejectsNonPositive(t *testing.T) {
	mock := &studentServiceMock{ranking: []models.RankedStudent{{Position: 1, Registration: "R1", CR: 9}}}
	handler := NewStudentHandler(mock)

	for _, n := range []string{"0", "-1", "abc"} {
		c, w := newGinContext(http.MethodGet, "/students/ranking/top/"+n, nil)
		c.Params = gin.Params{{Key: "n", Value: n}}
		handler.Ranking(c)
		assert.Equal(t, http.StatusBadRequest, w.Code, n)
	}

	c, w := newGinContext(http.MethodGet, "/students/ranking/top/3", nil)
	c.Params = gin.Params{{Key: "n", Value: "3"}}
	handler.Ranking(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, mock.lastRankN)
}

func TestStudentHandlerDelete(t *testing.T) {
	mock := &studentServiceMock{}
	handler := NewStudentHandler(mock)
	c, w := newGinContext(http.MethodDelete, "/students/2024001", nil)
	c.Params = gin.Params{{Key: "registration", Value: "2024001"}}

	handler.Delete(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, mock.deleteCalls)
}
