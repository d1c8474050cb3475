package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockroom/internal/database"
	"stockroom/internal/metrics"
	"stockroom/internal/middleware"
	"stockroom/internal/model"
	"stockroom/internal/repository"
	"stockroom/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "handler-test-secret"

type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
}

type testServer struct {
	t      *testing.T
	db     *gorm.DB
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	_, err = database.SeedAdmin(context.Background(), db, "admin", "admin123", "Administrator")
	require.NoError(t, err)

	userRepo := repository.NewUserRepository(db)
	materialRepo := repository.NewMaterialRepository(db)
	bookRepo := repository.NewBookRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)
	m := metrics.New(prometheus.NewRegistry())

	auth := middleware.NewAuthenticator(testSecret, time.Hour, false)
	router := gin.New()
	root := router.Group("")
	NewUserHandler(service.NewUserService(userRepo, requestRepo, auditRepo, txManager, testSecret, time.Hour, nil), auth).RegisterRoutes(root)
	NewMaterialHandler(service.NewMaterialService(materialRepo, auditRepo, txManager, nil, nil), auth).RegisterRoutes(root)
	NewBookHandler(service.NewBookService(bookRepo, auditRepo, txManager, nil, nil), auth).RegisterRoutes(root)
	NewRequestHandler(service.NewRequestService(requestRepo, materialRepo, auditRepo, txManager, nil, m, nil), auth).RegisterRoutes(root)
	NewAuditHandler(service.NewAuditService(auditRepo), auth).RegisterRoutes(root)
	NewStatisticsHandler(service.NewStatisticsService(repository.NewStatisticsRepository(db)), auth).RegisterRoutes(root)

	return &testServer{t: t, db: db, router: router}
}

func (s *testServer) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (s *testServer) login(username, password string) string {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/login", "", gin.H{"username": username, "password": password})
	require.Equal(s.t, http.StatusOK, w.Code, env.Error)
	var res service.LoginResponse
	require.NoError(s.t, json.Unmarshal(env.Data, &res))
	return res.Token
}

func (s *testServer) createUser(adminToken, username string) string {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/users", adminToken, gin.H{
		"username": username, "password": "secret1", "full_name": username, "role": "user",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, env.Error)
	return s.login(username, "secret1")
}

func (s *testServer) createMaterial(token, name string, quantity int) service.MaterialResponse {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/materials", token, gin.H{"name": name, "category": "Office", "quantity": quantity})
	require.Equal(s.t, http.StatusCreated, w.Code, env.Error)
	var m service.MaterialResponse
	require.NoError(s.t, json.Unmarshal(env.Data, &m))
	return m
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")
	alice := s.createUser(admin, "alice")
	glue := s.createMaterial(admin, "Glue", 10)

	w, env := s.do(http.MethodPost, "/api/requests", alice, gin.H{"material_id": glue.ID, "requested_quantity": 4, "notes": "art class"})
	require.Equal(t, http.StatusCreated, w.Code, env.Error)
	created := decode[service.MaterialRequestResponse](t, env.Data)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "Glue", created.MaterialName)

	// users cannot resolve requests
	w, env = s.do(http.MethodPut, "/api/requests/"+created.ID+"/process", alice, gin.H{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "PERMISSION_DENIED", env.Code)

	w, env = s.do(http.MethodPut, "/api/requests/"+created.ID+"/process", admin, gin.H{"status": "approved", "admin_notes": "ok"})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	processed := decode[service.MaterialRequestResponse](t, env.Data)
	assert.Equal(t, "approved", processed.Status)
	assert.Equal(t, 6, processed.CurrentQuantity)

	w, env = s.do(http.MethodPut, "/api/requests/"+created.ID+"/process", admin, gin.H{"status": "rejected"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", env.Code)

	w, env = s.do(http.MethodGet, "/api/materials/"+glue.ID, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6, decode[service.MaterialResponse](t, env.Data).Quantity)
}

func TestProcessRequest_InsufficientStock(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")
	alice := s.createUser(admin, "alice")
	tape := s.createMaterial(admin, "Tape", 2)

	_, env := s.do(http.MethodPost, "/api/requests", alice, gin.H{"material_id": tape.ID, "requested_quantity": 5})
	created := decode[service.MaterialRequestResponse](t, env.Data)

	w, env := s.do(http.MethodPut, "/api/requests/"+created.ID+"/process", admin, gin.H{"status": "approved"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Code)

	_, env = s.do(http.MethodGet, "/api/materials/"+tape.ID, admin, nil)
	assert.Equal(t, 2, decode[service.MaterialResponse](t, env.Data).Quantity)
}

func TestCreateRequest_ValidationErrors(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")
	alice := s.createUser(admin, "alice")

	w, env := s.do(http.MethodPost, "/api/requests", alice, gin.H{"requested_quantity": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
	assert.Contains(t, env.Error, "material_id")

	w, env = s.do(http.MethodPost, "/api/requests", alice, gin.H{"material_id": uuid.NewString(), "requested_quantity": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Code)

	w, _ = s.do(http.MethodPost, "/api/requests", "", gin.H{"material_id": uuid.NewString(), "requested_quantity": 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestStats_AdminOnly(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")
	alice := s.createUser(admin, "alice")
	paper := s.createMaterial(admin, "Paper", 10)
	s.do(http.MethodPost, "/api/requests", alice, gin.H{"material_id": paper.ID, "requested_quantity": 1})

	w, _ := s.do(http.MethodGet, "/api/requests/stats", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := s.do(http.MethodGet, "/api/requests/stats", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[model.RequestStats](t, env.Data)
	assert.EqualValues(t, 1, stats.Total)
	assert.EqualValues(t, 1, stats.Pending)
}

func TestLoginCookieAuthenticates(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewBufferString(`{"username":"admin","password":"admin123"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)

	req = httptest.NewRequest(http.MethodGet, "/api/current-user", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"admin"`)

	w2, env := s.do(http.MethodPost, "/api/login", "", gin.H{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Code)
}

func TestUsersAndAuditLogsArePaginated(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")
	s.createUser(admin, "alice")
	s.createUser(admin, "bob")

	w, env := s.do(http.MethodGet, "/api/users?page=1&limit=2", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[struct {
		Items []service.UserResponse `json:"items"`
		Total int64                  `json:"total"`
		Limit int                    `json:"limit"`
	}](t, env.Data)
	assert.EqualValues(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Limit)

	w, env = s.do(http.MethodGet, "/api/audit-logs", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[struct {
		Total int64 `json:"total"`
	}](t, env.Data)
	assert.Positive(t, logs.Total)
}

func TestAuditLogs_SecurityView(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")
	w, _ := s.do(http.MethodPost, "/api/login", "", gin.H{"username": "admin", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := s.do(http.MethodGet, "/api/audit-logs?security=true", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	page := decode[struct {
		Items []service.AuditLogResponse `json:"items"`
		Total int64                      `json:"total"`
	}](t, env.Data)
	assert.EqualValues(t, 2, page.Total)

	w, env = s.do(http.MethodGet, "/api/audit-logs?security=true&action=login_failed", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	page = decode[struct {
		Items []service.AuditLogResponse `json:"items"`
		Total int64                      `json:"total"`
	}](t, env.Data)
	require.EqualValues(t, 1, page.Total)
	assert.Equal(t, "admin", page.Items[0].Username)

	w, _ = s.do(http.MethodGet, "/api/audit-logs?user_id=42", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMalformedPathIDIsNotFound(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")

	w, _ := s.do(http.MethodGet, "/api/materials/42", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(http.MethodPut, "/api/requests/42/process", admin, gin.H{"status": "approved"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(http.MethodDelete, "/api/requests/not-a-uuid", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBooksAndPublishers(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")
	alice := s.createUser(admin, "alice")

	w, env := s.do(http.MethodPost, "/api/books", alice, gin.H{"subject": "Math", "grade": 5, "type": "student", "publisher": "Acme", "quantity": 3})
	require.Equal(t, http.StatusCreated, w.Code, env.Error)

	w, env = s.do(http.MethodGet, "/api/books?grade=5", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]service.BookResponse](t, env.Data), 1)

	w, _ = s.do(http.MethodGet, "/api/books?grade=five", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(http.MethodGet, "/api/books/publishers", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Acme"}, decode[[]string](t, env.Data))

	w, _ = s.do(http.MethodDelete, "/api/admin/publishers?name=Acme", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = s.do(http.MethodDelete, "/api/admin/publishers?name=Acme", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", env.Code)

	w, env = s.do(http.MethodPut, "/api/admin/publishers", admin, gin.H{"old_name": "Acme", "name": "Acme Press"})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.JSONEq(t, `{"name":"Acme Press","updated":1}`, string(env.Data))
}

func TestMaterialQuantityFloorsAtZero(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")
	pens := s.createMaterial(admin, "Pens", 3)

	w, env := s.do(http.MethodPatch, "/api/materials/"+pens.ID+"/quantity", admin, gin.H{"change": -10})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	m := decode[service.MaterialResponse](t, env.Data)
	assert.Equal(t, 0, m.Quantity)
	assert.Equal(t, "out_of_stock", m.StockLevel)

	w, env = s.do(http.MethodGet, "/api/categories", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Office"}, decode[[]string](t, env.Data))
}

func TestConsumptionStatistics_Guards(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")
	alice := s.createUser(admin, "alice")

	w, _ := s.do(http.MethodGet, "/api/statistics/consumption", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := s.do(http.MethodGet, "/api/statistics/consumption?start_date=yesterday", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error, "start_date")

	w, env = s.do(http.MethodGet, "/api/statistics/consumption?group_by=day", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
}
