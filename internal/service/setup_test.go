package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"stockroom/internal/database"
	"stockroom/internal/metrics"
	"stockroom/internal/model"
	"stockroom/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// recordingPublisher captures published events for assertions
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	owners map[string]uuid.UUID // last audience owner per event; absent for global events
}

func (p *recordingPublisher) Publish(event string, _ interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) PublishTo(event string, ownerID uuid.UUID, _ interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if p.owners == nil {
		p.owners = make(map[string]uuid.UUID)
	}
	p.owners[event] = ownerID
}

func (p *recordingPublisher) OwnerOf(event string) (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.owners[event]
	return id, ok
}

func (p *recordingPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// fakeClock hands out strictly increasing timestamps so created_at ordering is deterministic
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Minute)
	return c.cur
}

type testEnv struct {
	db        *gorm.DB
	requests  RequestService
	materials MaterialService
	books     BookService
	users     UserService
	audit     AuditService
	events    *recordingPublisher
	metrics   *metrics.Metrics

	admin Caller
	alice Caller
	bob   Caller
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A named shared-cache DB per test keeps every pooled connection on the same data
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)

	userRepo := repository.NewUserRepository(db)
	materialRepo := repository.NewMaterialRepository(db)
	bookRepo := repository.NewBookRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)

	events := &recordingPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	clock := newFakeClock()

	requests := NewRequestService(requestRepo, materialRepo, auditRepo, txManager, events, m, nil)
	requests.(*requestService).now = clock.Now
	users := NewUserService(userRepo, requestRepo, auditRepo, txManager, "test-secret", time.Hour, nil)
	users.(*userService).now = clock.Now

	env := &testEnv{
		db:        db,
		requests:  requests,
		materials: NewMaterialService(materialRepo, auditRepo, txManager, events, nil),
		books:     NewBookService(bookRepo, auditRepo, txManager, events, nil),
		users:     users,
		audit:     NewAuditService(auditRepo),
		events:    events,
		metrics:   m,
	}
	env.admin = env.createUser(t, "admin", model.RoleAdmin)
	env.alice = env.createUser(t, "alice", model.RoleUser)
	env.bob = env.createUser(t, "bob", model.RoleUser)
	return env
}

func (e *testEnv) createUser(t *testing.T, username string, role model.Role) Caller {
	t.Helper()
	user := &model.User{Username: username, PasswordHash: "x", FullName: username + " full", Role: role}
	require.NoError(t, e.db.Create(user).Error)
	return Caller{ID: user.ID, Role: role, IP: "127.0.0.1"}
}

func (e *testEnv) createMaterial(t *testing.T, name string, quantity int) model.Material {
	t.Helper()
	m := model.Material{Name: name, Category: "Office", Quantity: quantity, MinThreshold: 5, MaxThreshold: 50}
	require.NoError(t, e.db.Create(&m).Error)
	return m
}

func (e *testEnv) quantityOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var m model.Material
	require.NoError(t, e.db.Unscoped().First(&m, "id = ?", id).Error)
	return m.Quantity
}

func (e *testEnv) statusOf(t *testing.T, id string) model.RequestStatus {
	t.Helper()
	var r model.MaterialRequest
	require.NoError(t, e.db.First(&r, "id = ?", id).Error)
	return r.Status
}

func (e *testEnv) request(t *testing.T, caller Caller, material model.Material, qty int) MaterialRequestResponse {
	t.Helper()
	res, err := e.requests.Create(context.Background(), caller, CreateRequestDTO{
		MaterialID:        material.ID.String(),
		RequestedQuantity: qty,
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) countAudit(t *testing.T, action string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.AuditLog{}).Where("action = ?", action).Count(&n).Error)
	return n
}
