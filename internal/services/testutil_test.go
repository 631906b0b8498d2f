package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"affiliate-gateway/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var tenantSeq int64

// newTestDB opens a per-test in-memory database with all tables migrated.
// The pool is capped at one connection so concurrent test goroutines
// serialize instead of tripping sqlite busy errors.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Tenant{},
		&models.RateLimitWindow{},
		&models.RateLimitEvent{},
		&models.UsageEvent{},
	))
	return db
}

// createTenant registers an active, verified tenant with no rate limits
// configured and returns it together with its plaintext secret. mutate
// adjusts the tenant before creation.
func createTenant(t *testing.T, svc *TenantService, mutate func(*models.Tenant)) (*models.Tenant, string) {
	t.Helper()

	tenant := &models.Tenant{
		DomainURL:          fmt.Sprintf("https://tenant-%d.example.com", atomic.AddInt64(&tenantSeq, 1)),
		Status:             models.TenantActive,
		VerificationStatus: models.VerificationVerified,
		RateLimitPerMinute: -1,
		RateLimitPerHour:   -1,
		MaxDailyRequests:   -1,
		ContactEmail:       "owner@example.com",
	}
	if mutate != nil {
		mutate(tenant)
	}

	secret, err := svc.Create(context.Background(), tenant)
	require.NoError(t, err)
	return tenant, secret
}

// fakeNotifier records dispatched events in order.
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Dispatch(tenantID uint, event string, payload map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

// fakeRecorder forwards usage events to a channel so tests can wait for
// the gateway's asynchronous emission.
type fakeRecorder struct {
	events chan models.UsageEvent
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{events: make(chan models.UsageEvent, 16)}
}

func (r *fakeRecorder) Record(e models.UsageEvent) {
	r.events <- e
}
