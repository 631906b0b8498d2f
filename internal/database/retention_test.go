package database

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"affiliate-gateway/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newRetentionTestDB(t *testing.T) *gorm.DB {
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

func TestRetentionPurgesExpiredRows(t *testing.T) {
	db := newRetentionTestDB(t)
	now := time.Now()

	old := models.RateLimitEvent{
		EventType:  models.EventViolation,
		Identifier: "ag_old",
		CreatedAt:  now.Add(-40 * 24 * time.Hour),
	}
	fresh := models.RateLimitEvent{
		EventType:  models.EventViolation,
		Identifier: "ag_fresh",
	}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Create(&fresh).Error)

	staleWindow := models.RateLimitWindow{
		Identifier:     "ag_old",
		IdentifierType: models.IdentifierAPIKey,
		Endpoint:       "/api/data",
		TimeWindow:     models.WindowMinute,
		ResetAt:        now.Add(-72 * time.Hour),
	}
	liveWindow := models.RateLimitWindow{
		Identifier:     "ag_fresh",
		IdentifierType: models.IdentifierAPIKey,
		Endpoint:       "/api/data",
		TimeWindow:     models.WindowMinute,
		ResetAt:        now.Add(time.Minute),
	}
	require.NoError(t, db.Create(&staleWindow).Error)
	require.NoError(t, db.Create(&liveWindow).Error)

	oldUsage := models.UsageEvent{TenantID: 1, Endpoint: "/api/data", CreatedAt: now.Add(-40 * 24 * time.Hour)}
	require.NoError(t, db.Create(&oldUsage).Error)

	require.NoError(t, runRetentionOnce(db, 30*24*time.Hour, 48*time.Hour, 7*24*time.Hour))

	var events []models.RateLimitEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, "ag_fresh", events[0].Identifier)

	var windows []models.RateLimitWindow
	require.NoError(t, db.Find(&windows).Error)
	require.Len(t, windows, 1)
	require.Equal(t, "ag_fresh", windows[0].Identifier)

	var usage int64
	require.NoError(t, db.Model(&models.UsageEvent{}).Count(&usage).Error)
	require.Zero(t, usage)
}

func TestRetentionClearsStaleVerificationTokens(t *testing.T) {
	db := newRetentionTestDB(t)
	now := time.Now()

	staleToken := "stale-token"
	staleIssued := now.Add(-10 * 24 * time.Hour)
	stale := models.Tenant{
		DomainURL:                 "https://stale.example.com",
		APIKey:                    "ag_stale",
		APISecretHash:             "hash",
		VerificationStatus:        models.VerificationPending,
		VerificationToken:         &staleToken,
		VerificationTokenIssuedAt: &staleIssued,
	}

	freshToken := "fresh-token"
	freshIssued := now.Add(-time.Hour)
	pending := models.Tenant{
		DomainURL:                 "https://pending.example.com",
		APIKey:                    "ag_pending",
		APISecretHash:             "hash",
		VerificationStatus:        models.VerificationPending,
		VerificationToken:         &freshToken,
		VerificationTokenIssuedAt: &freshIssued,
	}

	verifiedToken := "verified-token"
	verified := models.Tenant{
		DomainURL:                 "https://verified.example.com",
		APIKey:                    "ag_verified",
		APISecretHash:             "hash",
		VerificationStatus:        models.VerificationVerified,
		VerificationToken:         &verifiedToken,
		VerificationTokenIssuedAt: &staleIssued,
	}

	require.NoError(t, db.Create(&stale).Error)
	require.NoError(t, db.Create(&pending).Error)
	require.NoError(t, db.Create(&verified).Error)

	require.NoError(t, runRetentionOnce(db, 30*24*time.Hour, 48*time.Hour, 7*24*time.Hour))

	var got models.Tenant
	require.NoError(t, db.First(&got, stale.ID).Error)
	require.Nil(t, got.VerificationToken)
	require.Nil(t, got.VerificationTokenIssuedAt)

	got = models.Tenant{}
	require.NoError(t, db.First(&got, pending.ID).Error)
	require.NotNil(t, got.VerificationToken)

	got = models.Tenant{}
	require.NoError(t, db.First(&got, verified.ID).Error)
	require.NotNil(t, got.VerificationToken)
}
