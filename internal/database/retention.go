package database

import (
	"time"

	"affiliate-gateway/internal/config"
	"affiliate-gateway/internal/models"
	"affiliate-gateway/pkg/logging"

	"gorm.io/gorm"
)

// runRetentionOnce performs a single maintenance pass: purge rate-limit
// audit events past the retention window, delete counter windows that saw
// no traffic since their reset, and null out verification tokens that
// were never redeemed within their TTL.
func runRetentionOnce(db *gorm.DB, eventRetention, windowRetention, tokenTTL time.Duration) error {
	now := time.Now()

	if err := db.Where("created_at < ?", now.Add(-eventRetention)).
		Delete(&models.RateLimitEvent{}).Error; err != nil {
		return err
	}

	if err := db.Where("reset_at < ?", now.Add(-windowRetention)).
		Delete(&models.RateLimitWindow{}).Error; err != nil {
		return err
	}

	if err := db.Model(&models.Tenant{}).
		Where("verification_status <> ? AND verification_token IS NOT NULL AND verification_token_issued_at < ?",
			models.VerificationVerified, now.Add(-tokenTTL)).
		Updates(map[string]interface{}{
			"verification_token":           nil,
			"verification_token_issued_at": nil,
		}).Error; err != nil {
		return err
	}

	if err := db.Where("created_at < ?", now.Add(-eventRetention)).
		Delete(&models.UsageEvent{}).Error; err != nil {
		return err
	}

	return nil
}

// StartRetentionWorker launches a background goroutine that runs the
// retention pass once at startup and then once per day.
func StartRetentionWorker(db *gorm.DB) {
	eventRetention := time.Duration(config.AppConfig.EventRetentionDays) * 24 * time.Hour
	windowRetention := time.Duration(config.AppConfig.WindowRetentionHours) * time.Hour
	tokenTTL := time.Duration(config.AppConfig.VerificationTokenTTLDays) * 24 * time.Hour

	go func() {
		if err := runRetentionOnce(db, eventRetention, windowRetention, tokenTTL); err != nil {
			logging.Errorf("retention cleanup error (startup): %v", err)
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			if err := runRetentionOnce(db, eventRetention, windowRetention, tokenTTL); err != nil {
				logging.Errorf("retention cleanup error: %v", err)
			}
		}
	}()
}
