package services

import (
	"affiliate-gateway/internal/models"
	"affiliate-gateway/pkg/logging"

	"gorm.io/gorm"
)

// UsageRecorder is the write-only usage event sink. Implementations must
// tolerate failure: a lost usage record never affects the request path.
type UsageRecorder interface {
	Record(e models.UsageEvent)
}

// GormUsageRecorder appends usage events to the relational store.
type GormUsageRecorder struct {
	db *gorm.DB
}

func NewUsageRecorder(db *gorm.DB) *GormUsageRecorder {
	return &GormUsageRecorder{db: db}
}

// Record writes one usage event. Errors are logged and swallowed.
func (r *GormUsageRecorder) Record(e models.UsageEvent) {
	if err := r.db.Create(&e).Error; err != nil {
		logging.Errorf("failed to record usage event for tenant %d: %v", e.TenantID, err)
	}
}
