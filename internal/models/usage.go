package models

import (
	"time"

	"gorm.io/datatypes"
)

// UsageEvent is one record appended to the usage sink for every allowed
// request. Writes are best-effort; a failed insert never affects the
// authorization decision.
type UsageEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`

	TenantID  uint              `json:"tenant_id" gorm:"index"`
	Endpoint  string            `json:"endpoint" gorm:"size:255;index"`
	Outcome   string            `json:"outcome" gorm:"size:32"`
	LatencyMs int64             `json:"latency_ms"`
	Metadata  datatypes.JSONMap `json:"metadata" gorm:"type:json"`
}
