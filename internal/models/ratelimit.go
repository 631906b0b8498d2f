package models

import "time"

// IdentifierType scopes a rate-limit window to a kind of caller identity.
type IdentifierType string

const (
	IdentifierIP     IdentifierType = "ip"
	IdentifierAPIKey IdentifierType = "api_key"
	IdentifierUserID IdentifierType = "user_id"
	IdentifierDomain IdentifierType = "domain"
)

// TimeWindow is a counting granularity.
type TimeWindow string

const (
	WindowMinute TimeWindow = "minute"
	WindowHour   TimeWindow = "hour"
	WindowDay    TimeWindow = "day"
	WindowMonth  TimeWindow = "month"
)

// WindowStatus is the state of a single counter window.
type WindowStatus string

const (
	WindowActive    WindowStatus = "active"
	WindowExceeded  WindowStatus = "exceeded"
	WindowBlocked   WindowStatus = "blocked"
	WindowSuspended WindowStatus = "suspended"
)

// EventType classifies entries in the rate-limit audit trail.
type EventType string

const (
	EventRequest    EventType = "request"
	EventBlock      EventType = "block"
	EventReset      EventType = "reset"
	EventViolation  EventType = "violation"
	EventEscalation EventType = "escalation"
)

// GranularityLimit pairs a window granularity with its request cap.
type GranularityLimit struct {
	Window TimeWindow
	Limit  int64
}

// RateLimitWindow is one counter per (identifier, type, endpoint,
// granularity) key, valid for [WindowStart, ResetAt). Rows are created
// lazily on first request and hard-deleted by the retention worker, so
// there is no soft-delete column here.
type RateLimitWindow struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Identifier     string         `json:"identifier" gorm:"uniqueIndex:idx_window_key,priority:1;size:128;not null"`
	IdentifierType IdentifierType `json:"identifier_type" gorm:"uniqueIndex:idx_window_key,priority:2;size:16;not null"`
	Endpoint       string         `json:"endpoint" gorm:"uniqueIndex:idx_window_key,priority:3;size:255;not null"`
	TimeWindow     TimeWindow     `json:"time_window" gorm:"uniqueIndex:idx_window_key,priority:4;size:8;not null"`

	WindowStart time.Time `json:"window_start"`
	// ResetAt is the exclusive upper bound of the window. It doubles as
	// the optimistic-concurrency token for rollover: every counter update
	// is conditioned on the ResetAt value the caller last observed.
	ResetAt time.Time `json:"reset_at" gorm:"index"`

	RequestCount   int64        `json:"request_count" gorm:"default:0"`
	LimitAmount    int64        `json:"limit_amount" gorm:"default:0"`
	BlockedCount   int64        `json:"blocked_count" gorm:"default:0"`
	Status         WindowStatus `json:"status" gorm:"size:16;default:active"`
	ViolationLevel int64        `json:"violation_level" gorm:"default:0"`

	FirstRequestAt *time.Time `json:"first_request_at"`
	LastRequestAt  *time.Time `json:"last_request_at"`
	LastBlockedAt  *time.Time `json:"last_blocked_at"`
}

// RateLimitEvent is an append-only audit record. Rows are never updated.
type RateLimitEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`

	RateLimitID uint      `json:"rate_limit_id" gorm:"index"`
	EventType   EventType `json:"event_type" gorm:"size:16;index"`
	Identifier  string    `json:"identifier" gorm:"size:128;index"`
	Endpoint    string    `json:"endpoint" gorm:"size:255"`
	Details     string    `json:"details" gorm:"size:500"`
}

// windowOrder sorts granularities from tightest to coarsest.
var windowOrder = map[TimeWindow]int{
	WindowMinute: 0,
	WindowHour:   1,
	WindowDay:    2,
	WindowMonth:  3,
}

// WindowRank returns the ordering index of a granularity (minute first).
func WindowRank(w TimeWindow) int {
	return windowOrder[w]
}

// WindowBounds computes the boundary-aligned [start, reset) interval that
// contains now for the given granularity: minute and hour truncate to the
// unit, day starts at local midnight, month at the first of the month.
func WindowBounds(w TimeWindow, now time.Time) (start, reset time.Time) {
	switch w {
	case WindowMinute:
		start = now.Truncate(time.Minute)
		return start, start.Add(time.Minute)
	case WindowHour:
		start = now.Truncate(time.Hour)
		return start, start.Add(time.Hour)
	case WindowDay:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 0, 1)
	case WindowMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0)
	default:
		start = now.Truncate(time.Minute)
		return start, start.Add(time.Minute)
	}
}
