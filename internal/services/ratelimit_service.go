package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"affiliate-gateway/internal/metrics"
	"affiliate-gateway/internal/models"
	"affiliate-gateway/pkg/logging"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Decision is the outcome of a rate-limit check across all configured
// granularities for one request.
type Decision struct {
	Allowed bool

	// Set when denied: the tightest breached granularity and its cap.
	Granularity models.TimeWindow
	Limit       int64
	RetryAfter  time.Duration

	// Escalate signals that the identifier's violations within the
	// escalation window reached or passed the operator threshold and
	// the account should be suspended.
	Escalate       bool
	ViolationCount int64
}

// RateLimitService maintains per-identifier, per-endpoint, per-window
// counters. All counter mutations are conditional updates keyed on the
// window's last observed reset_at, so concurrent requests racing a
// rollover converge on a single canonical new window and increments are
// never lost.
type RateLimitService struct {
	db                  *gorm.DB
	escalationThreshold int64
	escalationWindow    time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewRateLimitService creates a rate limiter with the given escalation
// policy: threshold violations within window suspend the account.
func NewRateLimitService(db *gorm.DB, escalationThreshold int, escalationWindow time.Duration) *RateLimitService {
	if escalationThreshold <= 0 {
		escalationThreshold = 3
	}
	if escalationWindow <= 0 {
		escalationWindow = 24 * time.Hour
	}
	return &RateLimitService{
		db:                  db,
		escalationThreshold: int64(escalationThreshold),
		escalationWindow:    escalationWindow,
		now:                 time.Now,
	}
}

// Check evaluates and increments every configured granularity for the
// request, tightest window first. The first breached window short-circuits
// the evaluation; coarser windows are not charged for a denied request.
// An empty limits slice means no granularity is configured and the
// request is always allowed.
func (s *RateLimitService) Check(ctx context.Context, identifier string, idType models.IdentifierType, endpoint string, limits []models.GranularityLimit) (*Decision, error) {
	ordered := make([]models.GranularityLimit, len(limits))
	copy(ordered, limits)
	sort.Slice(ordered, func(i, j int) bool {
		return models.WindowRank(ordered[i].Window) < models.WindowRank(ordered[j].Window)
	})

	for _, gl := range ordered {
		w, err := s.loadOrCreate(ctx, identifier, idType, endpoint, gl)
		if err != nil {
			return nil, err
		}

		count, err := s.bump(ctx, w, gl)
		if err != nil {
			return nil, err
		}

		if count > gl.Limit {
			return s.deny(ctx, w, gl, identifier, endpoint)
		}
	}

	return &Decision{Allowed: true}, nil
}

// loadOrCreate fetches the window row for the key, lazily creating it
// aligned to the current period boundary. Creation races resolve to a
// single row via ON CONFLICT DO NOTHING on the unique key.
func (s *RateLimitService) loadOrCreate(ctx context.Context, identifier string, idType models.IdentifierType, endpoint string, gl models.GranularityLimit) (*models.RateLimitWindow, error) {
	var w models.RateLimitWindow
	err := s.db.WithContext(ctx).
		Where("identifier = ? AND identifier_type = ? AND endpoint = ? AND time_window = ?",
			identifier, idType, endpoint, gl.Window).
		First(&w).Error
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	start, reset := models.WindowBounds(gl.Window, s.now())
	w = models.RateLimitWindow{
		Identifier:     identifier,
		IdentifierType: idType,
		Endpoint:       endpoint,
		TimeWindow:     gl.Window,
		WindowStart:    start,
		ResetAt:        reset,
		LimitAmount:    gl.Limit,
		Status:         models.WindowActive,
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&w).Error; err != nil {
		return nil, err
	}
	if w.ID != 0 {
		return &w, nil
	}

	// Lost the creation race; the winner's row is canonical.
	err = s.db.WithContext(ctx).
		Where("identifier = ? AND identifier_type = ? AND endpoint = ? AND time_window = ?",
			identifier, idType, endpoint, gl.Window).
		First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// bump applies the rollover-if-expired plus increment as a single
// conditional update and returns the post-increment count. The count read
// back may include concurrent increments committed after ours; it is
// never lower than the value our own increment produced, so limit
// comparisons only ever err on the side of denying.
func (s *RateLimitService) bump(ctx context.Context, w *models.RateLimitWindow, gl models.GranularityLimit) (int64, error) {
	for attempt := 0; attempt < 3; attempt++ {
		now := s.now()

		if !now.Before(w.ResetAt) {
			// Expired: roll the window over and count this request as
			// the first of the new period, in one conditional update.
			start, reset := models.WindowBounds(gl.Window, now)
			res := s.db.WithContext(ctx).Model(&models.RateLimitWindow{}).
				Where("id = ? AND reset_at = ?", w.ID, w.ResetAt).
				Updates(map[string]interface{}{
					"request_count":    1,
					"window_start":     start,
					"reset_at":         reset,
					"status":           models.WindowActive,
					"limit_amount":     gl.Limit,
					"first_request_at": now,
					"last_request_at":  now,
				})
			if res.Error != nil {
				return 0, res.Error
			}
			if res.RowsAffected == 1 {
				w.RequestCount = 1
				w.WindowStart = start
				w.ResetAt = reset
				w.Status = models.WindowActive
				metrics.WindowRollovers.Inc()
				s.appendEvent(ctx, w.ID, models.EventReset, w.Identifier, w.Endpoint,
					fmt.Sprintf("window rolled over, next reset %s", reset.Format(time.RFC3339)))
				return 1, nil
			}
			// Another request rolled the window first; reload and retry.
			if err := s.reload(ctx, w); err != nil {
				return 0, err
			}
			continue
		}

		res := s.db.WithContext(ctx).Model(&models.RateLimitWindow{}).
			Where("id = ? AND reset_at = ?", w.ID, w.ResetAt).
			Updates(map[string]interface{}{
				"request_count":   gorm.Expr("request_count + 1"),
				"last_request_at": now,
			})
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			// The window rolled over underneath us; retry against the
			// new period.
			if err := s.reload(ctx, w); err != nil {
				return 0, err
			}
			continue
		}

		if err := s.reload(ctx, w); err != nil {
			return 0, err
		}
		if w.FirstRequestAt == nil {
			s.db.WithContext(ctx).Model(&models.RateLimitWindow{}).
				Where("id = ? AND first_request_at IS NULL", w.ID).
				Update("first_request_at", now)
			w.FirstRequestAt = &now
		}
		return w.RequestCount, nil
	}

	return 0, errors.New("rate limit window contention, giving up")
}

// deny marks the breached window exceeded, records the violation and
// decides whether the accumulated violations call for suspension.
func (s *RateLimitService) deny(ctx context.Context, w *models.RateLimitWindow, gl models.GranularityLimit, identifier, endpoint string) (*Decision, error) {
	now := s.now()

	err := s.db.WithContext(ctx).Model(&models.RateLimitWindow{}).
		Where("id = ?", w.ID).
		Updates(map[string]interface{}{
			"status":          models.WindowExceeded,
			"blocked_count":   gorm.Expr("blocked_count + 1"),
			"violation_level": gorm.Expr("violation_level + 1"),
			"last_blocked_at": now,
		}).Error
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, w.ID, models.EventViolation, identifier, endpoint,
		fmt.Sprintf("%s window limit %d exceeded", gl.Window, gl.Limit))

	retryAfter := w.ResetAt.Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	dec := &Decision{
		Allowed:     false,
		Granularity: gl.Window,
		Limit:       gl.Limit,
		RetryAfter:  retryAfter,
	}

	violations, err := s.countViolations(ctx, identifier, now)
	if err != nil {
		logging.Errorf("failed to count violations for %s: %v", identifier, err)
		return dec, nil
	}
	dec.ViolationCount = violations

	// Escalate on every denial at or past the threshold. Concurrent
	// denials can step the count over the threshold without any caller
	// observing it exactly, so equality must not gate the suspension;
	// the gateway de-duplicates the transition itself.
	if violations >= s.escalationThreshold {
		dec.Escalate = true
		s.appendEvent(ctx, w.ID, models.EventEscalation, identifier, endpoint,
			fmt.Sprintf("%d violations within %s, suspension requested", violations, s.escalationWindow))
	}

	return dec, nil
}

// countViolations counts violation events for the identifier within the
// escalation window. Counting from the append-only audit trail keeps the
// threshold effective across window rollovers.
func (s *RateLimitService) countViolations(ctx context.Context, identifier string, now time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.RateLimitEvent{}).
		Where("identifier = ? AND event_type = ? AND created_at >= ?",
			identifier, models.EventViolation, now.Add(-s.escalationWindow)).
		Count(&count).Error
	return count, err
}

func (s *RateLimitService) reload(ctx context.Context, w *models.RateLimitWindow) error {
	return s.db.WithContext(ctx).First(w, w.ID).Error
}

// appendEvent writes one audit record. Audit failures are logged but
// never fail the request.
func (s *RateLimitService) appendEvent(ctx context.Context, windowID uint, eventType models.EventType, identifier, endpoint, details string) {
	event := models.RateLimitEvent{
		RateLimitID: windowID,
		EventType:   eventType,
		Identifier:  identifier,
		Endpoint:    endpoint,
		Details:     details,
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		logging.Errorf("failed to append rate limit event: %v", err)
	}
}
