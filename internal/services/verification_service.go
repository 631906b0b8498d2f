package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"affiliate-gateway/internal/models"
	"affiliate-gateway/pkg/logging"

	"github.com/google/uuid"
)

var (
	// ErrAttemptsExhausted is returned once the attempt cap is reached;
	// no further proof checks run until verification is restarted.
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")

	// ErrNoVerificationPending is returned when no token has been issued.
	ErrNoVerificationPending = errors.New("no verification pending")

	// ErrAlreadyVerified is returned for tenants that already passed.
	ErrAlreadyVerified = errors.New("tenant already verified")
)

// Notifier is the outbound notification hook the engine and gateway use.
// The webhook dispatcher implements it; tests substitute fakes.
type Notifier interface {
	Dispatch(tenantID uint, event string, payload map[string]interface{})
}

// VerificationService drives the domain-ownership proof state machine:
// pending -> verified | failed. A failed tenant re-enters pending only
// through an explicit Begin call.
type VerificationService struct {
	tenants     *TenantService
	notifier    Notifier
	alerts      *AlertService
	provers     map[models.VerificationMethod]Prover
	maxAttempts int
}

// NewVerificationService creates a verification engine. alerts may be nil.
func NewVerificationService(tenants *TenantService, notifier Notifier, alerts *AlertService, provers map[models.VerificationMethod]Prover, maxAttempts int) *VerificationService {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &VerificationService{
		tenants:     tenants,
		notifier:    notifier,
		alerts:      alerts,
		provers:     provers,
		maxAttempts: maxAttempts,
	}
}

// Begin issues a fresh verification token for the tenant and resets the
// state machine to pending. This is the explicit re-trigger path out of
// the failed state.
func (s *VerificationService) Begin(ctx context.Context, tenantID uint, method models.VerificationMethod) (token string, err error) {
	if method != models.MethodAPI {
		if _, ok := s.provers[method]; !ok {
			return "", fmt.Errorf("unsupported verification method %q", method)
		}
	}

	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return "", err
	}

	token = uuid.NewString()
	now := time.Now()
	err = s.tenants.Update(ctx, t.ID, map[string]interface{}{
		"verification_status":          models.VerificationPending,
		"verification_method":          method,
		"verification_token":           token,
		"verification_token_issued_at": now,
		"verification_attempts":        0,
		"last_verification_error":      "",
	})
	if err != nil {
		return "", err
	}

	logging.Infof("verification started for tenant %d (%s) via %s", t.ID, t.DomainURL, method)
	return token, nil
}

// Attempt runs the method-specific proof check for the tenant. Every
// probe increments the attempt counter regardless of outcome; once the
// cap is reached no further probe is performed and the caller must Begin
// again. The api method completes through Callback instead.
func (s *VerificationService) Attempt(ctx context.Context, tenantID uint) (*models.Tenant, error) {
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if t.VerificationStatus == models.VerificationVerified {
		return t, ErrAlreadyVerified
	}
	if t.VerificationToken == nil {
		return t, ErrNoVerificationPending
	}
	if t.VerificationAttempts >= s.maxAttempts {
		return t, ErrAttemptsExhausted
	}
	if t.VerificationMethod == models.MethodAPI {
		return t, errors.New("api verification completes via the inbound callback")
	}

	prover, ok := s.provers[t.VerificationMethod]
	if !ok {
		return t, fmt.Errorf("no prover registered for method %q", t.VerificationMethod)
	}

	ok, perr := prover.Prove(ctx, t, *t.VerificationToken)
	return s.finishAttempt(ctx, t, ok, perr)
}

// Callback completes api-method verification with a token presented by
// the tenant's backend. A mismatched token counts as a failed attempt.
func (s *VerificationService) Callback(ctx context.Context, tenantID uint, token string) (*models.Tenant, error) {
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if t.VerificationStatus == models.VerificationVerified {
		return t, ErrAlreadyVerified
	}
	if t.VerificationToken == nil {
		return t, ErrNoVerificationPending
	}
	if t.VerificationAttempts >= s.maxAttempts {
		return t, ErrAttemptsExhausted
	}

	ok := token != "" && token == *t.VerificationToken
	var perr error
	if !ok {
		perr = errors.New("callback token mismatch")
	}
	return s.finishAttempt(ctx, t, ok, perr)
}

func (s *VerificationService) finishAttempt(ctx context.Context, t *models.Tenant, ok bool, perr error) (*models.Tenant, error) {
	errMsg := ""
	if !ok {
		if perr != nil {
			errMsg = perr.Error()
		} else {
			errMsg = "proof not found"
		}
	}

	if err := s.tenants.RecordVerificationAttempt(ctx, t.ID, ok, errMsg); err != nil {
		return nil, err
	}

	updated, err := s.tenants.GetByID(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	if ok {
		logging.Infof("tenant %d (%s) verified", updated.ID, updated.DomainURL)
		if s.notifier != nil {
			s.notifier.Dispatch(updated.ID, "verification.succeeded", map[string]interface{}{
				"domain_url": updated.DomainURL,
				"method":     string(updated.VerificationMethod),
			})
		}
	} else if updated.VerificationStatus == models.VerificationFailed {
		logging.Warnf("tenant %d (%s) verification failed after %d attempts",
			updated.ID, updated.DomainURL, updated.VerificationAttempts)
		if s.notifier != nil {
			s.notifier.Dispatch(updated.ID, "verification.failed", map[string]interface{}{
				"domain_url": updated.DomainURL,
				"method":     string(updated.VerificationMethod),
				"attempts":   updated.VerificationAttempts,
			})
		}
		if s.alerts != nil {
			go func(t models.Tenant) {
				if err := s.alerts.SendVerificationFailedAlert(&t); err != nil {
					logging.Errorf("failed to send verification alert for tenant %d: %v", t.ID, err)
				}
			}(*updated)
		}
	}

	return updated, nil
}
