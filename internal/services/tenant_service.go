package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"affiliate-gateway/internal/models"
	"affiliate-gateway/pkg/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrTenantNotFound is returned when no tenant matches the given key or id.
var ErrTenantNotFound = errors.New("tenant not found")

const tenantCacheTTL = 30 * time.Second

// TenantService is the credential store: authoritative lookup and
// mutation of tenant records. An optional Redis client provides a
// short-TTL cache for the hot lookup-by-API-key path; every mutation
// invalidates the cached entry before committing new state to callers.
type TenantService struct {
	db          *gorm.DB
	cache       *redis.Client
	maxAttempts int
}

// NewTenantService creates a tenant service. cache may be nil.
func NewTenantService(db *gorm.DB, cache *redis.Client, maxAttempts int) *TenantService {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &TenantService{db: db, cache: cache, maxAttempts: maxAttempts}
}

func tenantCacheKey(apiKey string) string {
	return "tenant:key:" + apiKey
}

// GetByAPIKey returns the tenant owning apiKey regardless of status.
// Status is deliberately not filtered here so suspended and pending
// tenants still receive a precise denial reason from the gateway.
func (s *TenantService) GetByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, tenantCacheKey(apiKey)).Result(); err == nil {
			var t models.Tenant
			if err := json.Unmarshal([]byte(data), &t); err == nil {
				return &t, nil
			}
		}
	}

	var t models.Tenant
	result := s.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&t)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, result.Error
	}

	if s.cache != nil {
		if data, err := json.Marshal(&t); err == nil {
			if err := s.cache.Set(ctx, tenantCacheKey(apiKey), data, tenantCacheTTL).Err(); err != nil {
				logging.Warnf("failed to cache tenant %d: %v", t.ID, err)
			}
		}
	}

	return &t, nil
}

// GetByID returns the tenant with the given id.
func (s *TenantService) GetByID(ctx context.Context, id uint) (*models.Tenant, error) {
	var t models.Tenant
	result := s.db.WithContext(ctx).First(&t, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, result.Error
	}
	return &t, nil
}

// List returns all tenants.
func (s *TenantService) List(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	if err := s.db.WithContext(ctx).Order("id").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

// Create registers a new tenant in pending state, issuing a fresh API
// key/secret pair. The plaintext secret is returned exactly once.
func (s *TenantService) Create(ctx context.Context, t *models.Tenant) (secret string, err error) {
	if t.DomainURL == "" {
		return "", errors.New("domain_url is required")
	}

	var existing models.Tenant
	if err := s.db.WithContext(ctx).Where("domain_url = ?", t.DomainURL).First(&existing).Error; err == nil {
		return "", fmt.Errorf("tenant with domain %s already exists", t.DomainURL)
	}

	key, secret, hash, err := newCredentials()
	if err != nil {
		return "", err
	}

	t.APIKey = key
	t.APISecretHash = hash
	if t.Status == "" {
		t.Status = models.TenantPending
	}
	if t.VerificationStatus == "" {
		t.VerificationStatus = models.VerificationPending
	}
	if t.SecurityLevel == "" {
		t.SecurityLevel = models.SecurityMedium
	}

	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return "", fmt.Errorf("failed to create tenant: %w", err)
	}

	return secret, nil
}

// Update applies a partial update and invalidates the cache entry.
func (s *TenantService) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update tenant: %w", result.Error)
	}
	s.invalidate(ctx, t.APIKey)
	return nil
}

// UpdateStatus transitions the tenant lifecycle status. A transition to
// suspended raises the security level to strict and records the
// suspension fields in the same commit, so no reader can observe a
// suspended tenant with stale side-fields. Reinstating to active clears
// the suspension record.
func (s *TenantService) UpdateStatus(ctx context.Context, id uint, status models.TenantStatus, reason, actor string) error {
	var apiKey string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tenant
		if err := tx.First(&t, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTenantNotFound
			}
			return err
		}
		apiKey = t.APIKey

		updates := map[string]interface{}{"status": status}
		switch status {
		case models.TenantSuspended:
			now := time.Now()
			updates["security_level"] = models.SecurityStrict
			updates["suspended_at"] = now
			updates["suspended_reason"] = reason
			updates["suspended_by"] = actor
		case models.TenantActive:
			updates["suspended_at"] = nil
			updates["suspended_reason"] = ""
			updates["suspended_by"] = ""
		}

		return tx.Model(&models.Tenant{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, apiKey)
	return nil
}

// SuspendOnce transitions the tenant to suspended unless it already is,
// reporting whether this call performed the transition. The status guard
// rides in the UPDATE itself, so racing callers resolve at the database
// and exactly one of them owns the follow-up notification.
func (s *TenantService) SuspendOnce(ctx context.Context, id uint, reason, actor string) (bool, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("id = ? AND status <> ?", id, models.TenantSuspended).
		Updates(map[string]interface{}{
			"status":           models.TenantSuspended,
			"security_level":   models.SecurityStrict,
			"suspended_at":     now,
			"suspended_reason": reason,
			"suspended_by":     actor,
		})
	if res.Error != nil {
		return false, res.Error
	}

	s.invalidate(ctx, t.APIKey)
	return res.RowsAffected == 1, nil
}

// RecordVerificationAttempt updates the verification bookkeeping after a
// proof check. Success resets the attempt counter, marks the tenant
// verified, and activates pending tenants. Failures accumulate until the
// attempt cap, at which point the tenant is marked failed and left in
// place for operator intervention.
func (s *TenantService) RecordVerificationAttempt(ctx context.Context, id uint, success bool, errMsg string) error {
	var apiKey string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tenant
		if err := tx.First(&t, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTenantNotFound
			}
			return err
		}
		apiKey = t.APIKey

		now := time.Now()
		updates := map[string]interface{}{
			"last_verification_attempt": now,
		}

		if success {
			updates["verification_status"] = models.VerificationVerified
			updates["verification_attempts"] = 0
			updates["last_verification_error"] = ""
			if t.Status == models.TenantPending {
				updates["status"] = models.TenantActive
			}
		} else {
			attempts := t.VerificationAttempts + 1
			updates["verification_attempts"] = attempts
			updates["last_verification_error"] = errMsg
			if attempts >= s.maxAttempts {
				updates["verification_status"] = models.VerificationFailed
			}
		}

		return tx.Model(&models.Tenant{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, apiKey)
	return nil
}

// RegenerateCredentials issues a fresh API key/secret pair, replacing
// both in one transaction so there is no interval where old and new
// credentials are simultaneously valid. In-flight requests holding the
// old key are rejected and must retry with the new pair.
func (s *TenantService) RegenerateCredentials(ctx context.Context, id uint) (newKey, newSecret string, err error) {
	var oldKey string

	key, secret, hash, err := newCredentials()
	if err != nil {
		return "", "", err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tenant
		if err := tx.First(&t, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTenantNotFound
			}
			return err
		}
		oldKey = t.APIKey

		return tx.Model(&models.Tenant{}).Where("id = ?", id).Updates(map[string]interface{}{
			"api_key":         key,
			"api_secret_hash": hash,
		}).Error
	})
	if err != nil {
		return "", "", err
	}

	s.invalidate(ctx, oldKey)
	return key, secret, nil
}

// CheckSecret reports whether the presented secret matches the tenant's
// stored hash. An empty stored hash rejects every secret.
func (s *TenantService) CheckSecret(t *models.Tenant, secret string) bool {
	if t.APISecretHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(t.APISecretHash), []byte(secret)) == nil
}

// RecordWebhookSuccess resets the consecutive-failure counter and stamps
// the delivery time.
func (s *TenantService) RecordWebhookSuccess(ctx context.Context, id uint) error {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	err = s.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", id).Updates(map[string]interface{}{
		"webhook_failures":  0,
		"webhook_last_sent": now,
	}).Error
	if err != nil {
		return err
	}
	s.invalidate(ctx, t.APIKey)
	return nil
}

// RecordWebhookFailure increments the consecutive-failure counter and
// records the error. Returns the post-increment count so the dispatcher
// can apply its circuit breaker.
func (s *TenantService) RecordWebhookFailure(ctx context.Context, id uint, errMsg string) (failures int, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tenant
		if err := tx.First(&t, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTenantNotFound
			}
			return err
		}

		failures = t.WebhookFailures + 1
		now := time.Now()
		if err := tx.Model(&models.Tenant{}).Where("id = ?", id).Updates(map[string]interface{}{
			"webhook_failures":      failures,
			"webhook_last_error":    errMsg,
			"webhook_last_error_at": now,
		}).Error; err != nil {
			return err
		}
		s.invalidate(ctx, t.APIKey)
		return nil
	})
	return failures, err
}

// DisableWebhook clears the webhook configuration and annotates the
// tenant with the reason. Further events for the tenant are dropped
// until an operator re-configures the endpoint.
func (s *TenantService) DisableWebhook(ctx context.Context, id uint, reason string) error {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", id).Updates(map[string]interface{}{
		"webhook_url":             "",
		"webhook_events":          nil,
		"webhook_disabled_reason": reason,
	}).Error
	if err != nil {
		return err
	}
	s.invalidate(ctx, t.APIKey)
	return nil
}

func (s *TenantService) invalidate(ctx context.Context, apiKey string) {
	if s.cache == nil || apiKey == "" {
		return
	}
	if err := s.cache.Del(ctx, tenantCacheKey(apiKey)).Err(); err != nil {
		logging.Warnf("failed to invalidate tenant cache for key %s: %v", apiKey, err)
	}
}

// newCredentials generates an API key, a plaintext secret and the bcrypt
// hash to store for it.
func newCredentials() (key, secret, hash string, err error) {
	key = "ag_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret = hex.EncodeToString(raw)

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return key, secret, string(hashed), nil
}
