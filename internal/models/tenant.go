package models

import (
	"time"

	"gorm.io/datatypes"
)

// TenantStatus is the lifecycle state of a tenant account.
type TenantStatus string

const (
	TenantPending   TenantStatus = "pending"
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantInactive  TenantStatus = "inactive"
)

// VerificationStatus is the outcome of the domain-ownership proof workflow.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// VerificationMethod selects how domain ownership is proven.
type VerificationMethod string

const (
	MethodDNS  VerificationMethod = "dns"
	MethodFile VerificationMethod = "file"
	MethodMeta VerificationMethod = "meta"
	MethodAPI  VerificationMethod = "api"
)

// SecurityLevel controls how strictly policy checks are applied to a tenant.
type SecurityLevel string

const (
	SecurityLow    SecurityLevel = "low"
	SecurityMedium SecurityLevel = "medium"
	SecurityHigh   SecurityLevel = "high"
	SecurityStrict SecurityLevel = "strict"
)

// Tenant represents one authorized client domain. It carries the tenant's
// credentials, verification state, security policy, rate-limit quotas and
// webhook configuration.
type Tenant struct {
	BaseModel

	// DomainURL is the registered client property, e.g. "https://shop.example.com".
	DomainURL string `json:"domain_url" gorm:"uniqueIndex;size:255;not null"`

	// APIKey is the public identifier presented on every request.
	APIKey string `json:"api_key" gorm:"uniqueIndex;size:64;not null"`

	// APISecretHash is the bcrypt hash of the API secret. The plaintext
	// secret is only returned once, at creation or regeneration.
	APISecretHash string `json:"-" gorm:"size:255;not null"`

	Status TenantStatus `json:"status" gorm:"size:16;default:pending;index"`

	// Verification state machine: pending -> verified | failed.
	VerificationStatus        VerificationStatus `json:"verification_status" gorm:"size:16;default:pending"`
	VerificationMethod        VerificationMethod `json:"verification_method" gorm:"size:8"`
	VerificationToken         *string            `json:"-" gorm:"size:64"`
	VerificationTokenIssuedAt *time.Time         `json:"-"`
	VerificationAttempts      int                `json:"verification_attempts" gorm:"default:0"`
	LastVerificationAttempt   *time.Time         `json:"last_verification_attempt"`
	LastVerificationError     string             `json:"last_verification_error" gorm:"size:500"`

	// Policy.
	SecurityLevel    SecurityLevel              `json:"security_level" gorm:"size:8;default:medium"`
	RequireHTTPS     bool                       `json:"require_https" gorm:"default:true"`
	AllowedEndpoints datatypes.JSONSlice[string] `json:"allowed_endpoints"`
	BlockedEndpoints datatypes.JSONSlice[string] `json:"blocked_endpoints"`
	AllowedIPs       datatypes.JSONSlice[string] `json:"allowed_ips"`
	BlockedIPs       datatypes.JSONSlice[string] `json:"blocked_ips"`

	// Quotas. A negative value means the granularity is not configured
	// (unlimited); zero means deny-all for that granularity.
	RateLimitPerMinute int `json:"rate_limit_per_minute" gorm:"default:-1"`
	RateLimitPerHour   int `json:"rate_limit_per_hour" gorm:"default:-1"`
	MaxDailyRequests   int `json:"max_daily_requests" gorm:"default:-1"`

	// Webhook configuration.
	WebhookURL            string                      `json:"webhook_url" gorm:"size:500"`
	WebhookSecret         string                      `json:"-" gorm:"size:255"`
	WebhookEvents         datatypes.JSONSlice[string] `json:"webhook_events"`
	WebhookFailures       int                         `json:"webhook_failures" gorm:"default:0"`
	WebhookLastSent       *time.Time                  `json:"webhook_last_sent"`
	WebhookLastError      string                      `json:"webhook_last_error" gorm:"size:500"`
	WebhookLastErrorAt    *time.Time                  `json:"webhook_last_error_at"`
	WebhookDisabledReason string                      `json:"webhook_disabled_reason" gorm:"size:255"`

	// Suspension record, set atomically with the status transition.
	SuspendedAt     *time.Time `json:"suspended_at"`
	SuspendedReason string     `json:"suspended_reason" gorm:"size:255"`
	SuspendedBy     string     `json:"suspended_by" gorm:"size:64"`

	ContactEmail string `json:"contact_email" gorm:"size:255"`
}

// Limits returns the granularity caps configured for this tenant, in
// ascending window order. Unconfigured granularities are omitted.
func (t *Tenant) Limits() []GranularityLimit {
	var limits []GranularityLimit
	if t.RateLimitPerMinute >= 0 {
		limits = append(limits, GranularityLimit{Window: WindowMinute, Limit: int64(t.RateLimitPerMinute)})
	}
	if t.RateLimitPerHour >= 0 {
		limits = append(limits, GranularityLimit{Window: WindowHour, Limit: int64(t.RateLimitPerHour)})
	}
	if t.MaxDailyRequests >= 0 {
		limits = append(limits, GranularityLimit{Window: WindowDay, Limit: int64(t.MaxDailyRequests)})
	}
	return limits
}

// SubscribedTo reports whether the tenant opted in to a webhook event type.
func (t *Tenant) SubscribedTo(event string) bool {
	for _, e := range t.WebhookEvents {
		if e == event {
			return true
		}
	}
	return false
}
