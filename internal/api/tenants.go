package api

import (
	"errors"
	"net/http"
	"strconv"

	"affiliate-gateway/internal/models"
	"affiliate-gateway/internal/response"
	"affiliate-gateway/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

// CreateTenantRequest registers a new client domain.
type CreateTenantRequest struct {
	DomainURL          string   `json:"domain_url" binding:"required"`
	ContactEmail       string   `json:"contact_email"`
	RequireHTTPS       *bool    `json:"require_https"`
	SecurityLevel      string   `json:"security_level"`
	AllowedEndpoints   []string `json:"allowed_endpoints"`
	BlockedEndpoints   []string `json:"blocked_endpoints"`
	AllowedIPs         []string `json:"allowed_ips"`
	BlockedIPs         []string `json:"blocked_ips"`
	RateLimitPerMinute *int     `json:"rate_limit_per_minute"`
	RateLimitPerHour   *int     `json:"rate_limit_per_hour"`
	MaxDailyRequests   *int     `json:"max_daily_requests"`
	WebhookURL         string   `json:"webhook_url"`
	WebhookSecret      string   `json:"webhook_secret"`
	WebhookEvents      []string `json:"webhook_events"`
}

// CreateTenant creates a tenant in pending state and returns the API
// key/secret pair. The secret is shown exactly once.
func (a *API) CreateTenant(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format: "+err.Error())
		return
	}

	t := &models.Tenant{
		DomainURL:          req.DomainURL,
		ContactEmail:       req.ContactEmail,
		AllowedEndpoints:   datatypes.NewJSONSlice(req.AllowedEndpoints),
		BlockedEndpoints:   datatypes.NewJSONSlice(req.BlockedEndpoints),
		AllowedIPs:         datatypes.NewJSONSlice(req.AllowedIPs),
		BlockedIPs:         datatypes.NewJSONSlice(req.BlockedIPs),
		WebhookURL:         req.WebhookURL,
		WebhookSecret:      req.WebhookSecret,
		WebhookEvents:      datatypes.NewJSONSlice(req.WebhookEvents),
		RequireHTTPS:       true,
		RateLimitPerMinute: -1,
		RateLimitPerHour:   -1,
		MaxDailyRequests:   -1,
	}
	if req.RequireHTTPS != nil {
		t.RequireHTTPS = *req.RequireHTTPS
	}
	if req.SecurityLevel != "" {
		t.SecurityLevel = models.SecurityLevel(req.SecurityLevel)
	}
	if req.RateLimitPerMinute != nil {
		t.RateLimitPerMinute = *req.RateLimitPerMinute
	}
	if req.RateLimitPerHour != nil {
		t.RateLimitPerHour = *req.RateLimitPerHour
	}
	if req.MaxDailyRequests != nil {
		t.MaxDailyRequests = *req.MaxDailyRequests
	}

	secret, err := a.Tenants.Create(c.Request.Context(), t)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "create_failed", "Failed to create tenant: "+err.Error())
		return
	}

	c.JSON(http.StatusCreated, response.Success(gin.H{
		"tenant":     t,
		"api_key":    t.APIKey,
		"api_secret": secret,
	}))
}

// ListTenants returns all tenants.
func (a *API) ListTenants(c *gin.Context) {
	tenants, err := a.Tenants.List(c.Request.Context())
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "list_failed", "Failed to list tenants")
		return
	}
	response.SuccessJSON(c, tenants)
}

// GetTenant returns one tenant by id.
func (a *API) GetTenant(c *gin.Context) {
	id, ok := tenantID(c)
	if !ok {
		return
	}

	t, err := a.Tenants.GetByID(c.Request.Context(), id)
	if err != nil {
		tenantError(c, err)
		return
	}
	response.SuccessJSON(c, t)
}

// UpdateTenantRequest carries a partial tenant update.
type UpdateTenantRequest struct {
	ContactEmail       *string  `json:"contact_email"`
	RequireHTTPS       *bool    `json:"require_https"`
	SecurityLevel      *string  `json:"security_level"`
	AllowedEndpoints   []string `json:"allowed_endpoints"`
	BlockedEndpoints   []string `json:"blocked_endpoints"`
	AllowedIPs         []string `json:"allowed_ips"`
	BlockedIPs         []string `json:"blocked_ips"`
	RateLimitPerMinute *int     `json:"rate_limit_per_minute"`
	RateLimitPerHour   *int     `json:"rate_limit_per_hour"`
	MaxDailyRequests   *int     `json:"max_daily_requests"`
	WebhookURL         *string  `json:"webhook_url"`
	WebhookSecret      *string  `json:"webhook_secret"`
	WebhookEvents      []string `json:"webhook_events"`
}

// UpdateTenant applies a partial update.
func (a *API) UpdateTenant(c *gin.Context) {
	id, ok := tenantID(c)
	if !ok {
		return
	}

	var req UpdateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format: "+err.Error())
		return
	}

	updates := make(map[string]interface{})
	if req.ContactEmail != nil {
		updates["contact_email"] = *req.ContactEmail
	}
	if req.RequireHTTPS != nil {
		updates["require_https"] = *req.RequireHTTPS
	}
	if req.SecurityLevel != nil {
		updates["security_level"] = *req.SecurityLevel
	}
	if req.AllowedEndpoints != nil {
		updates["allowed_endpoints"] = datatypes.NewJSONSlice(req.AllowedEndpoints)
	}
	if req.BlockedEndpoints != nil {
		updates["blocked_endpoints"] = datatypes.NewJSONSlice(req.BlockedEndpoints)
	}
	if req.AllowedIPs != nil {
		updates["allowed_ips"] = datatypes.NewJSONSlice(req.AllowedIPs)
	}
	if req.BlockedIPs != nil {
		updates["blocked_ips"] = datatypes.NewJSONSlice(req.BlockedIPs)
	}
	if req.RateLimitPerMinute != nil {
		updates["rate_limit_per_minute"] = *req.RateLimitPerMinute
	}
	if req.RateLimitPerHour != nil {
		updates["rate_limit_per_hour"] = *req.RateLimitPerHour
	}
	if req.MaxDailyRequests != nil {
		updates["max_daily_requests"] = *req.MaxDailyRequests
	}
	if req.WebhookURL != nil {
		updates["webhook_url"] = *req.WebhookURL
		updates["webhook_failures"] = 0
		updates["webhook_disabled_reason"] = ""
	}
	if req.WebhookSecret != nil {
		updates["webhook_secret"] = *req.WebhookSecret
	}
	if req.WebhookEvents != nil {
		updates["webhook_events"] = datatypes.NewJSONSlice(req.WebhookEvents)
	}
	if len(updates) == 0 {
		response.ErrorJSON(c, http.StatusBadRequest, "empty_update", "No fields to update")
		return
	}

	if err := a.Tenants.Update(c.Request.Context(), id, updates); err != nil {
		tenantError(c, err)
		return
	}

	t, err := a.Tenants.GetByID(c.Request.Context(), id)
	if err != nil {
		tenantError(c, err)
		return
	}
	response.SuccessJSON(c, t)
}

// SuspendTenantRequest carries the operator's suspension record.
type SuspendTenantRequest struct {
	Reason string `json:"reason" binding:"required"`
	Actor  string `json:"actor"`
}

// SuspendTenant transitions the tenant to suspended.
func (a *API) SuspendTenant(c *gin.Context) {
	id, ok := tenantID(c)
	if !ok {
		return
	}

	var req SuspendTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format: "+err.Error())
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	if err := a.Tenants.UpdateStatus(c.Request.Context(), id, models.TenantSuspended, req.Reason, req.Actor); err != nil {
		tenantError(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{"status": models.TenantSuspended})
}

// ReinstateTenant transitions a suspended or inactive tenant back to
// active, clearing the suspension record.
func (a *API) ReinstateTenant(c *gin.Context) {
	id, ok := tenantID(c)
	if !ok {
		return
	}

	if err := a.Tenants.UpdateStatus(c.Request.Context(), id, models.TenantActive, "", "operator"); err != nil {
		tenantError(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{"status": models.TenantActive})
}

// RegenerateCredentials issues a fresh API key/secret pair.
func (a *API) RegenerateCredentials(c *gin.Context) {
	id, ok := tenantID(c)
	if !ok {
		return
	}

	key, secret, err := a.Tenants.RegenerateCredentials(c.Request.Context(), id)
	if err != nil {
		tenantError(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{
		"api_key":    key,
		"api_secret": secret,
	})
}

// TenantStats reports usage and rate-limit state for one tenant.
func (a *API) TenantStats(c *gin.Context) {
	id, ok := tenantID(c)
	if !ok {
		return
	}

	t, err := a.Tenants.GetByID(c.Request.Context(), id)
	if err != nil {
		tenantError(c, err)
		return
	}

	stats := make(map[string]interface{})

	var usageCount int64
	a.DB.Model(&models.UsageEvent{}).Where("tenant_id = ?", id).Count(&usageCount)
	stats["usage_events"] = usageCount

	var windows []models.RateLimitWindow
	a.DB.Where("identifier = ? AND identifier_type = ?", t.APIKey, models.IdentifierAPIKey).Find(&windows)
	stats["windows"] = windows

	var violations int64
	a.DB.Model(&models.RateLimitEvent{}).
		Where("identifier = ? AND event_type = ?", t.APIKey, models.EventViolation).
		Count(&violations)
	stats["violations"] = violations

	stats["webhook_failures"] = t.WebhookFailures
	stats["verification_status"] = t.VerificationStatus

	response.SuccessJSON(c, stats)
}

func tenantID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "invalid_id", "Tenant ID must be numeric")
		return 0, false
	}
	return uint(id), true
}

func tenantError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrTenantNotFound) {
		response.ErrorJSON(c, http.StatusNotFound, "tenant_not_found", "Tenant not found")
		return
	}
	response.ErrorJSON(c, http.StatusInternalServerError, "internal_error", err.Error())
}
