package api

import (
	"errors"
	"net/http"

	"affiliate-gateway/internal/models"
	"affiliate-gateway/internal/response"
	"affiliate-gateway/internal/services"

	"github.com/gin-gonic/gin"
)

// BeginVerificationRequest selects the proof method.
type BeginVerificationRequest struct {
	Method string `json:"method" binding:"required"`
}

// BeginVerification issues a fresh verification token for the calling
// tenant. This is also the explicit restart path out of the failed state.
func (a *API) BeginVerification(c *gin.Context) {
	t := contextTenant(c)
	if t == nil {
		return
	}

	var req BeginVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format: "+err.Error())
		return
	}

	token, err := a.Verification.Begin(c.Request.Context(), t.ID, models.VerificationMethod(req.Method))
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "begin_failed", err.Error())
		return
	}

	response.SuccessJSON(c, gin.H{
		"method": req.Method,
		"token":  token,
	})
}

// AttemptVerification runs the configured proof check once.
func (a *API) AttemptVerification(c *gin.Context) {
	t := contextTenant(c)
	if t == nil {
		return
	}

	updated, err := a.Verification.Attempt(c.Request.Context(), t.ID)
	if err != nil {
		verificationError(c, err)
		return
	}

	response.SuccessJSON(c, gin.H{
		"verification_status": updated.VerificationStatus,
		"attempts":            updated.VerificationAttempts,
	})
}

// VerificationCallbackRequest carries the token for api-method proofs.
type VerificationCallbackRequest struct {
	Token string `json:"token" binding:"required"`
}

// VerificationCallback completes api-method verification with the token
// presented by the tenant's backend.
func (a *API) VerificationCallback(c *gin.Context) {
	t := contextTenant(c)
	if t == nil {
		return
	}

	var req VerificationCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format: "+err.Error())
		return
	}

	updated, err := a.Verification.Callback(c.Request.Context(), t.ID, req.Token)
	if err != nil {
		verificationError(c, err)
		return
	}

	response.SuccessJSON(c, gin.H{
		"verification_status": updated.VerificationStatus,
		"attempts":            updated.VerificationAttempts,
	})
}

func contextTenant(c *gin.Context) *models.Tenant {
	v, exists := c.Get("tenant")
	if !exists {
		response.ErrorJSON(c, http.StatusUnauthorized, "missing_tenant", "Tenant context missing")
		return nil
	}
	t, ok := v.(*models.Tenant)
	if !ok {
		response.ErrorJSON(c, http.StatusInternalServerError, "internal_error", "Invalid tenant context")
		return nil
	}
	return t
}

func verificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAttemptsExhausted):
		response.ErrorJSON(c, http.StatusConflict, "attempts_exhausted", "Verification attempts exhausted; restart verification")
	case errors.Is(err, services.ErrNoVerificationPending):
		response.ErrorJSON(c, http.StatusConflict, "no_verification_pending", "No verification in progress")
	case errors.Is(err, services.ErrAlreadyVerified):
		response.ErrorJSON(c, http.StatusConflict, "already_verified", "Tenant is already verified")
	case errors.Is(err, services.ErrTenantNotFound):
		response.ErrorJSON(c, http.StatusNotFound, "tenant_not_found", "Tenant not found")
	default:
		response.ErrorJSON(c, http.StatusBadRequest, "verification_failed", err.Error())
	}
}
