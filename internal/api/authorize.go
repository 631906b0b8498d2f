package api

import (
	"net/http"
	"strconv"

	"affiliate-gateway/internal/response"
	"affiliate-gateway/internal/services"

	"github.com/gin-gonic/gin"
)

// AuthorizeRequest is the gateway boundary input.
type AuthorizeRequest struct {
	APIKey    string `json:"api_key" binding:"required"`
	APISecret string `json:"api_secret" binding:"required"`
	Endpoint  string `json:"endpoint" binding:"required"`
	ClientIP  string `json:"client_ip"`
	Scheme    string `json:"scheme"`
}

// AuthorizeResponse is returned on an allowed decision.
type AuthorizeResponse struct {
	Allowed   bool   `json:"allowed"`
	TenantID  uint   `json:"tenant_id"`
	DomainURL string `json:"domain_url"`
}

// Authorize runs the authorization pipeline for one inbound request.
// ClientIP and Scheme default to the values observed on this HTTP call
// when the caller does not forward them explicitly.
func (a *API) Authorize(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format: "+err.Error())
		return
	}

	if req.ClientIP == "" {
		req.ClientIP = c.ClientIP()
	}
	if req.Scheme == "" {
		if c.Request.TLS != nil {
			req.Scheme = "https"
		} else {
			req.Scheme = "http"
		}
	}

	result, err := a.Gateway.Authorize(c.Request.Context(), services.Request{
		APIKey:    req.APIKey,
		APISecret: req.APISecret,
		Endpoint:  req.Endpoint,
		ClientIP:  req.ClientIP,
		Scheme:    req.Scheme,
	})
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "internal_error", "Authorization check failed")
		return
	}

	switch result.Outcome {
	case services.OutcomeAllowed:
		response.SuccessJSON(c, AuthorizeResponse{
			Allowed:   true,
			TenantID:  result.Tenant.ID,
			DomainURL: result.Tenant.DomainURL,
		})
	case services.OutcomeUnauthorized:
		response.ErrorJSON(c, http.StatusUnauthorized, result.Reason, "Invalid credentials")
	case services.OutcomeRateLimited:
		secs := int(result.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		response.ErrorJSON(c, http.StatusTooManyRequests, result.Reason, "Rate limit exceeded")
	default:
		response.ErrorJSON(c, http.StatusForbidden, result.Reason, "Request forbidden")
	}
}
