package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"affiliate-gateway/internal/config"
	"affiliate-gateway/internal/response"
	"affiliate-gateway/internal/services"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware guards the operator endpoints with the shared
// admin key.
func AdminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminKey := ""
		if config.AppConfig != nil {
			adminKey = config.AppConfig.AdminAPIKey
		}
		if adminKey == "" {
			response.ErrorJSON(c, http.StatusServiceUnavailable, "admin_disabled", "Admin API is not configured")
			c.Abort()
			return
		}

		got := c.GetHeader("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
			response.ErrorJSON(c, http.StatusUnauthorized, "admin_unauthorized", "Invalid admin key")
			c.Abort()
			return
		}

		c.Next()
	}
}

// TenantAuthMiddleware runs the full authorization pipeline for routes
// called by tenant backends. On success the tenant is stored in the
// request context under "tenant".
func TenantAuthMiddleware(gateway *services.GatewayService) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		apiSecret := c.GetHeader("X-API-Secret")
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}
		if apiKey == "" || apiSecret == "" {
			response.ErrorJSON(c, http.StatusUnauthorized, "missing_credentials", "Missing api key or secret")
			c.Abort()
			return
		}

		result, err := gateway.Authorize(c.Request.Context(), services.Request{
			APIKey:    apiKey,
			APISecret: apiSecret,
			Endpoint:  c.Request.URL.Path,
			ClientIP:  c.ClientIP(),
			Scheme:    requestScheme(c),
		})
		if err != nil {
			response.ErrorJSON(c, http.StatusInternalServerError, "internal_error", "Authorization check failed")
			c.Abort()
			return
		}

		switch result.Outcome {
		case services.OutcomeAllowed:
			c.Set("tenant", result.Tenant)
			c.Next()
		case services.OutcomeUnauthorized:
			response.ErrorJSON(c, http.StatusUnauthorized, result.Reason, "Invalid credentials")
			c.Abort()
		case services.OutcomeRateLimited:
			c.Header("Retry-After", retryAfterSeconds(result))
			response.ErrorJSON(c, http.StatusTooManyRequests, result.Reason, "Rate limit exceeded")
			c.Abort()
		default:
			response.ErrorJSON(c, http.StatusForbidden, result.Reason, "Request forbidden")
			c.Abort()
		}
	}
}

func requestScheme(c *gin.Context) string {
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(proto)
	}
	if c.Request.TLS != nil {
		return "https"
	}
	return "http"
}

func retryAfterSeconds(result services.Result) string {
	secs := int(result.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
