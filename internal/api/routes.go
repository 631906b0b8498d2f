package api

import (
	"affiliate-gateway/internal/metrics"
	"affiliate-gateway/internal/middleware"
	"affiliate-gateway/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// API bundles the service dependencies the handlers need.
type API struct {
	DB           *gorm.DB
	Gateway      *services.GatewayService
	Tenants      *services.TenantService
	Verification *services.VerificationService
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, a *API) {
	api := r.Group("/api")
	{
		// The gateway boundary call made by tenant front-ends/backends.
		gateway := api.Group("/gateway")
		{
			gateway.POST("/authorize", a.Authorize)
		}

		// Domain verification routes. The gateway itself authenticates
		// these, and permits unverified tenants to reach them.
		verification := api.Group("/verification")
		verification.Use(middleware.TenantAuthMiddleware(a.Gateway))
		{
			verification.POST("/begin", a.BeginVerification)
			verification.POST("/attempt", a.AttemptVerification)
			verification.POST("/callback", a.VerificationCallback)
		}

		// Operator routes.
		admin := api.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware())
		{
			admin.GET("/tenants", a.ListTenants)
			admin.POST("/tenants", a.CreateTenant)
			admin.GET("/tenants/:id", a.GetTenant)
			admin.PUT("/tenants/:id", a.UpdateTenant)
			admin.POST("/tenants/:id/suspend", a.SuspendTenant)
			admin.POST("/tenants/:id/reinstate", a.ReinstateTenant)
			admin.POST("/tenants/:id/credentials", a.RegenerateCredentials)
			admin.GET("/tenants/:id/stats", a.TenantStats)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "affiliate-gateway",
		})
	})

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
}
