package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handler) {
	r.Use(RequestContextMiddleware())

	// Billing routes (client-key authorization happens in the service layer,
	// only for apps that configure keys)
	billing := r.Group("/v1/billing/android")
	{
		billing.POST("/verify", h.VerifyAndroid)
		billing.GET("/entitlement", h.GetEntitlement)
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"ok": true,
		})
	})
}
