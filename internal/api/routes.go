package api

import (
	"voucher-api/internal/middleware"
	"voucher-api/internal/services"

	"github.com/gin-gonic/gin"
)

// Handler carries the service dependencies for all HTTP endpoints.
type Handler struct {
	redeemer *services.Redeemer
	access   *services.ContentAccess
	issuer   *services.VoucherIssuer
}

// NewHandler wires the API handler.
func NewHandler(redeemer *services.Redeemer, access *services.ContentAccess, issuer *services.VoucherIssuer) *Handler {
	return &Handler{redeemer: redeemer, access: access, issuer: issuer}
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handler, adminKey string) {
	api := r.Group("/api")
	{
		api.POST("/redeem", h.Redeem)
		api.GET("/content/:id", h.Content)
		api.GET("/device", h.Device)

		admin := api.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware(adminKey))
		{
			admin.GET("/ping", h.AdminPing)
			admin.POST("/vouchers", h.IssueVoucher)
			admin.POST("/vouchers/batch", h.IssueVoucherBatch)
			admin.POST("/vouchers/:id/void", h.VoidVoucher)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "voucher-api",
		})
	})
}
