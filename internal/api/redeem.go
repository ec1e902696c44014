package api

import (
	"errors"
	"net/http"

	"voucher-api/internal/response"
	"voucher-api/internal/services"
	"voucher-api/internal/token"

	"github.com/gin-gonic/gin"
)

// RedeemRequest represents a voucher redemption request
type RedeemRequest struct {
	Opaque   string `json:"opaque" binding:"required"`
	DeviceID string `json:"device_id" binding:"required"`
}

// RedeemResponse represents a successful redemption
type RedeemResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	ContentID uint   `json:"content_id"`
}

// Redeem exchanges an opaque voucher token for an access credential
// POST /api/redeem
func (h *Handler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "malformed", "Invalid request format: "+err.Error())
		return
	}

	result, err := h.redeemer.Redeem(c.Request.Context(), req.Opaque, req.DeviceID, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		status, code := redeemErrorStatus(err)
		response.ErrorJSON(c, status, code, err.Error())
		return
	}

	c.JSON(http.StatusOK, RedeemResponse{
		Token:     result.Credential,
		ExpiresAt: result.ExpiresAt,
		ContentID: result.ContentID,
	})
}

// redeemErrorStatus maps each redemption failure kind to a status and a
// machine-readable error code.
func redeemErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, token.ErrMalformed):
		return http.StatusBadRequest, "malformed"
	case errors.Is(err, token.ErrBadSignature):
		return http.StatusUnauthorized, "bad_signature"
	case errors.Is(err, token.ErrStale):
		return http.StatusUnauthorized, "stale"
	case errors.Is(err, services.ErrRateExceeded):
		return http.StatusTooManyRequests, "rate_exceeded"
	case errors.Is(err, services.ErrInvalidCode):
		return http.StatusBadRequest, "invalid_code"
	case errors.Is(err, services.ErrDeviceMismatch):
		return http.StatusForbidden, "device_mismatch"
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusInternalServerError, "configuration_error"
	case errors.Is(err, services.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
