package api

import (
	"net/http"

	"voucher-api/internal/response"
	"voucher-api/internal/services"

	"github.com/gin-gonic/gin"
)

// DeviceResponse carries the derived device identifier
type DeviceResponse struct {
	DeviceID string `json:"device_id"`
}

// Device fingerprints the calling device, persisting the entropy cookie on
// first contact
// GET /api/device
func (h *Handler) Device(c *gin.Context) {
	deviceID, err := services.FingerprintDevice(c)
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to derive device id")
		return
	}

	c.JSON(http.StatusOK, DeviceResponse{DeviceID: deviceID})
}
