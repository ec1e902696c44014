package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"voucher-api/internal/response"
	"voucher-api/internal/services"
	"voucher-api/pkg/logging"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

// IssueVoucherRequest represents an admin voucher issuance request
type IssueVoucherRequest struct {
	MerchantID  uint   `json:"merchant_id" binding:"required"`
	ProductID   uint   `json:"product_id" binding:"required"`
	DurationMin *int   `json:"duration_min"`
	BatchID     string `json:"batch_id"`
}

// IssueVoucherResponse represents a single issued voucher with its QR image
type IssueVoucherResponse struct {
	CodeID    int64  `json:"code_id"`
	Opaque    string `json:"opaque"`
	RedeemURL string `json:"redeem_url"`
	QRPNGB64  string `json:"qr_png_b64,omitempty"`
}

// IssueVoucher allocates one voucher and returns its QR-encodable token
// POST /api/admin/vouchers
func (h *Handler) IssueVoucher(c *gin.Context) {
	var req IssueVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format: "+err.Error())
		return
	}

	issued, err := h.issuer.Issue(c.Request.Context(), req.MerchantID, req.ProductID, req.DurationMin, req.BatchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.ErrorJSON(c, http.StatusBadRequest, "unknown_product", err.Error())
			return
		}
		logging.Errorf("Voucher issuance failed: %v", err)
		response.ErrorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to issue voucher")
		return
	}

	png, err := qrcode.Encode(issued.RedeemURL, qrcode.Medium, 256)
	if err != nil {
		logging.Errorf("QR encoding failed for voucher %d: %v", issued.VoucherID, err)
		response.ErrorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to render QR code")
		return
	}

	c.JSON(http.StatusOK, IssueVoucherResponse{
		CodeID:    issued.VoucherID,
		Opaque:    issued.Opaque,
		RedeemURL: issued.RedeemURL,
		QRPNGB64:  base64.StdEncoding.EncodeToString(png),
	})
}

// IssueVoucherBatchRequest represents a batch issuance request
type IssueVoucherBatchRequest struct {
	IssueVoucherRequest
	Count int `json:"count" binding:"required,min=1,max=1000"`
}

// IssueVoucherBatch allocates count vouchers under one batch id
// POST /api/admin/vouchers/batch
func (h *Handler) IssueVoucherBatch(c *gin.Context) {
	var req IssueVoucherBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid request format: "+err.Error())
		return
	}

	issued, err := h.issuer.IssueBatch(c.Request.Context(), req.MerchantID, req.ProductID, req.DurationMin, req.BatchID, req.Count)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.ErrorJSON(c, http.StatusBadRequest, "unknown_product", err.Error())
			return
		}
		logging.Errorf("Batch issuance failed after %d vouchers: %v", len(issued), err)
		response.ErrorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to issue voucher batch")
		return
	}

	vouchers := make([]IssueVoucherResponse, 0, len(issued))
	for _, v := range issued {
		vouchers = append(vouchers, IssueVoucherResponse{
			CodeID:    v.VoucherID,
			Opaque:    v.Opaque,
			RedeemURL: v.RedeemURL,
		})
	}
	response.SuccessJSON(c, vouchers)
}

// VoidVoucher administratively voids an issued voucher
// POST /api/admin/vouchers/:id/void
func (h *Handler) VoidVoucher(c *gin.Context) {
	voucherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "invalid_request", "Voucher id must be numeric")
		return
	}

	if err := h.issuer.Void(c.Request.Context(), voucherID); err != nil {
		if errors.Is(err, services.ErrInvalidCode) {
			response.ErrorJSON(c, http.StatusBadRequest, "invalid_code", "Voucher absent or not voidable")
			return
		}
		logging.Errorf("Void failed for voucher %d: %v", voucherID, err)
		response.ErrorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to void voucher")
		return
	}

	response.SuccessJSON(c, gin.H{"code_id": voucherID, "status": "void"})
}

// AdminPing confirms admin credentials are accepted
// GET /api/admin/ping
func (h *Handler) AdminPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"admin": "ok"})
}
