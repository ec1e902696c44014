package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"voucher-api/internal/credential"
	"voucher-api/internal/response"
	"voucher-api/internal/services"

	"github.com/gin-gonic/gin"
)

// ContentResponse describes the protected resource the caller may now
// fetch. Streaming the resource itself is the consumer's responsibility.
type ContentResponse struct {
	ContentID uint   `json:"content_id"`
	Ref       string `json:"ref"`
	MimeType  string `json:"mime_type"`
	Kind      string `json:"kind"`
}

// Content verifies a bearer credential against the requested content id
// GET /api/content/:id
func (h *Handler) Content(c *gin.Context) {
	contentID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "invalid_content_id", "Content id must be numeric")
		return
	}

	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		response.ErrorJSON(c, http.StatusUnauthorized, "missing_token", "Bearer credential required")
		return
	}
	bearer := strings.TrimPrefix(auth, "Bearer ")

	content, err := h.access.Authorize(c.Request.Context(), bearer, uint(contentID))
	if err != nil {
		status, code := contentErrorStatus(err)
		response.ErrorJSON(c, status, code, err.Error())
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, ContentResponse{
		ContentID: content.ID,
		Ref:       content.Ref,
		MimeType:  content.MimeType,
		Kind:      content.Kind,
	})
}

func contentErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, credential.ErrExpiredCredential):
		return http.StatusUnauthorized, "expired"
	case errors.Is(err, credential.ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid"
	case errors.Is(err, services.ErrRevoked):
		return http.StatusForbidden, "revoked"
	case errors.Is(err, services.ErrWrongContent):
		return http.StatusForbidden, "wrong_content"
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusInternalServerError, "configuration_error"
	case errors.Is(err, services.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
