package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"voucher-api/internal/models"
	"voucher-api/pkg/logging"

	"gorm.io/gorm"
)

// WebhookNotifier delivers redemption events to merchant webhook endpoints.
// Delivery is best-effort and happens outside the redemption request;
// failures never affect the redemption outcome.
type WebhookNotifier struct {
	db         *gorm.DB
	httpClient *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(db *gorm.DB) *WebhookNotifier {
	return &WebhookNotifier{
		db: db,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WebhookPayload is the event body sent to merchant backends.
type WebhookPayload struct {
	Event     string `json:"event"`
	VoucherID int64  `json:"voucher_id"`
	DeviceID  string `json:"device_id"`
	Timestamp string `json:"timestamp"`
}

// NotifyRedemption sends a voucher.redeemed event to the voucher's merchant
// if a webhook URL is configured. Called in a goroutine by the redeemer.
func (wn *WebhookNotifier) NotifyRedemption(voucherID int64, merchantID uint, deviceID string) {
	var merchant models.Merchant
	if err := wn.db.First(&merchant, merchantID).Error; err != nil {
		logging.Errorf("Webhook lookup failed for merchant %d: %v", merchantID, err)
		return
	}
	if merchant.WebhookURL == "" {
		return
	}

	payload := WebhookPayload{
		Event:     "voucher.redeemed",
		VoucherID: voucherID,
		DeviceID:  deviceID,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	wn.sendWithRetry(merchant.WebhookURL, merchant.WebhookSecret, payload)
}

// sendWithRetry delivers one webhook with bounded retries: 1s, 5s, 30s.
func (wn *WebhookNotifier) sendWithRetry(callbackURL, secret string, payload WebhookPayload) {
	retryDelays := []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	maxRetries := len(retryDelays)

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := wn.sendWebhook(callbackURL, secret, payload)
		if err == nil {
			logging.Infof("Webhook sent - url: %s, voucher: %d, attempt: %d",
				callbackURL, payload.VoucherID, attempt+1)
			return
		}

		logging.Errorf("Webhook failed - url: %s, voucher: %d, attempt: %d, error: %v",
			callbackURL, payload.VoucherID, attempt+1, err)

		if attempt < maxRetries-1 {
			time.Sleep(retryDelays[attempt])
		}
	}

	logging.Errorf("Webhook failed after %d attempts - url: %s, voucher: %d",
		maxRetries, callbackURL, payload.VoucherID)
}

func (wn *WebhookNotifier) sendWebhook(callbackURL, secret string, payload WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, callbackURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "VoucherAPI-Webhook/1.0")
	if secret != "" {
		req.Header.Set("X-Voucher-Signature", wn.generateSignature(jsonData, secret))
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// generateSignature computes the HMAC-SHA256 signature of the payload.
func (wn *WebhookNotifier) generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
