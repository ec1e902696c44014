package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	deviceCookieName   = "did"
	deviceCookieMaxAge = 365 * 24 * 60 * 60 // 1 year
)

// FingerprintDevice derives a stable pseudonymous device identifier from
// request attributes plus a persisted random entropy cookie. The same
// entropy and attributes always produce the same identifier; a changed
// attribute (browser upgrade, language switch) legitimately changes it.
func FingerprintDevice(c *gin.Context) (string, error) {
	ua := c.GetHeader("User-Agent")
	tz := headerOrQuery(c, "Sec-CH-Timezone", "tz")
	platform := headerOrQuery(c, "Sec-CH-UA-Platform", "platform")
	lang := c.GetHeader("Accept-Language")

	entropy, err := c.Cookie(deviceCookieName)
	if err != nil || entropy == "" {
		entropy, err = newEntropy()
		if err != nil {
			return "", err
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(deviceCookieName, entropy, deviceCookieMaxAge, "/", "", true, true)
	}

	return DeriveDeviceID(ua, tz, platform, lang, entropy), nil
}

// DeriveDeviceID computes the 32-hex-character identifier from the four
// request attributes and the entropy value.
func DeriveDeviceID(ua, tz, platform, lang, entropy string) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%s", ua, tz, platform, lang, entropy)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}

func headerOrQuery(c *gin.Context, header, query string) string {
	if value := c.GetHeader(header); value != "" {
		return value
	}
	return c.Query(query)
}

func newEntropy() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate device entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
