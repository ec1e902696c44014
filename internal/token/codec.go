// Package token implements the opaque voucher token: a compact, HMAC-signed
// carrier for {voucher id, merchant id, issuance timestamp} that can be
// embedded in a QR code. The token is a capability only; one-time-use state
// lives on the voucher entity, never in the token.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformed indicates the token structure could not be parsed.
	ErrMalformed = errors.New("malformed token")
	// ErrBadSignature indicates the HMAC did not verify.
	ErrBadSignature = errors.New("bad token signature")
	// ErrStale indicates a validly signed token older than the staleness window.
	ErrStale = errors.New("stale token")
)

const macSize = sha256.Size

// Codec signs and verifies opaque voucher tokens with a per-deployment
// secret.
type Codec struct {
	secret []byte
	maxAge time.Duration
}

// NewCodec creates a codec. maxAge bounds how long an encoded token remains
// exchangeable after issuance.
func NewCodec(secret string, maxAge time.Duration) *Codec {
	return &Codec{secret: []byte(secret), maxAge: maxAge}
}

// Encode serializes {voucherID, merchantID, issuedAt} and appends an
// HMAC-SHA256 tag, returning the URL-safe unpadded base64 form.
func (c *Codec) Encode(voucherID, merchantID int64, issuedAt time.Time) string {
	msg := []byte(fmt.Sprintf("%d.%d.%d", voucherID, merchantID, issuedAt.Unix()))
	mac := c.sign(msg)
	return base64.RawURLEncoding.EncodeToString(append(msg, mac...))
}

// Decode verifies an encoded token and returns its fields. Signature
// verification uses a constant-time comparison and happens before any field
// parsing; staleness is checked last, after the signature is known good.
func (c *Codec) Decode(encoded string) (voucherID, merchantID int64, issuedAt time.Time, err error) {
	data, decodeErr := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if decodeErr != nil || len(data) <= macSize {
		err = ErrMalformed
		return
	}

	msg, mac := data[:len(data)-macSize], data[len(data)-macSize:]
	if !hmac.Equal(mac, c.sign(msg)) {
		err = ErrBadSignature
		return
	}

	parts := strings.Split(string(msg), ".")
	if len(parts) != 3 {
		err = ErrMalformed
		return
	}

	voucherID, parseErr := strconv.ParseInt(parts[0], 10, 64)
	if parseErr != nil {
		err = ErrMalformed
		return
	}
	merchantID, parseErr = strconv.ParseInt(parts[1], 10, 64)
	if parseErr != nil {
		err = ErrMalformed
		return
	}
	ts, parseErr := strconv.ParseInt(parts[2], 10, 64)
	if parseErr != nil {
		err = ErrMalformed
		return
	}

	issuedAt = time.Unix(ts, 0)
	if time.Since(issuedAt) > c.maxAge {
		err = ErrStale
		return
	}
	return voucherID, merchantID, issuedAt, nil
}

func (c *Codec) sign(msg []byte) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write(msg)
	return h.Sum(nil)
}
