// Package credential issues and verifies the short-lived access credential
// exchanged for a voucher. Signing is asymmetric so content-serving edges
// can verify with the public key alone, without holding the secret that
// mints vouchers.
package credential

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidCredential indicates a credential is malformed or fails
	// signature validation.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrExpiredCredential indicates a credential past its expiry.
	ErrExpiredCredential = errors.New("expired credential")
)

// AccessClaims are the signed contents of an access credential. Subject is
// the voucher id, ID is the credential id (jti) tracked by the replay guard.
type AccessClaims struct {
	MerchantID uint   `json:"merchant_id"`
	DeviceID   string `json:"device_id"`
	ContentID  uint   `json:"content_id"`
	jwt.RegisteredClaims
}

// VoucherID parses the subject claim back to the voucher id.
func (c *AccessClaims) VoucherID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subject claim: %w", err)
	}
	return id, nil
}

// Issuer signs access credentials with an RSA private key.
type Issuer struct {
	key *rsa.PrivateKey
}

// NewIssuer parses the PEM private key and returns an issuer.
func NewIssuer(privateKeyPEM []byte) (*Issuer, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
	}
	return &Issuer{key: key}, nil
}

// Issue signs a fresh credential binding one voucher, one device, and one
// content item until expiresAt.
func (i *Issuer) Issue(voucherID int64, credentialID string, expiresAt time.Time, merchantID uint, deviceID string, contentID uint) (string, error) {
	claims := AccessClaims{
		MerchantID: merchantID,
		DeviceID:   deviceID,
		ContentID:  contentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(voucherID, 10),
			ID:        credentialID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(i.key)
}

// Verifier validates access credentials with the matching public key.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier parses the PEM public key and returns a verifier.
func NewVerifier(publicKeyPEM []byte) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
	}
	return &Verifier{key: key}, nil
}

// Verify checks the credential signature and expiry and returns its claims.
func (v *Verifier) Verify(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidCredential
		}
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, ErrInvalidCredential
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
