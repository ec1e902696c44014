package services

import "errors"

// Redemption and content-access failure kinds. Every failure path returns
// one of these (or a token/credential error) so callers can map each to a
// distinct response; nothing is swallowed or retried inside this layer.
var (
	// ErrRateExceeded indicates too many requests from one client address.
	ErrRateExceeded = errors.New("rate exceeded")
	// ErrInvalidCode indicates the voucher is absent or not in issued state.
	ErrInvalidCode = errors.New("invalid code")
	// ErrDeviceMismatch indicates the voucher is bound to a different device.
	ErrDeviceMismatch = errors.New("device mismatch")
	// ErrConfiguration indicates missing product or content data. This is a
	// server fault, not a client error.
	ErrConfiguration = errors.New("configuration error")
	// ErrRevoked indicates a credential id no longer present in the replay guard.
	ErrRevoked = errors.New("credential revoked")
	// ErrWrongContent indicates a credential presented against a different
	// content id than it embeds.
	ErrWrongContent = errors.New("wrong content")
	// ErrServiceUnavailable indicates a backing store was unreachable.
	ErrServiceUnavailable = errors.New("service unavailable")
)
