package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voucher-api/internal/kvstore"
)

// ReplayGuard tracks live credential ids and per-voucher session state in an
// expiring key-value store. Presence of a credential id is the positive
// authorization signal for content access; absence means revoked, expired,
// or never issued.
type ReplayGuard struct {
	store kvstore.Store
}

// NewReplayGuard creates a replay guard over the given store.
func NewReplayGuard(store kvstore.Store) *ReplayGuard {
	return &ReplayGuard{store: store}
}

// Session is the most recent binding for a voucher, kept until credential
// expiry plus grace.
type Session struct {
	DeviceID     string `json:"device_id"`
	CredentialID string `json:"jti"`
	ExpiresAt    int64  `json:"exp"`
}

func credentialKey(id string) string { return "jti:" + id }
func sessionKey(voucherID int64) string {
	return fmt.Sprintf("sess:%d", voucherID)
}

// RememberCredential marks a credential id as live for ttl.
func (g *ReplayGuard) RememberCredential(ctx context.Context, id string, ttl time.Duration) error {
	if err := g.store.SetWithTTL(ctx, credentialKey(id), "1", ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return nil
}

// IsCredentialLive reports whether a credential id is still live.
func (g *ReplayGuard) IsCredentialLive(ctx context.Context, id string) (bool, error) {
	live, err := g.store.Exists(ctx, credentialKey(id))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return live, nil
}

// SaveSession persists the latest binding for a voucher. TTL covers the
// remaining credential validity plus grace.
func (g *ReplayGuard) SaveSession(ctx context.Context, voucherID int64, session Session, grace time.Duration) error {
	ttl := time.Until(time.Unix(session.ExpiresAt, 0)) + grace
	if ttl <= 0 {
		return nil
	}

	value, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := g.store.SetWithTTL(ctx, sessionKey(voucherID), string(value), ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return nil
}

// LoadSession returns the stored session for a voucher, or nil if none.
func (g *ReplayGuard) LoadSession(ctx context.Context, voucherID int64) (*Session, error) {
	raw, err := g.store.Get(ctx, sessionKey(voucherID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}
