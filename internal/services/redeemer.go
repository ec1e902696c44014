package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"voucher-api/internal/credential"
	"voucher-api/internal/database"
	"voucher-api/internal/models"
	"voucher-api/internal/token"
	"voucher-api/pkg/logging"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Redeemer is the redemption state machine: it verifies an opaque voucher
// token, enforces one-time device binding, and exchanges the voucher for a
// short-lived signed access credential.
type Redeemer struct {
	db       *gorm.DB
	codec    *token.Codec
	issuer   *credential.Issuer
	guard    *ReplayGuard
	limiter  *RateLimiter
	notifier *WebhookNotifier
	grace    time.Duration
}

// NewRedeemer wires the redemption dependencies. notifier may be nil when
// merchant webhooks are not configured.
func NewRedeemer(db *gorm.DB, codec *token.Codec, issuer *credential.Issuer, guard *ReplayGuard, limiter *RateLimiter, notifier *WebhookNotifier, grace time.Duration) *Redeemer {
	return &Redeemer{
		db:       db,
		codec:    codec,
		issuer:   issuer,
		guard:    guard,
		limiter:  limiter,
		notifier: notifier,
		grace:    grace,
	}
}

// RedeemResult is the successful outcome of a redemption.
type RedeemResult struct {
	Credential string
	ExpiresAt  int64
	ContentID  uint
}

// Redeem runs the full redemption flow for one request. Failure paths never
// mutate voucher or redemption state; the first successful bind wins, and
// concurrent first redemptions for the same voucher resolve to exactly one
// winner via the unique constraint on the redemption row.
func (r *Redeemer) Redeem(ctx context.Context, opaque, deviceID, clientAddr, userAgent string) (*RedeemResult, error) {
	if err := r.limiter.Check(ctx, clientAddr); err != nil {
		return nil, err
	}

	voucherID, merchantID, _, err := r.codec.Decode(opaque)
	if err != nil {
		return nil, err
	}

	var result *RedeemResult
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		voucher, err := r.lockVoucher(tx, voucherID)
		if err != nil {
			return err
		}
		if voucher.Status != models.VoucherIssued || int64(voucher.MerchantID) != merchantID {
			return ErrInvalidCode
		}

		now := time.Now()
		redemption, firstBind, err := r.bindDevice(tx, voucher.ID, deviceID, clientAddr, userAgent, now)
		if err != nil {
			return err
		}

		var product models.Product
		if err := tx.First(&product, voucher.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				logging.Errorf("voucher %d references missing product %d", voucher.ID, voucher.ProductID)
				return ErrConfiguration
			}
			return fmt.Errorf("failed to load product: %w", err)
		}
		var content models.Content
		if err := tx.First(&content, product.ContentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				logging.Errorf("product %d references missing content %d", product.ID, product.ContentID)
				return ErrConfiguration
			}
			return fmt.Errorf("failed to load content: %w", err)
		}

		durationMin := product.DefaultDuration
		if voucher.Duration != nil {
			durationMin = *voucher.Duration
		}
		duration := time.Duration(durationMin) * time.Minute
		expiresAt := now.Add(duration)
		credentialID := newCredentialID()

		signed, err := r.issuer.Issue(voucher.ID, credentialID, expiresAt, voucher.MerchantID, deviceID, content.ID)
		if err != nil {
			return fmt.Errorf("failed to sign credential: %w", err)
		}

		session := Session{DeviceID: deviceID, CredentialID: credentialID, ExpiresAt: expiresAt.Unix()}
		if err := r.guard.SaveSession(ctx, voucher.ID, session, r.grace); err != nil {
			return err
		}
		if err := r.guard.RememberCredential(ctx, credentialID, duration+r.grace); err != nil {
			return err
		}

		redemption.LastSeenAt = now
		redemption.CredentialID = credentialID
		if redemption.FirstRedeemedAt == nil {
			redemption.FirstRedeemedAt = &now
		}
		if err := tx.Save(redemption).Error; err != nil {
			return fmt.Errorf("failed to update redemption: %w", err)
		}

		if firstBind {
			logging.Infof("voucher %d bound to device %s", voucher.ID, deviceID)
		}

		result = &RedeemResult{
			Credential: signed,
			ExpiresAt:  expiresAt.Unix(),
			ContentID:  content.ID,
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	if r.notifier != nil {
		go r.notifier.NotifyRedemption(voucherID, uint(merchantID), deviceID)
	}
	return result, nil
}

// lockVoucher loads the voucher row, holding a row lock for the rest of the
// transaction where the dialect supports it so same-voucher redemptions
// serialize. Redemptions for different vouchers do not contend.
func (r *Redeemer) lockVoucher(tx *gorm.DB, voucherID int64) (*models.Voucher, error) {
	query := tx
	if database.SupportsRowLocking(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var voucher models.Voucher
	if err := query.First(&voucher, voucherID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("failed to load voucher: %w", err)
	}
	return &voucher, nil
}

// bindDevice loads or creates the redemption binding. The first insert wins;
// a concurrent loser hits the unique constraint, reloads, and is then held
// to the winner's device id. A binding for a different device is rejected
// without any state change, leaving the voucher redeemable by the bound
// device.
func (r *Redeemer) bindDevice(tx *gorm.DB, voucherID int64, deviceID, clientAddr, userAgent string, now time.Time) (*models.Redemption, bool, error) {
	var redemption models.Redemption
	err := tx.Where("voucher_id = ?", voucherID).First(&redemption).Error
	if err == nil {
		if redemption.DeviceID != deviceID {
			return nil, false, ErrDeviceMismatch
		}
		return &redemption, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to load redemption: %w", err)
	}

	redemption = models.Redemption{
		VoucherID:      voucherID,
		DeviceID:       deviceID,
		LastSeenAt:     now,
		FirstIP:        clientAddr,
		FirstUserAgent: userAgent,
	}
	createErr := tx.Create(&redemption).Error
	if createErr == nil {
		return &redemption, true, nil
	}
	if !errors.Is(createErr, gorm.ErrDuplicatedKey) {
		return nil, false, fmt.Errorf("failed to create redemption: %w", createErr)
	}

	// Lost the first-bind race; re-read the winner's binding.
	if err := tx.Where("voucher_id = ?", voucherID).First(&redemption).Error; err != nil {
		return nil, false, fmt.Errorf("failed to reload redemption: %w", err)
	}
	if redemption.DeviceID != deviceID {
		return nil, false, ErrDeviceMismatch
	}
	return &redemption, false, nil
}

// newCredentialID mints a unique 32-hex credential id (jti).
func newCredentialID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
