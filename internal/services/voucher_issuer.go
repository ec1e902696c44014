package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"voucher-api/internal/models"
	"voucher-api/internal/token"

	"gorm.io/gorm"
)

// VoucherIssuer allocates vouchers and their opaque tokens. The caller
// (admin tooling, payment webhook) renders the redeem URL as a QR image.
type VoucherIssuer struct {
	db      *gorm.DB
	codec   *token.Codec
	baseURL string
}

// NewVoucherIssuer creates a voucher issuer.
func NewVoucherIssuer(db *gorm.DB, codec *token.Codec, baseURL string) *VoucherIssuer {
	return &VoucherIssuer{db: db, codec: codec, baseURL: baseURL}
}

// IssuedVoucher is the issuance result handed back for QR rendering.
type IssuedVoucher struct {
	VoucherID int64  `json:"code_id"`
	Opaque    string `json:"opaque"`
	RedeemURL string `json:"redeem_url"`
}

// Issue allocates one voucher for a merchant product. durationMin overrides
// the product default when non-nil.
func (s *VoucherIssuer) Issue(ctx context.Context, merchantID, productID uint, durationMin *int, batchID string) (*IssuedVoucher, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).
		Where("id = ? AND merchant_id = ?", productID, merchantID).
		First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product %d for merchant %d: %w", productID, merchantID, err)
		}
		return nil, fmt.Errorf("failed to load product: %w", err)
	}

	now := time.Now()

	// Id collisions need the same millisecond and the same 16 random bits;
	// retry covers the remote case anyway.
	for attempt := 0; attempt < 3; attempt++ {
		voucherID, err := NewVoucherID()
		if err != nil {
			return nil, err
		}

		opaque := s.codec.Encode(voucherID, int64(merchantID), now)
		hash := sha256.Sum256([]byte(opaque))

		voucher := models.Voucher{
			ID:         voucherID,
			MerchantID: merchantID,
			ProductID:  productID,
			CodeHash:   hex.EncodeToString(hash[:]),
			BatchID:    batchID,
			Duration:   durationMin,
			Status:     models.VoucherIssued,
			IssuedAt:   now,
		}
		createErr := s.db.WithContext(ctx).Create(&voucher).Error
		if errors.Is(createErr, gorm.ErrDuplicatedKey) {
			continue
		}
		if createErr != nil {
			return nil, fmt.Errorf("failed to create voucher: %w", createErr)
		}

		return &IssuedVoucher{
			VoucherID: voucherID,
			Opaque:    opaque,
			RedeemURL: s.RedeemURL(opaque),
		}, nil
	}
	return nil, fmt.Errorf("failed to allocate a unique voucher id")
}

// IssueBatch allocates count vouchers under a shared batch id.
func (s *VoucherIssuer) IssueBatch(ctx context.Context, merchantID, productID uint, durationMin *int, batchID string, count int) ([]IssuedVoucher, error) {
	issued := make([]IssuedVoucher, 0, count)
	for i := 0; i < count; i++ {
		voucher, err := s.Issue(ctx, merchantID, productID, durationMin, batchID)
		if err != nil {
			return issued, err
		}
		issued = append(issued, *voucher)
	}
	return issued, nil
}

// Void administratively voids a voucher. Only issued vouchers can be
// voided; consumed and void are terminal.
func (s *VoucherIssuer) Void(ctx context.Context, voucherID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var voucher models.Voucher
		if err := tx.First(&voucher, voucherID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidCode
			}
			return fmt.Errorf("failed to load voucher: %w", err)
		}
		if !voucher.Status.CanTransition(models.VoucherVoid) {
			return ErrInvalidCode
		}
		return tx.Model(&voucher).Update("status", models.VoucherVoid).Error
	})
}

// RedeemURL builds the URL a client lands on after scanning the QR code.
func (s *VoucherIssuer) RedeemURL(opaque string) string {
	return fmt.Sprintf("%s/redeem?c=%s", s.baseURL, url.QueryEscape(opaque))
}

// NewVoucherID generates a sortable 64-bit voucher id: the millisecond
// timestamp shifted left 16 bits, ORed with 16 random bits.
func NewVoucherID() (int64, error) {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to generate voucher id: %w", err)
	}
	return (time.Now().UnixMilli() << 16) | int64(binary.BigEndian.Uint16(buf[:])), nil
}
