package models

import "time"

// VoucherStatus is the closed set of voucher lifecycle states.
type VoucherStatus string

const (
	VoucherIssued   VoucherStatus = "issued"
	VoucherConsumed VoucherStatus = "consumed"
	VoucherVoid     VoucherStatus = "void"
)

// Valid reports whether s is a known status value.
func (s VoucherStatus) Valid() bool {
	switch s {
	case VoucherIssued, VoucherConsumed, VoucherVoid:
		return true
	}
	return false
}

// CanTransition reports whether the transition s -> to is permitted.
// The only transitions are issued->consumed (successful first bind) and
// issued->void (administrative). Consumed and void are terminal.
func (s VoucherStatus) CanTransition(to VoucherStatus) bool {
	if s != VoucherIssued {
		return false
	}
	return to == VoucherConsumed || to == VoucherVoid
}

// Voucher is the persistent one-time-bindable access grant. The 64-bit id
// combines issuance time and random bits so ids sort by issuance and live
// in a non-guessable range.
type Voucher struct {
	ID         int64         `json:"id" gorm:"primaryKey;autoIncrement:false"`
	MerchantID uint          `json:"merchant_id" gorm:"not null;index"`
	ProductID  uint          `json:"product_id" gorm:"not null;index"`
	CodeHash   string        `json:"code_hash" gorm:"type:text;not null;uniqueIndex"`
	BatchID    string        `json:"batch_id" gorm:"size:64;index"`
	Duration   *int          `json:"duration_min"` // per-voucher override, minutes
	Status     VoucherStatus `json:"status" gorm:"size:32;not null;default:'issued';index"`
	IssuedAt   time.Time     `json:"issued_at" gorm:"autoCreateTime"`
	ExpiresAt  *time.Time    `json:"expires_at"`
}

// Redemption binds a voucher to the first device that redeemed it. The
// unique index on VoucherID is what makes concurrent first redemptions
// resolve to exactly one winner: the losing insert fails the constraint.
// DeviceID is immutable after the first successful bind.
type Redemption struct {
	BaseModel
	VoucherID       int64      `json:"voucher_id" gorm:"not null;uniqueIndex"`
	DeviceID        string     `json:"device_id" gorm:"size:64;not null"`
	FirstRedeemedAt *time.Time `json:"first_redeemed_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	CredentialID    string     `json:"credential_id" gorm:"size:64"`

	// First-seen client attributes, audit only
	FirstIP        string `json:"first_ip" gorm:"size:64"`
	FirstUserAgent string `json:"first_user_agent" gorm:"type:text"`
}
