package models

// Merchant is the tenant boundary. Every voucher and product belongs to
// exactly one merchant; the merchant id is embedded both in the opaque
// voucher token and in issued access credentials so a token minted for one
// tenant can never be replayed against another.
type Merchant struct {
	BaseModel
	Name       string `json:"name" gorm:"not null"`
	Slug       string `json:"slug" gorm:"uniqueIndex"`
	ContactURL string `json:"contact_url" gorm:"type:text"`
	Status     string `json:"status" gorm:"size:32;default:'active'"`

	// Webhook configuration for redemption event notifications
	WebhookURL    string `json:"webhook_url" gorm:"type:varchar(500)"`
	WebhookSecret string `json:"webhook_secret" gorm:"type:varchar(255)"`
}

// Content is the protected resource descriptor. The redemption flow only
// ever reads it; nothing in the voucher lifecycle mutates content rows.
type Content struct {
	BaseModel
	Ref      string `json:"ref" gorm:"type:text;not null"` // opaque URL or blob reference
	MimeType string `json:"mime_type" gorm:"size:128"`
	Kind     string `json:"kind" gorm:"size:32;default:'page'"` // page|fragment|media
}

// Product maps a merchant catalog entry to one content item and a default
// access duration. PolicyOneDevice is always true in this design; there are
// no multi-device vouchers.
type Product struct {
	BaseModel
	MerchantID      uint   `json:"merchant_id" gorm:"not null;index"`
	Name            string `json:"name" gorm:"not null"`
	ContentID       uint   `json:"content_id" gorm:"not null"`
	DefaultDuration int    `json:"default_duration_min" gorm:"not null"` // minutes
	PolicyOneDevice bool   `json:"policy_one_device" gorm:"default:true"`
}
