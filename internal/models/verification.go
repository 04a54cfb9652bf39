package models

import (
	"time"
)

// Canonical subscription statuses produced by verification.
const (
	StatusTrialActive    = "TRIAL_ACTIVE"
	StatusPaidActive     = "PAID_ACTIVE"
	StatusOnHold         = "ON_HOLD"
	StatusExpired        = "EXPIRED"
	StatusCanceledActive = "CANCELED_ACTIVE"
	StatusUnknown        = "UNKNOWN"
)

// SubscriptionVerification 校验记录
// One immutable row per remote verification attempt; ordering by created_at
// descending determines the most recent record for a token.
type SubscriptionVerification struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index:idx_sub_ver_created_at"`

	AppID          string `json:"app_id" gorm:"size:64;not null;index:idx_sub_ver_app_user"`
	PackageName    string `json:"package_name" gorm:"size:255;not null"`
	SubscriptionID string `json:"subscription_id" gorm:"size:255;not null"`
	UserID         string `json:"user_id" gorm:"size:128;not null;index:idx_sub_ver_app_user"`

	// HMAC fingerprint of the purchase token; the raw token is never stored.
	PurchaseTokenHash string `json:"purchase_token_hash" gorm:"size:64;not null;index:idx_sub_ver_token_hash"`

	Active       bool   `json:"active" gorm:"not null"`
	Status       string `json:"status" gorm:"size:32;not null"`
	ExpiryTimeMS int64  `json:"expiry_time_ms" gorm:"not null;default:0;index:idx_sub_ver_expiry_time_ms"`
	IsTrial      bool   `json:"is_trial" gorm:"not null;default:false"`
	AutoRenewing bool   `json:"auto_renewing" gorm:"not null;default:false"`

	// Raw provider payload, kept only when STORE_RAW_GOOGLE_RESPONSE is on.
	RawGoogleResponse string `json:"raw_google_response,omitempty" gorm:"type:text"`
}

// Entitlement 权益表
// The current, single-row-per-user projection of subscription ownership.
// Last write wins; the remote provider is the source of truth at call time,
// so a later verification always replaces this row unconditionally.
type Entitlement struct {
	AppID  string `json:"app_id" gorm:"size:64;primaryKey"`
	UserID string `json:"user_id" gorm:"size:128;primaryKey"`

	PurchaseTokenHash string `json:"purchase_token_hash" gorm:"size:64;not null;index:idx_entitlements_token_hash"`
	Status            string `json:"status" gorm:"size:32;not null"`
	Active            bool   `json:"active" gorm:"not null"`
	ExpiryTimeMS      int64  `json:"expiry_time_ms" gorm:"not null;default:0"`
	LastVerifiedMS    int64  `json:"last_verified_ms" gorm:"not null"`

	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
