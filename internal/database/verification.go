package database

import (
	"context"
	"errors"
	"time"

	"billing-verify/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VerificationStore persists verification attempts and the entitlement
// projection derived from them.
type VerificationStore struct {
	db *gorm.DB
}

// NewVerificationStore creates a store on top of db.
func NewVerificationStore(db *gorm.DB) *VerificationStore {
	return &VerificationStore{db: db}
}

// VerificationAttempt carries one verified outcome into the store.
type VerificationAttempt struct {
	AppID             string
	PackageName       string
	SubscriptionID    string
	UserID            string
	PurchaseTokenHash string
	Active            bool
	Status            string
	ExpiryTimeMS      int64
	IsTrial           bool
	AutoRenewing      bool
	RawGoogleResponse string
	NowMS             int64
}

// RecentVerification returns the most recent verification record for
// (appID, purchaseTokenHash) created within the trailing ttl window, or nil
// when no such record exists.
func (s *VerificationStore) RecentVerification(ctx context.Context, appID, purchaseTokenHash string, ttl time.Duration) (*models.SubscriptionVerification, error) {
	edge := time.Now().Add(-ttl)

	var record models.SubscriptionVerification
	err := s.db.WithContext(ctx).
		Where("app_id = ? AND purchase_token_hash = ? AND created_at >= ?", appID, purchaseTokenHash, edge).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// SaveVerification appends a verification record and upserts the entitlement
// row for (app_id, user_id) in one transaction. Both writes commit together
// or not at all. The entitlement upsert overwrites every field
// unconditionally: the provider is the source of truth at call time, so the
// last write wins with no timestamp comparison.
func (s *VerificationStore) SaveVerification(ctx context.Context, attempt *VerificationAttempt) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := models.SubscriptionVerification{
			ID:                uuid.NewString(),
			AppID:             attempt.AppID,
			PackageName:       attempt.PackageName,
			SubscriptionID:    attempt.SubscriptionID,
			UserID:            attempt.UserID,
			PurchaseTokenHash: attempt.PurchaseTokenHash,
			Active:            attempt.Active,
			Status:            attempt.Status,
			ExpiryTimeMS:      attempt.ExpiryTimeMS,
			IsTrial:           attempt.IsTrial,
			AutoRenewing:      attempt.AutoRenewing,
			RawGoogleResponse: attempt.RawGoogleResponse,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		entitlement := models.Entitlement{
			AppID:             attempt.AppID,
			UserID:            attempt.UserID,
			PurchaseTokenHash: attempt.PurchaseTokenHash,
			Status:            attempt.Status,
			Active:            attempt.Active,
			ExpiryTimeMS:      attempt.ExpiryTimeMS,
			LastVerifiedMS:    attempt.NowMS,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "app_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"purchase_token_hash", "status", "active",
				"expiry_time_ms", "last_verified_ms", "updated_at",
			}),
		}).Create(&entitlement).Error
	})
}

// GetEntitlement returns the current entitlement row for (appID, userID), or
// nil when the user has never verified a purchase.
func (s *VerificationStore) GetEntitlement(ctx context.Context, appID, userID string) (*models.Entitlement, error) {
	var entitlement models.Entitlement
	err := s.db.WithContext(ctx).
		Where("app_id = ? AND user_id = ?", appID, userID).
		First(&entitlement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entitlement, nil
}
