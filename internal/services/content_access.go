package services

import (
	"context"
	"errors"
	"fmt"

	"voucher-api/internal/credential"
	"voucher-api/internal/models"
	"voucher-api/pkg/logging"

	"gorm.io/gorm"
)

// ContentAccess authorizes protected-content requests. It verifies the
// bearer credential independently of the redemption path and uses replay
// guard presence as the sole revocation mechanism.
type ContentAccess struct {
	db       *gorm.DB
	verifier *credential.Verifier
	guard    *ReplayGuard
}

// NewContentAccess creates a content access checker.
func NewContentAccess(db *gorm.DB, verifier *credential.Verifier, guard *ReplayGuard) *ContentAccess {
	return &ContentAccess{db: db, verifier: verifier, guard: guard}
}

// Authorize verifies the credential against the requested content id and
// returns the content descriptor on success.
func (s *ContentAccess) Authorize(ctx context.Context, bearer string, contentID uint) (*models.Content, error) {
	claims, err := s.verifier.Verify(bearer)
	if err != nil {
		return nil, err
	}

	live, err := s.guard.IsCredentialLive(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, ErrRevoked
	}

	if claims.ContentID != contentID {
		return nil, ErrWrongContent
	}

	var content models.Content
	if err := s.db.WithContext(ctx).First(&content, contentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Errorf("credential references missing content %d", contentID)
			return nil, ErrConfiguration
		}
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	return &content, nil
}
