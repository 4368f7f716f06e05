package repository

import (
	"context"
	"errors"
	"time"

	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrAccessTokenNotFound  = errors.New("access token not found")
	// ErrRotationConflict reports that a concurrent rotation already rebound
	// the refresh token; the caller lost the race.
	ErrRotationConflict = errors.New("refresh token rotation conflict")
)

// TokenRepository is the durable store behind the token lifecycle. Rotation
// and bulk revocation run as single transactions so no caller can observe a
// refresh token whose bound access token was revoked without a replacement.
type TokenRepository interface {
	CreateTokenPair(ctx context.Context, access *domain.AccessToken, refresh *domain.RefreshToken) error
	// FindRefreshToken matches on exact token value, owning application
	// client_id and absence of revocation. A non-nil notCreatedBefore also
	// requires created_at to fall inside the rolling rotation window.
	FindRefreshToken(ctx context.Context, token, clientID string, notCreatedBefore *time.Time) (*domain.RefreshToken, error)
	// RotateAccessToken revokes the refresh token's currently bound access
	// token, persists newAccess and rebinds the refresh token to it, all in
	// one transaction. expectedAccessTokenID is a compare-and-swap guard:
	// when the stored binding no longer matches, ErrRotationConflict is
	// returned and nothing changes.
	RotateAccessToken(ctx context.Context, refreshTokenID string, expectedAccessTokenID *string, newAccess *domain.AccessToken) (*domain.RefreshToken, error)
	// RevokeRefreshToken permanently retires one refresh token and deletes
	// its bound access token.
	RevokeRefreshToken(ctx context.Context, refreshTokenID string) error
	// RevokeAllForUser retires every live refresh token for the user
	// (scoped to clientID when non-empty) and deletes every access token
	// the user owns, including ones left over from rotated-away sessions.
	RevokeAllForUser(ctx context.Context, userID, clientID string) error
	FindAccessTokenByValue(ctx context.Context, token string) (*domain.AccessToken, error)
}

type GormTokenRepository struct{ db *gorm.DB }

func NewTokenRepository(db *gorm.DB) TokenRepository { return &GormTokenRepository{db: db} }

func (r *GormTokenRepository) CreateTokenPair(ctx context.Context, access *domain.AccessToken, refresh *domain.RefreshToken) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(access).Error; err != nil {
			return err
		}
		refresh.AccessTokenID = &access.ID
		return tx.Create(refresh).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "token_pair", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "token_pair", "create", "success")
	return nil
}

func (r *GormTokenRepository) FindRefreshToken(ctx context.Context, token, clientID string, notCreatedBefore *time.Time) (*domain.RefreshToken, error) {
	q := r.db.WithContext(ctx).
		Joins("JOIN applications ON applications.id = refresh_tokens.application_id").
		Where("refresh_tokens.token = ? AND applications.client_id = ? AND refresh_tokens.revoked_at IS NULL", token, clientID)
	if notCreatedBefore != nil {
		q = q.Where("refresh_tokens.created_at > ?", *notCreatedBefore)
	}

	var rt domain.RefreshToken
	if err := q.First(&rt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "find", "not_found")
			return nil, ErrRefreshTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "find", "success")
	return &rt, nil
}

func (r *GormTokenRepository) RotateAccessToken(ctx context.Context, refreshTokenID string, expectedAccessTokenID *string, newAccess *domain.AccessToken) (*domain.RefreshToken, error) {
	var rotated *domain.RefreshToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rt domain.RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND revoked_at IS NULL", refreshTokenID).
			First(&rt).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefreshTokenNotFound
			}
			return err
		}
		if !sameBinding(rt.AccessTokenID, expectedAccessTokenID) {
			return ErrRotationConflict
		}
		if rt.AccessTokenID != nil {
			if err := tx.Where("id = ?", *rt.AccessTokenID).Delete(&domain.AccessToken{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(newAccess).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.RefreshToken{}).
			Where("id = ?", rt.ID).
			Update("access_token_id", newAccess.ID).Error; err != nil {
			return err
		}
		rt.AccessTokenID = &newAccess.ID
		rotated = &rt
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrRefreshTokenNotFound):
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate_access_token", "not_found")
		case errors.Is(err, ErrRotationConflict):
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate_access_token", "conflict")
		default:
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate_access_token", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate_access_token", "success")
	return rotated, nil
}

func (r *GormTokenRepository) RevokeRefreshToken(ctx context.Context, refreshTokenID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rt domain.RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND revoked_at IS NULL", refreshTokenID).
			First(&rt).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefreshTokenNotFound
			}
			return err
		}
		if rt.AccessTokenID != nil {
			if err := tx.Where("id = ?", *rt.AccessTokenID).Delete(&domain.AccessToken{}).Error; err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		return tx.Model(&domain.RefreshToken{}).
			Where("id = ?", rt.ID).
			Updates(map[string]any{"revoked_at": now, "access_token_id": nil}).Error
	})
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke", "success")
	return nil
}

func (r *GormTokenRepository) RevokeAllForUser(ctx context.Context, userID, clientID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		q := tx.Model(&domain.RefreshToken{}).
			Where("user_id = ? AND revoked_at IS NULL", userID)
		if clientID != "" {
			q = q.Where("application_id IN (?)",
				tx.Model(&domain.Application{}).Select("id").Where("client_id = ?", clientID))
		}
		if err := q.Updates(map[string]any{"revoked_at": now, "access_token_id": nil}).Error; err != nil {
			return err
		}
		// Deliberately broader than the refresh-token scope: stale access
		// tokens from already-rotated sessions go too.
		return tx.Where("user_id = ?", userID).Delete(&domain.AccessToken{}).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_all_for_user", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_all_for_user", "success")
	return nil
}

func (r *GormTokenRepository) FindAccessTokenByValue(ctx context.Context, token string) (*domain.AccessToken, error) {
	var at domain.AccessToken
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&at).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "access_token", "find_by_value", "not_found")
			return nil, ErrAccessTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "access_token", "find_by_value", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "access_token", "find_by_value", "success")
	return &at, nil
}

func sameBinding(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
