// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides lookups for users and their API keys,
// used by the authentication middleware.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/winstonhq/go-domain-gateway/internal/domain"
)

// UserByAPIKey resolves an opaque bearer credential to its owning user.
// Returns ErrNotFound when the key is unknown.
func UserByAPIKey(ctx context.Context, db *gorm.DB, key string) (*domain.User, error) {
	var ak domain.APIKey
	err := db.WithContext(ctx).
		Where("key = ?", key).
		First(&ak).Error
	if err != nil {
		return nil, err
	}
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", ak.UserID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user row. Returns ErrDuplicate when the email is taken.
func CreateUser(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	u := &domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// CreateAPIKey mints a new opaque key for userID.
func CreateAPIKey(ctx context.Context, db *gorm.DB, userID string) (*domain.APIKey, error) {
	ak := &domain.APIKey{
		ID:        uuid.NewString(),
		Key:       "wsk_" + uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(ak).Error; err != nil {
		return nil, err
	}
	return ak, nil
}
