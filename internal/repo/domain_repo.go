// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Domain
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only CRUD persistence and query composition.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/winstonhq/go-domain-gateway/internal/domain"
)

// GetDomainByName fetches a domain by its globally unique name. Returns
// ErrNotFound when absent.
func GetDomainByName(ctx context.Context, db *gorm.DB, name string) (*domain.Domain, error) {
	var d domain.Domain
	err := db.WithContext(ctx).Where("name = ?", name).First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertDomain creates the Domain row for name on first registration, or
// refreshes owner/registrar/status on an existing row. Registration is
// globally exclusive, so the name carries a unique index; a lost insert race
// falls back to the update path.
func UpsertDomain(ctx context.Context, db *gorm.DB, name, userID, registrar, status string, privacy bool) (*domain.Domain, error) {
	now := time.Now().UTC()

	existing, err := GetDomainByName(ctx, db, name)
	switch {
	case err == nil:
		existing.UserID = userID
		existing.Registrar = registrar
		existing.Status = status
		existing.Privacy = privacy
		existing.UpdatedAt = now
		if err := db.WithContext(ctx).Save(existing).Error; err != nil {
			return nil, err
		}
		return existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		d := &domain.Domain{
			ID:        uuid.NewString(),
			Name:      name,
			UserID:    userID,
			Registrar: registrar,
			Status:    status,
			Privacy:   privacy,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := db.WithContext(ctx).Create(d).Error; err != nil {
			if isUniqueViolation(err) {
				return UpsertDomain(ctx, db, name, userID, registrar, status, privacy)
			}
			return nil, err
		}
		return d, nil
	default:
		return nil, err
	}
}

// UpdateDomainStatus moves a domain to status. Returns ErrNotFound when no
// row was affected.
func UpdateDomainStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Domain{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListDomains returns the domains owned by userID, newest first.
func ListDomains(ctx context.Context, db *gorm.DB, userID string) ([]domain.Domain, error) {
	var out []domain.Domain
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}
