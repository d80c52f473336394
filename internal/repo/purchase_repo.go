// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the append-only
// Purchase model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/winstonhq/go-domain-gateway/internal/domain"
)

// ErrDuplicateOrder indicates the registrar order id was already recorded.
// Under a cross-instance duplicate race this is the signal that another
// instance committed the same registration first.
var ErrDuplicateOrder = errors.New("duplicate order id")

// CreatePurchase appends a purchase record. The unique index on order_id is
// the system-wide duplicate-registration backstop.
func CreatePurchase(ctx context.Context, db *gorm.DB, userID, domainID, registrar, orderID string, years int, totalUSD float64, premium bool) (*domain.Purchase, error) {
	p := &domain.Purchase{
		ID:        uuid.NewString(),
		UserID:    userID,
		DomainID:  domainID,
		Registrar: registrar,
		OrderID:   orderID,
		Years:     years,
		TotalUSD:  totalUSD,
		Premium:   premium,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateOrder
		}
		return nil, err
	}
	return p, nil
}

// ListPurchases returns the purchases made by userID, newest first.
func ListPurchases(ctx context.Context, db *gorm.DB, userID string) ([]domain.Purchase, error) {
	var out []domain.Purchase
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}
