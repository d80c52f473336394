// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the durable idempotency ledger used by
// the purchase pipeline for safe-retry semantics.
//
// A row exists only for a committed purchase response. Begin reads (and
// garbage-collects expired rows it encounters); Commit upserts the response;
// Fail deletes the slot so the client may retry.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/winstonhq/go-domain-gateway/internal/domain"
)

// BeginIdempotency returns the live (non-expired) record for key, or
// ErrNotFound when the slot is free. An expired row found under the key is
// deleted as a side effect.
func BeginIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.Idempotency, error) {
	var rec domain.Idempotency
	err := db.WithContext(ctx).Where("key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.After(now) {
		db.WithContext(ctx).Where("key = ?", key).Delete(&domain.Idempotency{})
		return nil, ErrNotFound
	}
	return &rec, nil
}

// CommitIdempotency stores the response for key with expiry now+ttl,
// replacing any previous row under the same key.
func CommitIdempotency(ctx context.Context, db *gorm.DB, key, digest, responseJSON string, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		Key:          key,
		Digest:       digest,
		ResponseJSON: responseJSON,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).
		Create(rec).Error
}

// FailIdempotency clears the slot for key so the client can safely retry.
// Deleting a missing key is not an error.
func FailIdempotency(ctx context.Context, db *gorm.DB, key string) error {
	return db.WithContext(ctx).Where("key = ?", key).Delete(&domain.Idempotency{}).Error
}

// SweepIdempotency removes every expired row and reports how many were
// deleted. Driven by a background ticker.
func SweepIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
