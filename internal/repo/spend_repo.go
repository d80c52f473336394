// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file is the spend ledger: per-(account, UTC day)
// accumulation of committed purchase totals.
//
// AddDailySpend is the only write path. It is a single upsert with an atomic
// increment, so concurrent adds for the same (account, day) serialize inside
// the database and both land.
package repo

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/winstonhq/go-domain-gateway/internal/domain"
)

// GetDailySpend returns the accumulated USD total for (accountKey, day).
// A missing row reads as zero.
func GetDailySpend(ctx context.Context, db *gorm.DB, accountKey string, day time.Time) (float64, error) {
	day = domain.UTCDay(day)
	var rec domain.DailySpend
	err := db.WithContext(ctx).
		Where("account_key = ? AND day = ?", accountKey, day).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return Round2(rec.TotalUSD), nil
}

// AddDailySpend atomically increments the (accountKey, day) total by usd,
// creating the row when absent.
func AddDailySpend(ctx context.Context, db *gorm.DB, accountKey string, day time.Time, usd float64) error {
	day = domain.UTCDay(day)
	usd = Round2(usd)
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`INSERT INTO daily_spends (account_key, day, total_usd, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (account_key, day)
		 DO UPDATE SET total_usd = total_usd + excluded.total_usd, updated_at = excluded.updated_at`,
		accountKey, day, usd, now,
	).Error
}

// SweepDailySpend deletes ledger rows for days strictly before cutoff and
// reports how many were removed. Retention is policy, not correctness: the
// ledger only ever answers questions about the current UTC day.
func SweepDailySpend(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("day < ?", domain.UTCDay(cutoff)).
		Delete(&domain.DailySpend{})
	return res.RowsAffected, res.Error
}

// Round2 rounds USD amounts to two decimal places. Every monetary value in
// the gateway passes through this at its boundary.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
