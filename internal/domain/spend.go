package domain

import "time"

// DailySpend accumulates committed purchase totals per account and UTC day.
// Day is always midnight UTC; the (account_key, day) pair is unique and the
// only write path is an atomic upsert-increment.
type DailySpend struct {
	AccountKey string    `gorm:"type:varchar(64);primaryKey"`
	Day        time.Time `gorm:"primaryKey"`
	TotalUSD   float64   `gorm:"not null;default:0"`
	UpdatedAt  time.Time
}

// TableName implements the GORM tabler interface.
func (DailySpend) TableName() string { return "daily_spends" }

// UTCDay truncates t to midnight UTC, the canonical ledger day.
func UTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
