// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency records the committed outcome of a purchase attempt, keyed by
// the client-supplied key "buy:{domain}:{uuid}". A non-expired row implies a
// completed response: retries with the same key and digest are answered with
// ResponseJSON verbatim, and a different digest under the same key is a
// user-visible conflict.
type Idempotency struct {
	Key          string    `gorm:"type:varchar(384);primaryKey"`
	Digest       string    `gorm:"type:char(64);not null"`
	ResponseJSON string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	ExpiresAt    time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency_keys" }
