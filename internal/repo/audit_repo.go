// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file appends to the audit trail. The trail is
// additive: nothing in the gateway deletes or rewrites audit rows.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/winstonhq/go-domain-gateway/internal/domain"
)

// AppendAudit records verb with an arbitrary payload for userID (may be
// empty for anonymous actions). The payload is marshalled to JSON; a payload
// that cannot marshal is recorded as an empty object rather than dropped.
func AppendAudit(ctx context.Context, db *gorm.DB, userID, verb string, payload any) error {
	body := "{}"
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			body = string(b)
		}
	}
	rec := &domain.AuditLog{
		ID:          uuid.NewString(),
		UserID:      userID,
		Verb:        verb,
		PayloadJSON: body,
		CreatedAt:   time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(rec).Error
}
