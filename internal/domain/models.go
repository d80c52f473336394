// Package domain defines the persistence models for users, domains, purchases,
// and audit records. These types are mapped with GORM and form the core data
// layer of the registration gateway.
package domain

import "time"

// Domain lifecycle states as projected by the status endpoint. They track the
// gateway's view of a registration, not the registrar-side lifecycle.
const (
	DomainStatusAvailable  = "AVAILABLE"
	DomainStatusPurchased  = "PURCHASED"
	DomainStatusDNSApplied = "DNS_APPLIED"
	DomainStatusError      = "ERROR"
)

// Audit verbs recorded by the pipelines.
const (
	AuditSearch     = "SEARCH"
	AuditBuySuccess = "BUY_SUCCESS"
	AuditBuyFail    = "BUY_FAIL"
)

// User is an account that owns API keys and domains.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Email: unique login identity; uniqueness is enforced by the DB.
//   - CreatedAt: timestamp managed by GORM.
type User struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Email     string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// APIKey is an opaque bearer credential owned by a user. The key value itself
// is the lookup handle; it carries no structure the gateway inspects.
type APIKey struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Key       string    `json:"-"          gorm:"type:varchar(128);not null;uniqueIndex"`
	UserID    string    `json:"user_id"    gorm:"type:char(36);not null;index"`
	CreatedAt time.Time `json:"created_at"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for APIKey.
func (APIKey) TableName() string { return "api_keys" }

// Domain is a registered (or registering) domain owned by a user. The name is
// globally unique across the system because registration is globally
// exclusive; the row is created on first successful register and never deleted
// by the core.
//
// Status transitions: PURCHASED → DNS_APPLIED after DNS application; ERROR is
// reserved for operator tooling.
type Domain struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(253);not null;uniqueIndex"`
	UserID    string    `json:"user_id"    gorm:"type:char(36);not null;index:idx_user_domains"`
	Registrar string    `json:"registrar"  gorm:"type:varchar(32);not null"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;check:status IN ('AVAILABLE','PURCHASED','DNS_APPLIED','ERROR')"`
	Privacy   bool      `json:"privacy"`
	AutoRenew bool      `json:"auto_renew"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Domain.
func (Domain) TableName() string { return "domains" }

// Purchase is an append-only record of a committed registration. OrderID is
// the registrar's order identifier and is unique; the DB constraint on it is
// the last line of defense against duplicate registration across instances.
type Purchase struct {
	ID        string    `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"     gorm:"type:char(36);not null;index"`
	DomainID  string    `json:"domain_id"   gorm:"type:char(36);not null;index"`
	Registrar string    `json:"registrar"   gorm:"type:varchar(32);not null"`
	OrderID   string    `json:"order_id"    gorm:"type:varchar(128);not null;uniqueIndex"`
	Years     int       `json:"years"       gorm:"not null;check:years BETWEEN 1 AND 10"`
	TotalUSD  float64   `json:"total_usd"   gorm:"not null"`
	Premium   bool      `json:"premium"`
	CreatedAt time.Time `json:"created_at"`

	Domain Domain `json:"-" gorm:"foreignKey:DomainID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Purchase.
func (Purchase) TableName() string { return "purchases" }

// AuditLog is an append-only trail of gateway actions. It is never read by the
// purchase or search pipelines.
type AuditLog struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      string    `json:"user_id"     gorm:"type:char(36);index"`
	Verb        string    `json:"verb"        gorm:"type:varchar(32);not null;index"`
	PayloadJSON string    `json:"payload"     gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"  gorm:"index"`
}

// TableName returns the database table name for AuditLog.
func (AuditLog) TableName() string { return "audit_logs" }
