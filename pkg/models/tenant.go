package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the billing tier of a tenant.
type SubscriptionStatus string

const (
	SubscriptionFree      SubscriptionStatus = "free"
	SubscriptionPro       SubscriptionStatus = "pro"
	SubscriptionSuspended SubscriptionStatus = "suspended"
)

// Tenant is an isolated account. Every job and ledger entry belongs to
// exactly one tenant. CreditBalance is mutated only through the ledger
// service and is always >= 0.
type Tenant struct {
	ID                 uuid.UUID          `db:"id"                  json:"id"`
	Name               string             `db:"name"                json:"name"`
	CreditBalance      int64              `db:"credit_balance"      json:"credit_balance"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	CreatedAt          time.Time          `db:"created_at"          json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"          json:"updated_at"`
}
