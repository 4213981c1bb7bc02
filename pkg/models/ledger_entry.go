package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerReason is the business reason for a balance change.
type LedgerReason string

const (
	// LedgerReasonDebit charges a tenant for running a job. At most one
	// debit row may exist per job.
	LedgerReasonDebit LedgerReason = "debit"
	// LedgerReasonRefund compensates a debit when the paid-for work failed.
	LedgerReasonRefund LedgerReason = "refund"
	// LedgerReasonBonus is a promotional or signup grant.
	LedgerReasonBonus LedgerReason = "bonus"
	// LedgerReasonPurchase records a paid credit top-up.
	LedgerReasonPurchase LedgerReason = "purchase"
)

// ParseLedgerReason validates a raw reason string.
func ParseLedgerReason(raw string) (LedgerReason, bool) {
	switch LedgerReason(raw) {
	case LedgerReasonDebit, LedgerReasonRefund, LedgerReasonBonus, LedgerReasonPurchase:
		return LedgerReason(raw), true
	}
	return "", false
}

// LedgerEntry is one immutable, append-only record of a balance change.
// Amount is negative for debits and positive for credits. JobID is required
// for debit and refund entries and nil otherwise. Rows are never updated or
// deleted; a tenant's balance always equals the sum of its entries.
type LedgerEntry struct {
	ID          uuid.UUID    `db:"id"          json:"id"`
	TenantID    uuid.UUID    `db:"tenant_id"   json:"tenant_id"`
	Amount      int64        `db:"amount"      json:"amount"`
	Reason      LedgerReason `db:"reason"      json:"reason"`
	JobID       *uuid.UUID   `db:"job_id"      json:"job_id,omitempty"`
	Description string       `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time    `db:"created_at"  json:"created_at"`
}
