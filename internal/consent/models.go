package consent

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a consent record. Records are never
// physically deleted: a grant is superseded by flipping it to withdrawn.
type Status string

const (
	StatusGiven     Status = "given"
	StatusWithdrawn Status = "withdrawn"
	StatusExpired   Status = "expired"
)

// LegalBasis values follow GDPR article 6.
type LegalBasis string

const (
	BasisConsent            LegalBasis = "consent"
	BasisContract           LegalBasis = "contract"
	BasisLegalObligation    LegalBasis = "legal_obligation"
	BasisVitalInterests     LegalBasis = "vital_interests"
	BasisPublicTask         LegalBasis = "public_task"
	BasisLegitimateInterest LegalBasis = "legitimate_interest"
)

// ConsentRecord is one entry in the append+supersede ledger. At most one
// record per (UserID, Tenant, ConsentType) holds StatusGiven at any time.
type ConsentRecord struct {
	ID          uuid.UUID
	UserID      string
	Tenant      string
	ConsentType string
	Purpose     string
	LegalBasis  LegalBasis
	Status      Status
	ConsentText string
	Version     string
	GivenAt     time.Time
	WithdrawnAt *time.Time
	// WithdrawReason is set when a withdrawal carried an explicit reason.
	WithdrawReason string
	ExpiresAt      *time.Time
	IPAddress      string
	UserAgent      string
}

// Active reports whether the record is a live grant at the given instant.
func (r *ConsentRecord) Active(now time.Time) bool {
	if r.Status != StatusGiven {
		return false
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return false
	}
	return true
}
