package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"custodia/internal/audit"
	"custodia/internal/platform/metrics"
	domainerrors "custodia/pkg/domain-errors"
)

var tracer = otel.Tracer("custodia/consent")

// Store is the ledger persistence contract. Mutations run inside a TxRunner
// transaction so the supersede-then-insert pair is atomic.
type Store interface {
	Insert(ctx context.Context, record *ConsentRecord) error
	// SupersedeActive flips matching StatusGiven records to withdrawn and
	// returns how many rows changed.
	SupersedeActive(ctx context.Context, userID, tenant, consentType string, withdrawnAt time.Time, reason string) (int64, error)
	// ListGiven returns live grants newest first. An empty consentType matches
	// all types.
	ListGiven(ctx context.Context, userID, tenant, consentType string, now time.Time) ([]*ConsentRecord, error)
	ListByUser(ctx context.Context, userID, tenant string) ([]*ConsentRecord, error)
	CountByStatus(ctx context.Context, tenant string) (map[Status]int, error)
}

// TxRunner serializes ledger mutations per user key. Implementations wrap a
// database transaction or, in-memory, a sharded lock.
type TxRunner interface {
	RunInTx(ctx context.Context, userID string, fn func(store Store) error) error
}

// Service owns the consent ledger. Reads go straight to the store; writes go
// through the TxRunner so "at most one active grant per key" survives
// concurrent callers.
type Service struct {
	store   Store
	tx      TxRunner
	auditor *audit.Service
	metrics *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the consent service.
func NewService(store Store, tx TxRunner, auditor *audit.Service, opts ...Option) *Service {
	s := &Service{store: store, tx: tx, auditor: auditor}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record registers a new grant. Any existing active grant for the same
// (user, tenant, type) is withdrawn first, inside the same transaction.
func (s *Service) Record(ctx context.Context, record *ConsentRecord) (*ConsentRecord, error) {
	ctx, span := tracer.Start(ctx, "consent.Record")
	defer span.End()

	if record.UserID == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "userId is required")
	}
	if record.ConsentType == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "consentType is required")
	}

	stored := *record
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Status == "" {
		stored.Status = StatusGiven
	}
	if stored.LegalBasis == "" {
		stored.LegalBasis = BasisConsent
	}
	if stored.GivenAt.IsZero() {
		stored.GivenAt = time.Now().UTC()
	}

	err := s.tx.RunInTx(ctx, stored.UserID, func(store Store) error {
		if stored.Status == StatusGiven {
			if _, err := store.SupersedeActive(ctx, stored.UserID, stored.Tenant, stored.ConsentType, stored.GivenAt, "superseded"); err != nil {
				return err
			}
		}
		return store.Insert(ctx, &stored)
	})
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "record consent")
	}

	if s.metrics != nil {
		s.metrics.ConsentRecorded.Inc()
	}
	s.auditor.Log(ctx, &audit.SecurityEvent{
		Source:      "consent",
		Type:        audit.EventConsentRecorded,
		Category:    "compliance",
		Severity:    audit.SeverityInfo,
		Description: "Consent recorded: " + stored.ConsentType,
		Actor:       stored.UserID,
		Outcome:     audit.OutcomeSuccess,
		IPAddress:   stored.IPAddress,
		UserAgent:   stored.UserAgent,
		Tenant:      stored.Tenant,
		Metadata: map[string]any{
			"consent_id":   stored.ID.String(),
			"consent_type": stored.ConsentType,
			"legal_basis":  string(stored.LegalBasis),
			"version":      stored.Version,
		},
	})
	return &stored, nil
}

// Withdraw flips every active grant matching the key to withdrawn, attaching
// the reason. Zero affected rows is a valid outcome, not an error.
func (s *Service) Withdraw(ctx context.Context, userID, tenant, consentType, reason string) (int64, error) {
	ctx, span := tracer.Start(ctx, "consent.Withdraw")
	defer span.End()

	if userID == "" {
		return 0, domainerrors.New(domainerrors.CodeValidation, "userId is required")
	}
	if consentType == "" {
		return 0, domainerrors.New(domainerrors.CodeValidation, "consentType is required")
	}
	if reason == "" {
		reason = "user_requested"
	}

	var affected int64
	err := s.tx.RunInTx(ctx, userID, func(store Store) error {
		var err error
		affected, err = store.SupersedeActive(ctx, userID, tenant, consentType, time.Now().UTC(), reason)
		return err
	})
	if err != nil {
		return 0, domainerrors.Wrap(err, domainerrors.CodeInternal, "withdraw consent")
	}

	if s.metrics != nil {
		s.metrics.ConsentWithdrawn.Inc()
	}
	s.auditor.Log(ctx, &audit.SecurityEvent{
		Source:      "consent",
		Type:        audit.EventConsentWithdrawn,
		Category:    "compliance",
		Severity:    audit.SeverityInfo,
		Description: "Consent withdrawn: " + consentType,
		Actor:       userID,
		Outcome:     audit.OutcomeSuccess,
		Tenant:      tenant,
		Metadata: map[string]any{
			"consent_type":  consentType,
			"reason":        reason,
			"affected_rows": affected,
		},
	})
	return affected, nil
}

// Status returns the user's live grants, newest first. consentType narrows to
// one type when non-empty.
func (s *Service) Status(ctx context.Context, userID, tenant, consentType string) ([]*ConsentRecord, error) {
	if userID == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "userId is required")
	}
	records, err := s.store.ListGiven(ctx, userID, tenant, consentType, time.Now().UTC())
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "check consent status")
	}
	return records, nil
}

// History returns every ledger entry for the user, including superseded and
// withdrawn ones. Used by the export pipeline.
func (s *Service) History(ctx context.Context, userID, tenant string) ([]*ConsentRecord, error) {
	records, err := s.store.ListByUser(ctx, userID, tenant)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list consent history")
	}
	return records, nil
}

// CountByStatus aggregates ledger entries per status for the stats endpoint.
func (s *Service) CountByStatus(ctx context.Context, tenant string) (map[Status]int, error) {
	counts, err := s.store.CountByStatus(ctx, tenant)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "count consents")
	}
	return counts, nil
}
