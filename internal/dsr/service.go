package dsr

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"custodia/internal/audit"
	"custodia/internal/consent"
	"custodia/internal/erasure"
	"custodia/internal/export"
	"custodia/internal/platform/metrics"
	domainerrors "custodia/pkg/domain-errors"
)

var tracer = otel.Tracer("custodia/dsr")

// duplicateWindow is how long a (requester, type) pair blocks resubmission.
const duplicateWindow = 30 * 24 * time.Hour

// slaDays is the advisory completion window communicated to the subject.
const slaDays = 30

// Dispatcher hands a request id to the asynchronous processing pipeline.
// Delivery is at-least-once; processing is idempotent on terminal requests.
type Dispatcher interface {
	Enqueue(ctx context.Context, requestID uuid.UUID, requestType Type) error
}

// Service orchestrates the data-subject request lifecycle.
type Service struct {
	store      Store
	tx         TxRunner
	exports    *export.Collector
	eraser     *erasure.Engine
	consents   *consent.Service
	auditor    *audit.Service
	logger     *slog.Logger
	metrics    *metrics.Metrics
	dispatcher Dispatcher
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the DSR manager. The dispatcher is attached afterwards
// via SetDispatcher because in-process dispatchers need the service first.
func NewService(store Store, tx TxRunner, exports *export.Collector, eraser *erasure.Engine, consents *consent.Service, auditor *audit.Service, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		tx:       tx,
		exports:  exports,
		eraser:   eraser,
		consents: consents,
		auditor:  auditor,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatcher attaches the async processing pipeline.
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// Submit validates and persists a new request in status pending. Access and
// portability requests are immediately queued for processing; submission
// itself always returns as soon as the row is durable.
func (s *Service) Submit(ctx context.Context, request *Request) (*Request, error) {
	ctx, span := tracer.Start(ctx, "dsr.Submit")
	defer span.End()

	if err := validateSubmission(request); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	recent, err := s.store.HasRecent(ctx, request.RequesterID, request.Type, request.Tenant, now.Add(-duplicateWindow))
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "check duplicate request")
	}
	if recent {
		return nil, domainerrors.New(domainerrors.CodeValidation,
			"a "+string(request.Type)+" request from this requester already exists within 30 days")
	}

	stored := *request
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.SubjectKind == "" {
		stored.SubjectKind = SubjectSelf
	}
	stored.Status = StatusPending
	stored.SubmittedAt = now
	stored.EstimatedCompletion = now.AddDate(0, 0, slaDays)
	stored.ProcessedAt = nil
	stored.CompletedAt = nil
	stored.ResponseData = nil
	stored.RejectionReason = ""

	if err := s.store.Insert(ctx, &stored); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "persist request")
	}

	if s.metrics != nil {
		s.metrics.DSRSubmitted.WithLabelValues(string(stored.Type)).Inc()
	}
	s.auditor.Log(ctx, &audit.SecurityEvent{
		Source:      "dsr",
		Type:        audit.EventGDPRRequestSubmitted,
		Category:    "compliance",
		Severity:    audit.SeverityInfo,
		Description: "Data subject request submitted: " + string(stored.Type),
		Actor:       stored.RequesterID,
		Outcome:     audit.OutcomeSuccess,
		Tenant:      stored.Tenant,
		Metadata: map[string]any{
			"request_id":   stored.ID.String(),
			"request_type": string(stored.Type),
			"email":        stored.RequesterEmail,
		},
	})

	if stored.Type.AutoProcessed() && s.dispatcher != nil {
		if err := s.dispatcher.Enqueue(ctx, stored.ID, stored.Type); err != nil {
			// The request stays pending; a later worker sweep or manual
			// trigger picks it up.
			s.logger.ErrorContext(ctx, "failed to enqueue request for processing",
				"request_id", stored.ID, "error", err)
		}
	}
	return &stored, nil
}

func validateSubmission(request *Request) error {
	if request.RequesterID == "" {
		return domainerrors.New(domainerrors.CodeValidation, "requesterId is required")
	}
	if request.RequesterEmail == "" || !strings.Contains(request.RequesterEmail, "@") {
		return domainerrors.New(domainerrors.CodeValidation, "a valid requester email is required")
	}
	if !request.Type.IsValid() {
		return domainerrors.New(domainerrors.CodeValidation, "unrecognized request type: "+string(request.Type))
	}
	if strings.TrimSpace(request.Description) == "" {
		return domainerrors.New(domainerrors.CodeValidation, "description is required")
	}
	return nil
}

// Get returns one request by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	request, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return request, nil
}

// ProcessAccess fulfils an access or portability request: collect the
// subject's data graph, anonymize it, and complete the request with the
// result. Re-invocation on a terminal request returns the stored outcome
// without re-executing.
func (s *Service) ProcessAccess(ctx context.Context, id uuid.UUID) (*Request, error) {
	ctx, span := tracer.Start(ctx, "dsr.ProcessAccess")
	defer span.End()

	request, done, err := s.begin(ctx, id, func(r *Request) error {
		if r.Type != TypeAccess && r.Type != TypePortability {
			return domainerrors.New(domainerrors.CodeValidation,
				"request type "+string(r.Type)+" cannot be processed as access")
		}
		return nil
	})
	if err != nil || done {
		return request, err
	}

	doc, err := s.exports.Collect(ctx, request.Subject(), request.Tenant)
	if err != nil {
		return s.reject(ctx, id, "Processing error", err)
	}
	anonymized := export.Anonymize(doc)

	completed, err := s.complete(ctx, id, map[string]any{"export": anonymized})
	if err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, &audit.SecurityEvent{
		Source:      "dsr",
		Type:        audit.EventGDPRAccessCompleted,
		Category:    "compliance",
		Severity:    audit.SeverityInfo,
		Description: "Data access request completed",
		Actor:       completed.RequesterID,
		Target:      completed.Subject(),
		Outcome:     audit.OutcomeSuccess,
		Tenant:      completed.Tenant,
		Metadata:    map[string]any{"request_id": completed.ID.String()},
	})
	s.observeCompletion(completed)
	return completed, nil
}

// ProcessErasure fulfils an erasure request. Eligibility is evaluated first:
// a legal hold terminates the request straight to rejected with the hold's
// reason, never touching in_progress.
func (s *Service) ProcessErasure(ctx context.Context, id uuid.UUID) (*Request, error) {
	ctx, span := tracer.Start(ctx, "dsr.ProcessErasure")
	defer span.End()

	var request *Request
	var terminal bool
	err := s.tx.RunInTx(ctx, id, func(store Store) error {
		r, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			request, terminal = r, true
			return nil
		}
		if r.Type != TypeErasure {
			return domainerrors.New(domainerrors.CodeValidation,
				"request type "+string(r.Type)+" cannot be processed as erasure")
		}

		eligibility, err := s.eraser.CheckEligibility(ctx, r.Subject(), r.Tenant)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if !eligibility.Allowed {
			r.Status = StatusRejected
			r.RejectionReason = eligibility.Reason
			r.CompletedAt = &now
			request, terminal = r, true
			return store.Update(ctx, r)
		}
		r.Status = StatusInProgress
		r.ProcessedAt = &now
		request = r
		return store.Update(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	if terminal {
		return request, nil
	}

	result, err := s.eraser.Erase(ctx, request.Subject(), request.Tenant)
	if err != nil {
		return s.reject(ctx, id, "Processing error", err)
	}

	completed, err := s.complete(ctx, id, map[string]any{
		"deleted_records":   result.Deleted,
		"retained_records":  result.Retained,
		"retention_reasons": result.RetentionReasons,
	})
	if err != nil {
		return nil, err
	}

	// Erasure is irreversible, so its completion is always audited at
	// elevated severity.
	s.auditor.Log(ctx, &audit.SecurityEvent{
		Source:      "dsr",
		Type:        audit.EventGDPRErasureCompleted,
		Category:    "compliance",
		Severity:    audit.SeverityHigh,
		Description: "Data erasure request completed",
		Actor:       completed.RequesterID,
		Target:      completed.Subject(),
		Outcome:     audit.OutcomeSuccess,
		Tenant:      completed.Tenant,
		Metadata: map[string]any{
			"request_id":       completed.ID.String(),
			"deleted_records":  result.Deleted,
			"retained_records": result.Retained,
		},
	})
	s.observeCompletion(completed)
	return completed, nil
}

// begin moves a pending request to in_progress under the per-id transaction.
// It reports done=true when the request was already terminal, carrying the
// cached outcome.
func (s *Service) begin(ctx context.Context, id uuid.UUID, check func(*Request) error) (*Request, bool, error) {
	var request *Request
	var terminal bool
	err := s.tx.RunInTx(ctx, id, func(store Store) error {
		r, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			request, terminal = r, true
			return nil
		}
		if err := check(r); err != nil {
			return err
		}
		now := time.Now().UTC()
		r.Status = StatusInProgress
		r.ProcessedAt = &now
		request = r
		return store.Update(ctx, r)
	})
	if err != nil {
		return nil, false, err
	}
	return request, terminal, nil
}

func (s *Service) complete(ctx context.Context, id uuid.UUID, responseData map[string]any) (*Request, error) {
	var request *Request
	err := s.tx.RunInTx(ctx, id, func(store Store) error {
		r, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		r.Status = StatusCompleted
		r.CompletedAt = &now
		r.ResponseData = responseData
		request = r
		return store.Update(ctx, r)
	})
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "complete request")
	}
	return request, nil
}

// reject terminates a request after a processing failure. The original error
// is returned so callers and queue workers see the failure; the stored
// request carries the generic reason.
func (s *Service) reject(ctx context.Context, id uuid.UUID, reason string, cause error) (*Request, error) {
	var request *Request
	txErr := s.tx.RunInTx(ctx, id, func(store Store) error {
		r, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		r.Status = StatusRejected
		r.RejectionReason = reason
		r.CompletedAt = &now
		request = r
		return store.Update(ctx, r)
	})
	if txErr != nil {
		s.logger.ErrorContext(ctx, "failed to reject request after processing error",
			"request_id", id, "error", txErr)
		return nil, cause
	}
	if s.metrics != nil {
		s.metrics.DSRCompleted.WithLabelValues(string(StatusRejected)).Inc()
	}
	return request, cause
}

func (s *Service) observeCompletion(request *Request) {
	if s.metrics == nil {
		return
	}
	s.metrics.DSRCompleted.WithLabelValues(string(request.Status)).Inc()
	if request.CompletedAt != nil {
		s.metrics.DSRProcessingDuration.Observe(request.CompletedAt.Sub(request.SubmittedAt).Seconds())
	}
}

// Stats assembles the compliance aggregates for one tenant.
func (s *Service) Stats(ctx context.Context, tenant string) (*Stats, error) {
	byStatus, err := s.store.CountByStatus(ctx, tenant)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "count requests by status")
	}
	byType, err := s.store.CountByType(ctx, tenant)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "count requests by type")
	}
	avgDays, err := s.store.AvgProcessingDays(ctx, tenant)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "average processing time")
	}
	consents, err := s.consents.CountByStatus(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return &Stats{
		ByStatus:          byStatus,
		ByType:            byType,
		AvgProcessingDays: avgDays,
		ConsentsGiven:     consents[consent.StatusGiven],
		ConsentsWithdrawn: consents[consent.StatusWithdrawn],
	}, nil
}
