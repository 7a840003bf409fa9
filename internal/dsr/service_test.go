package dsr

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/consent"
	"custodia/internal/erasure"
	"custodia/internal/export"
	"custodia/internal/fieldcrypt"
	"custodia/internal/retention"
	domainerrors "custodia/pkg/domain-errors"
)

type staticSource struct {
	name string
	data any
	err  error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Collect(_ context.Context, _, _ string) (any, error) {
	return s.data, s.err
}

type fakeSubjects struct{}

func (fakeSubjects) Tombstone(_ context.Context, _, _ string, _ time.Time) error { return nil }

type DSRServiceSuite struct {
	suite.Suite
	store      *MemoryStore
	auditStore *audit.MemoryStore
	auditor    *audit.Service
	holds      *erasure.MemoryHoldStore
	svc        *Service
	dispatcher *InProcessDispatcher
	ctx        context.Context
}

func (s *DSRServiceSuite) SetupTest() {
	s.setup(staticSource{name: "profile", data: map[string]any{"email": "alice@example.com"}})
}

func (s *DSRServiceSuite) setup(sources ...export.DomainSource) {
	logger := slog.New(slog.DiscardHandler)
	s.store = NewMemoryStore()
	s.auditStore = audit.NewMemoryStore()
	codec, err := fieldcrypt.New("test-master-key")
	s.Require().NoError(err)
	s.auditor = audit.NewService(s.auditStore, codec, retention.Default(), logger)

	consentStore := consent.NewMemoryStore()
	consents := consent.NewService(consentStore, consent.NewMemoryTx(consentStore), s.auditor)

	collector, err := export.NewCollector(sources...)
	s.Require().NoError(err)

	s.holds = erasure.NewMemoryHoldStore()
	eraser := erasure.NewEngine(fakeSubjects{}, s.holds, s.auditStore)

	s.svc = NewService(s.store, NewMemoryTx(s.store), collector, eraser, consents, s.auditor, logger)
	s.dispatcher = NewInProcessDispatcher(s.svc, logger)
	s.svc.SetDispatcher(s.dispatcher)
	s.ctx = context.Background()
}

func TestDSRServiceSuite(t *testing.T) {
	suite.Run(t, new(DSRServiceSuite))
}

func (s *DSRServiceSuite) request(requestType Type) *Request {
	return &Request{
		Type:           requestType,
		RequesterID:    "u1",
		RequesterEmail: "alice@example.com",
		Description:    "please process my data",
		Tenant:         "acme",
	}
}

func (s *DSRServiceSuite) TestSubmitValidation() {
	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing requester id", func(r *Request) { r.RequesterID = "" }},
		{"missing email", func(r *Request) { r.RequesterEmail = "" }},
		{"malformed email", func(r *Request) { r.RequesterEmail = "not-an-email" }},
		{"unknown type", func(r *Request) { r.Type = "downloading" }},
		{"blank description", func(r *Request) { r.Description = "   " }},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			request := s.request(TypeRectification)
			tc.mutate(request)
			_, err := s.svc.Submit(s.ctx, request)
			s.Require().Error(err)
			s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
		})
	}
}

func (s *DSRServiceSuite) TestSubmitSetsLifecycleFields() {
	submitted, err := s.svc.Submit(s.ctx, s.request(TypeRectification))
	s.Require().NoError(err)

	s.Equal(StatusPending, submitted.Status)
	s.NotZero(submitted.ID)
	s.False(submitted.SubmittedAt.IsZero())
	s.Equal(submitted.SubmittedAt.AddDate(0, 0, 30), submitted.EstimatedCompletion)
	s.Nil(submitted.ProcessedAt)
	s.Nil(submitted.CompletedAt)
}

func (s *DSRServiceSuite) TestSubmitRejectsDuplicateWithinWindow() {
	_, err := s.svc.Submit(s.ctx, s.request(TypeRectification))
	s.Require().NoError(err)

	_, err = s.svc.Submit(s.ctx, s.request(TypeRectification))
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))

	// Same requester, different type is fine.
	_, err = s.svc.Submit(s.ctx, s.request(TypeObjection))
	s.Require().NoError(err)
}

func (s *DSRServiceSuite) TestSubmitAllowsResubmissionAfterWindow() {
	old := s.request(TypeRectification)
	old.ID = uuid.New()
	old.Status = StatusCompleted
	old.SubmittedAt = time.Now().UTC().AddDate(0, 0, -31)
	s.Require().NoError(s.store.Insert(s.ctx, old))

	_, err := s.svc.Submit(s.ctx, s.request(TypeRectification))
	s.Require().NoError(err)
}

func (s *DSRServiceSuite) TestAccessRequestIsAutoProcessed() {
	submitted, err := s.svc.Submit(s.ctx, s.request(TypeAccess))
	s.Require().NoError(err)
	s.dispatcher.Wait()

	processed, err := s.svc.Get(s.ctx, submitted.ID)
	s.Require().NoError(err)
	s.Equal(StatusCompleted, processed.Status)
	s.NotNil(processed.CompletedAt)
	s.Require().Contains(processed.ResponseData, "export")

	// The stored document is anonymized.
	doc := processed.ResponseData["export"].(*export.Document)
	profile := doc.Sections["profile"].(map[string]any)
	s.Equal("***@example.com", profile["email"])
}

func (s *DSRServiceSuite) TestProcessAccessRejectsWrongType() {
	submitted, err := s.svc.Submit(s.ctx, s.request(TypeRectification))
	s.Require().NoError(err)

	_, err = s.svc.ProcessAccess(s.ctx, submitted.ID)
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
}

func (s *DSRServiceSuite) TestProcessAccessFailureRejectsRequest() {
	s.setup(staticSource{name: "profile", err: errors.New("datastore down")})

	submitted, err := s.svc.Submit(s.ctx, s.request(TypeAccess))
	s.Require().NoError(err)
	s.dispatcher.Wait()

	rejected, err := s.svc.Get(s.ctx, submitted.ID)
	s.Require().NoError(err)
	s.Equal(StatusRejected, rejected.Status)
	s.Equal("Processing error", rejected.RejectionReason)
	s.NotNil(rejected.CompletedAt)
}

func (s *DSRServiceSuite) TestTerminalRequestIsNotReprocessed() {
	submitted, err := s.svc.Submit(s.ctx, s.request(TypeAccess))
	s.Require().NoError(err)
	s.dispatcher.Wait()

	first, err := s.svc.Get(s.ctx, submitted.ID)
	s.Require().NoError(err)

	again, err := s.svc.ProcessAccess(s.ctx, submitted.ID)
	s.Require().NoError(err)
	s.Equal(StatusCompleted, again.Status)
	s.Equal(first.CompletedAt, again.CompletedAt)
}

func (s *DSRServiceSuite) TestProcessErasureCompletes() {
	submitted, err := s.svc.Submit(s.ctx, s.request(TypeErasure))
	s.Require().NoError(err)

	completed, err := s.svc.ProcessErasure(s.ctx, submitted.ID)
	s.Require().NoError(err)
	s.Equal(StatusCompleted, completed.Status)
	s.Equal(int64(1), completed.ResponseData["deleted_records"])
	s.Equal(int64(0), completed.ResponseData["retained_records"])
	s.auditor.Flush()

	events, _, err := s.auditStore.Query(s.ctx, audit.Filter{Type: audit.EventGDPRErasureCompleted})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.SeverityHigh, events[0].Severity)
}

func (s *DSRServiceSuite) TestLegalHoldRejectsErasureWithoutProcessing() {
	s.Require().NoError(s.holds.Create(s.ctx, &erasure.Hold{
		UserID: "u1", Tenant: "acme", Reason: "ongoing litigation",
	}))

	submitted, err := s.svc.Submit(s.ctx, s.request(TypeErasure))
	s.Require().NoError(err)

	rejected, err := s.svc.ProcessErasure(s.ctx, submitted.ID)
	s.Require().NoError(err)
	s.Equal(StatusRejected, rejected.Status)
	s.Equal("ongoing litigation", rejected.RejectionReason)
	// Never entered in_progress.
	s.Nil(rejected.ProcessedAt)
}

func (s *DSRServiceSuite) TestProcessErasureRejectsWrongType() {
	submitted, err := s.svc.Submit(s.ctx, s.request(TypeObjection))
	s.Require().NoError(err)

	_, err = s.svc.ProcessErasure(s.ctx, submitted.ID)
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
}

func (s *DSRServiceSuite) TestStats() {
	_, err := s.svc.Submit(s.ctx, s.request(TypeAccess))
	s.Require().NoError(err)
	s.dispatcher.Wait()
	_, err = s.svc.Submit(s.ctx, s.request(TypeObjection))
	s.Require().NoError(err)

	stats, err := s.svc.Stats(s.ctx, "acme")
	s.Require().NoError(err)
	s.Equal(1, stats.ByStatus[StatusCompleted])
	s.Equal(1, stats.ByStatus[StatusPending])
	s.Equal(1, stats.ByType[TypeAccess])
	s.Equal(1, stats.ByType[TypeObjection])
}
