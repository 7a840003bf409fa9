//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/dsr"
	dsrpg "custodia/internal/dsr/store/postgres"
	domainerrors "custodia/pkg/domain-errors"
	"custodia/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *dsrpg.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := new(PostgresStoreSuite)
	s.postgres = containers.NewPostgresContainer(t)
	suite.Run(t, s)
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.store = dsrpg.New(s.postgres.DB.SQL)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "data_subject_requests"))
}

func newRequest(requestType dsr.Type) *dsr.Request {
	now := time.Now().UTC()
	return &dsr.Request{
		ID:                  uuid.New(),
		Type:                requestType,
		Status:              dsr.StatusPending,
		RequesterID:         "u1",
		RequesterEmail:      "alice@example.com",
		SubjectKind:         dsr.SubjectSelf,
		Description:         "I want a copy of my data",
		Tenant:              "acme",
		SubmittedAt:         now,
		EstimatedCompletion: now.AddDate(0, 0, 30),
	}
}

func (s *PostgresStoreSuite) TestInsertAndGetRoundTrip() {
	ctx := context.Background()

	request := newRequest(dsr.TypeAccess)
	request.RequestedData = []string{"profile", "consents"}
	s.Require().NoError(s.store.Insert(ctx, request))

	got, err := s.store.Get(ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(request.ID, got.ID)
	s.Equal(dsr.TypeAccess, got.Type)
	s.Equal(dsr.StatusPending, got.Status)
	s.Equal([]string{"profile", "consents"}, got.RequestedData)
	s.Nil(got.ProcessedAt)
	s.Nil(got.CompletedAt)
	s.WithinDuration(request.EstimatedCompletion, got.EstimatedCompletion, time.Second)
}

func (s *PostgresStoreSuite) TestGetUnknownIsNotFound() {
	_, err := s.store.Get(context.Background(), uuid.New())
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeNotFound))
}

func (s *PostgresStoreSuite) TestUpdateLifecycle() {
	ctx := context.Background()
	request := newRequest(dsr.TypeAccess)
	s.Require().NoError(s.store.Insert(ctx, request))

	now := time.Now().UTC()
	request.Status = dsr.StatusCompleted
	request.ProcessedAt = &now
	request.CompletedAt = &now
	request.ResponseData = map[string]any{"sections": float64(2)}
	s.Require().NoError(s.store.Update(ctx, request))

	got, err := s.store.Get(ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(dsr.StatusCompleted, got.Status)
	s.Require().NotNil(got.CompletedAt)
	s.Equal(map[string]any{"sections": float64(2)}, got.ResponseData)
}

func (s *PostgresStoreSuite) TestUpdateUnknownIsNotFound() {
	request := newRequest(dsr.TypeAccess)
	err := s.store.Update(context.Background(), request)
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeNotFound))
}

func (s *PostgresStoreSuite) TestHasRecentWindow() {
	ctx := context.Background()
	request := newRequest(dsr.TypeAccess)
	s.Require().NoError(s.store.Insert(ctx, request))

	recent, err := s.store.HasRecent(ctx, "u1", dsr.TypeAccess, "acme", time.Now().AddDate(0, 0, -30))
	s.Require().NoError(err)
	s.True(recent)

	recent, err = s.store.HasRecent(ctx, "u1", dsr.TypeErasure, "acme", time.Now().AddDate(0, 0, -30))
	s.Require().NoError(err)
	s.False(recent, "window is per request type")

	recent, err = s.store.HasRecent(ctx, "u1", dsr.TypeAccess, "acme", time.Now().Add(time.Minute))
	s.Require().NoError(err)
	s.False(recent, "request predates the window")
}

func (s *PostgresStoreSuite) TestCountsAndAverage() {
	ctx := context.Background()

	completed := newRequest(dsr.TypeAccess)
	completed.Status = dsr.StatusCompleted
	s.Require().NoError(s.store.Insert(ctx, completed))
	completedAt := completed.SubmittedAt.Add(48 * time.Hour)
	completed.CompletedAt = &completedAt
	s.Require().NoError(s.store.Update(ctx, completed))

	s.Require().NoError(s.store.Insert(ctx, newRequest(dsr.TypeErasure)))

	byStatus, err := s.store.CountByStatus(ctx, "acme")
	s.Require().NoError(err)
	s.Equal(1, byStatus[dsr.StatusCompleted])
	s.Equal(1, byStatus[dsr.StatusPending])

	byType, err := s.store.CountByType(ctx, "acme")
	s.Require().NoError(err)
	s.Equal(1, byType[dsr.TypeAccess])
	s.Equal(1, byType[dsr.TypeErasure])

	avg, err := s.store.AvgProcessingDays(ctx, "acme")
	s.Require().NoError(err)
	s.InDelta(2.0, avg, 0.01)
}

// TestTransactionalGetLocksRow verifies the FOR UPDATE read: a second
// transaction's Get blocks until the first commits.
func (s *PostgresStoreSuite) TestTransactionalGetLocksRow() {
	ctx := context.Background()
	request := newRequest(dsr.TypeAccess)
	s.Require().NoError(s.store.Insert(ctx, request))

	tx1, err := s.postgres.DB.SQL.BeginTx(ctx, nil)
	s.Require().NoError(err)
	_, err = dsrpg.NewTx(tx1).Get(ctx, request.ID)
	s.Require().NoError(err)

	acquired := make(chan time.Duration, 1)
	go func() {
		tx2, err := s.postgres.DB.SQL.BeginTx(ctx, nil)
		if err != nil {
			acquired <- 0
			return
		}
		defer tx2.Rollback()
		start := time.Now()
		if _, err := dsrpg.NewTx(tx2).Get(ctx, request.ID); err != nil {
			acquired <- 0
			return
		}
		acquired <- time.Since(start)
	}()

	time.Sleep(300 * time.Millisecond)
	s.Require().NoError(tx1.Commit())

	select {
	case waited := <-acquired:
		s.GreaterOrEqual(waited, 200*time.Millisecond, "second reader should block on the row lock")
	case <-time.After(5 * time.Second):
		s.Fail("second reader never acquired the row lock")
	}
}
