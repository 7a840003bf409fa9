// Package postgres implements the DSR store on PostgreSQL. Reads inside a
// transaction lock the row (SELECT ... FOR UPDATE) so status transitions for
// one request serialize across workers and processes.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"custodia/internal/dsr"
	domainerrors "custodia/pkg/domain-errors"
)

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL DSR store.
type Store struct {
	q     Queryer
	forTx bool
}

// New creates a Store over a database handle.
func New(q Queryer) *Store {
	return &Store{q: q}
}

// NewTx creates a Store bound to an open transaction. Gets lock their row.
func NewTx(tx *sql.Tx) *Store {
	return &Store{q: tx, forTx: true}
}

func (s *Store) Insert(ctx context.Context, request *dsr.Request) error {
	requestedData, err := json.Marshal(request.RequestedData)
	if err != nil {
		return fmt.Errorf("encode requested data: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO data_subject_requests (
			id, request_type, status, requester_id, requester_email,
			subject_kind, subject_id, subject_email, legal_basis, description,
			requested_data, tenant, submitted_at, estimated_completion
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		request.ID, request.Type, request.Status, request.RequesterID,
		request.RequesterEmail, request.SubjectKind, request.SubjectID,
		request.SubjectEmail, request.LegalBasis, request.Description,
		requestedData, request.Tenant, request.SubmittedAt,
		request.EstimatedCompletion,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*dsr.Request, error) {
	query := `
		SELECT id, request_type, status, requester_id, requester_email,
		       subject_kind, subject_id, subject_email, legal_basis,
		       description, requested_data, tenant, submitted_at,
		       estimated_completion, processed_at, completed_at,
		       response_data, rejection_reason
		FROM data_subject_requests
		WHERE id = $1`
	if s.forTx {
		query += " FOR UPDATE"
	}

	var request dsr.Request
	var requestedData, responseData []byte
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&request.ID, &request.Type, &request.Status, &request.RequesterID,
		&request.RequesterEmail, &request.SubjectKind, &request.SubjectID,
		&request.SubjectEmail, &request.LegalBasis, &request.Description,
		&requestedData, &request.Tenant, &request.SubmittedAt,
		&request.EstimatedCompletion, &request.ProcessedAt,
		&request.CompletedAt, &responseData, &request.RejectionReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.New(domainerrors.CodeNotFound, "request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if len(requestedData) > 0 {
		if err := json.Unmarshal(requestedData, &request.RequestedData); err != nil {
			return nil, fmt.Errorf("decode requested data: %w", err)
		}
	}
	if len(responseData) > 0 {
		if err := json.Unmarshal(responseData, &request.ResponseData); err != nil {
			return nil, fmt.Errorf("decode response data: %w", err)
		}
	}
	return &request, nil
}

func (s *Store) Update(ctx context.Context, request *dsr.Request) error {
	responseData, err := marshalJSON(request.ResponseData)
	if err != nil {
		return fmt.Errorf("encode response data: %w", err)
	}
	result, err := s.q.ExecContext(ctx, `
		UPDATE data_subject_requests
		SET status = $1, processed_at = $2, completed_at = $3,
		    response_data = $4, rejection_reason = $5
		WHERE id = $6`,
		request.Status, request.ProcessedAt, request.CompletedAt,
		responseData, request.RejectionReason, request.ID,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if affected == 0 {
		return domainerrors.New(domainerrors.CodeNotFound, "request not found")
	}
	return nil
}

func (s *Store) HasRecent(ctx context.Context, requesterID string, requestType dsr.Type, tenant string, since time.Time) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM data_subject_requests
			WHERE requester_id = $1 AND request_type = $2 AND tenant = $3
			  AND submitted_at >= $4
		)`,
		requesterID, requestType, tenant, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent requests: %w", err)
	}
	return exists, nil
}

func (s *Store) CountByStatus(ctx context.Context, tenant string) (map[dsr.Status]int, error) {
	counts := make(map[dsr.Status]int)
	err := s.countGrouped(ctx, "status", tenant, func(key string, count int) {
		counts[dsr.Status(key)] = count
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) CountByType(ctx context.Context, tenant string) (map[dsr.Type]int, error) {
	counts := make(map[dsr.Type]int)
	err := s.countGrouped(ctx, "request_type", tenant, func(key string, count int) {
		counts[dsr.Type(key)] = count
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) countGrouped(ctx context.Context, column, tenant string, collect func(key string, count int)) error {
	query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM data_subject_requests`, column)
	var args []any
	if tenant != "" {
		query += ` WHERE tenant = $1`
		args = append(args, tenant)
	}
	query += fmt.Sprintf(` GROUP BY %s`, column)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("count requests by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan request count: %w", err)
		}
		collect(key, count)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate request counts: %w", err)
	}
	return nil
}

func (s *Store) AvgProcessingDays(ctx context.Context, tenant string) (float64, error) {
	query := `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM completed_at - submitted_at) / 86400), 0)
		FROM data_subject_requests
		WHERE status = $1 AND completed_at IS NOT NULL`
	args := []any{dsr.StatusCompleted}
	if tenant != "" {
		query += ` AND tenant = $2`
		args = append(args, tenant)
	}
	var avg float64
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average processing days: %w", err)
	}
	return avg, nil
}

func marshalJSON(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
