package dsr

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists data-subject requests. Get inside a TxRunner transaction
// must lock the row so status transitions serialize per request id.
type Store interface {
	Insert(ctx context.Context, request *Request) error
	Get(ctx context.Context, id uuid.UUID) (*Request, error)
	Update(ctx context.Context, request *Request) error
	// HasRecent reports whether the requester already filed a request of this
	// type since the given instant, regardless of its status.
	HasRecent(ctx context.Context, requesterID string, requestType Type, tenant string, since time.Time) (bool, error)
	CountByStatus(ctx context.Context, tenant string) (map[Status]int, error)
	CountByType(ctx context.Context, tenant string) (map[Type]int, error)
	// AvgProcessingDays averages completedAt-submittedAt over completed
	// requests, in days. Zero when none completed.
	AvgProcessingDays(ctx context.Context, tenant string) (float64, error)
}

// TxRunner serializes request mutations per request id.
type TxRunner interface {
	RunInTx(ctx context.Context, id uuid.UUID, fn func(store Store) error) error
}
