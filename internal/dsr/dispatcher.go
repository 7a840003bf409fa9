package dsr

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Processor is the subset of the service the dispatch pipeline invokes.
type Processor interface {
	ProcessAccess(ctx context.Context, id uuid.UUID) (*Request, error)
	ProcessErasure(ctx context.Context, id uuid.UUID) (*Request, error)
}

// InProcessDispatcher runs processing in a goroutine of the same process.
// Used by single-node deployments and tests; clustered deployments use the
// Kafka dispatcher plus workers instead.
type InProcessDispatcher struct {
	processor Processor
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewInProcessDispatcher creates the dispatcher.
func NewInProcessDispatcher(processor Processor, logger *slog.Logger) *InProcessDispatcher {
	return &InProcessDispatcher{processor: processor, logger: logger}
}

func (d *InProcessDispatcher) Enqueue(_ context.Context, requestID uuid.UUID, requestType Type) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx := context.Background()
		var err error
		if requestType == TypeErasure {
			_, err = d.processor.ProcessErasure(ctx, requestID)
		} else {
			_, err = d.processor.ProcessAccess(ctx, requestID)
		}
		if err != nil {
			d.logger.Error("asynchronous request processing failed",
				"request_id", requestID, "request_type", requestType, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every enqueued request finished processing.
func (d *InProcessDispatcher) Wait() {
	d.wg.Wait()
}
