package dsr

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"custodia/internal/platform/kafka/consumer"
	domainerrors "custodia/pkg/domain-errors"
)

// Worker consumes processing tasks from the queue. Handling is idempotent:
// a redelivered task for an already-terminal request returns the cached
// outcome and commits.
type Worker struct {
	processor Processor
	logger    *slog.Logger
}

// NewWorker creates a queue handler around the processor.
func NewWorker(processor Processor, logger *slog.Logger) *Worker {
	return &Worker{processor: processor, logger: logger}
}

// Handle implements consumer.Handler. A returned error leaves the offset
// uncommitted so the task is retried; malformed or permanently invalid tasks
// are logged and committed to keep the partition moving.
func (w *Worker) Handle(ctx context.Context, msg *consumer.Message) error {
	var task taskEnvelope
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		w.logger.ErrorContext(ctx, "dropping malformed processing task",
			"topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	requestID, err := uuid.Parse(task.RequestID)
	if err != nil {
		w.logger.ErrorContext(ctx, "dropping task with invalid request id",
			"request_id", task.RequestID, "error", err)
		return nil
	}

	if Type(task.RequestType) == TypeErasure {
		_, err = w.processor.ProcessErasure(ctx, requestID)
	} else {
		_, err = w.processor.ProcessAccess(ctx, requestID)
	}
	if err != nil {
		if permanent(err) {
			w.logger.ErrorContext(ctx, "dropping task after permanent failure",
				"request_id", requestID, "error", err)
			return nil
		}
		return err
	}
	return nil
}

// permanent classifies failures that a retry cannot fix.
func permanent(err error) bool {
	var domainErr *domainerrors.Error
	if !errors.As(err, &domainErr) {
		return false
	}
	switch domainErr.Code {
	case domainerrors.CodeValidation, domainerrors.CodeNotFound:
		return true
	}
	return false
}
