// Package erasure implements compliant deletion of a data subject: the core
// identity record is tombstoned, dependent domains are hard-deleted, and
// rows under a retention obligation are counted and reasoned instead of
// silently kept.
package erasure

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"custodia/internal/audit"
	domainerrors "custodia/pkg/domain-errors"
)

var tracer = otel.Tracer("custodia/erasure")

// SubjectStore tombstones the core identity record. Tombstoning replaces the
// email with a deterministic placeholder, clears the display name and
// credentials, deactivates the account, and stamps the deletion time.
type SubjectStore interface {
	Tombstone(ctx context.Context, userID, tenant string, deletedAt time.Time) error
}

// DomainPurger hard-deletes one dependent data domain. Count reports how many
// rows the subject owns so a failed purge can be booked as retained.
type DomainPurger interface {
	Name() string
	Count(ctx context.Context, userID, tenant string) (int64, error)
	Purge(ctx context.Context, userID, tenant string) (int64, error)
}

// Eligibility is the outcome of a pre-erasure hold check.
type Eligibility struct {
	Allowed bool
	Reason  string
}

// Result summarizes one erasure run.
type Result struct {
	Deleted          int64    `json:"deleted_records"`
	Retained         int64    `json:"retained_records"`
	RetentionReasons []string `json:"retention_reasons"`
}

// Engine orchestrates subject erasure across domains.
type Engine struct {
	subjects SubjectStore
	holds    HoldStore
	events   audit.Store
	purgers  []DomainPurger
}

// NewEngine creates the erasure engine.
func NewEngine(subjects SubjectStore, holds HoldStore, events audit.Store, purgers ...DomainPurger) *Engine {
	return &Engine{subjects: subjects, holds: holds, events: events, purgers: purgers}
}

// CheckEligibility consults active legal holds. A blocked subject gets the
// hold's reason back so it can be surfaced on the rejected request.
func (e *Engine) CheckEligibility(ctx context.Context, userID, tenant string) (Eligibility, error) {
	holds, err := e.holds.ActiveHolds(ctx, userID, tenant, time.Now().UTC())
	if err != nil {
		return Eligibility{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "check erasure eligibility")
	}
	if len(holds) > 0 {
		return Eligibility{Allowed: false, Reason: holds[0].Reason}, nil
	}
	return Eligibility{Allowed: true}, nil
}

// Erase deletes the subject. The tombstone counts as one deleted record. Each
// domain is purged independently: a failing domain books its rows as retained
// with a reason naming the domain, and the run continues. Security events are
// never deleted here regardless of domain outcomes.
func (e *Engine) Erase(ctx context.Context, userID, tenant string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "erasure.Erase")
	defer span.End()

	result := &Result{RetentionReasons: []string{}}

	if err := e.subjects.Tombstone(ctx, userID, tenant, time.Now().UTC()); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "tombstone subject")
	}
	result.Deleted++

	for _, purger := range e.purgers {
		count, err := purger.Count(ctx, userID, tenant)
		if err != nil {
			result.RetentionReasons = append(result.RetentionReasons,
				fmt.Sprintf("%s: row count unavailable, domain skipped", purger.Name()))
			continue
		}
		if count == 0 {
			continue
		}
		deleted, err := purger.Purge(ctx, userID, tenant)
		if err != nil {
			result.Retained += count
			result.RetentionReasons = append(result.RetentionReasons,
				fmt.Sprintf("%s: deletion failed, %d rows kept for manual review", purger.Name(), count))
			continue
		}
		result.Deleted += deleted
	}

	retained, err := e.events.CountByActor(ctx, userID, tenant)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "count retained security events")
	}
	if retained > 0 {
		result.Retained += int64(retained)
		result.RetentionReasons = append(result.RetentionReasons,
			fmt.Sprintf("security_events: %d rows retained under the audit retention policy", retained))
	}
	return result, nil
}

// TombstoneEmail is the deterministic placeholder written over a deleted
// subject's email.
func TombstoneEmail(userID string) string {
	return "deleted_" + userID + "@deleted.local"
}

// TombstoneName replaces a deleted subject's display name.
const TombstoneName = "[DELETED]"
