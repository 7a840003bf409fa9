package erasure

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hold blocks erasure of a subject while a legal or contractual obligation
// applies. A hold with a nil ExpiresAt stands until explicitly released.
type Hold struct {
	ID        uuid.UUID
	UserID    string
	Tenant    string
	Reason    string
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Released  bool
}

// HoldStore persists legal holds.
type HoldStore interface {
	Create(ctx context.Context, hold *Hold) error
	Release(ctx context.Context, id uuid.UUID) error
	// ActiveHolds returns unreleased, unexpired holds for the subject.
	ActiveHolds(ctx context.Context, userID, tenant string, now time.Time) ([]*Hold, error)
}

// MemoryHoldStore is an in-memory HoldStore. With no holds created it yields
// "always eligible", matching a deployment that has not enabled holds.
type MemoryHoldStore struct {
	mu    sync.RWMutex
	holds map[uuid.UUID]*Hold
}

// NewMemoryHoldStore creates an empty MemoryHoldStore.
func NewMemoryHoldStore() *MemoryHoldStore {
	return &MemoryHoldStore{holds: make(map[uuid.UUID]*Hold)}
}

func (s *MemoryHoldStore) Create(_ context.Context, hold *Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *hold
	if copied.ID == uuid.Nil {
		copied.ID = uuid.New()
	}
	s.holds[copied.ID] = &copied
	return nil
}

func (s *MemoryHoldStore) Release(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hold, ok := s.holds[id]; ok {
		hold.Released = true
	}
	return nil
}

func (s *MemoryHoldStore) ActiveHolds(_ context.Context, userID, tenant string, now time.Time) ([]*Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Hold
	for _, hold := range s.holds {
		if hold.Released || hold.UserID != userID || hold.Tenant != tenant {
			continue
		}
		if hold.ExpiresAt != nil && !hold.ExpiresAt.After(now) {
			continue
		}
		copied := *hold
		out = append(out, &copied)
	}
	return out, nil
}
