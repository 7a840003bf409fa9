package consent

import (
	"context"
	"sort"
	"sync"
	"time"

	domainerrors "custodia/pkg/domain-errors"
)

// MemoryStore is an in-memory ledger for tests and single-process setups.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*ConsentRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, record *ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records = append(s.records, &copied)
	return nil
}

func (s *MemoryStore) SupersedeActive(_ context.Context, userID, tenant, consentType string, withdrawnAt time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	for _, record := range s.records {
		if record.Status != StatusGiven {
			continue
		}
		if record.UserID != userID || record.Tenant != tenant || record.ConsentType != consentType {
			continue
		}
		record.Status = StatusWithdrawn
		at := withdrawnAt
		record.WithdrawnAt = &at
		record.WithdrawReason = reason
		affected++
	}
	return affected, nil
}

func (s *MemoryStore) ListGiven(_ context.Context, userID, tenant, consentType string, now time.Time) ([]*ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ConsentRecord
	for _, record := range s.records {
		if record.UserID != userID || record.Tenant != tenant {
			continue
		}
		if consentType != "" && record.ConsentType != consentType {
			continue
		}
		if !record.Active(now) {
			continue
		}
		copied := *record
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].GivenAt.After(out[j].GivenAt)
	})
	return out, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID, tenant string) ([]*ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ConsentRecord
	for _, record := range s.records {
		if record.UserID != userID || record.Tenant != tenant {
			continue
		}
		copied := *record
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].GivenAt.After(out[j].GivenAt)
	})
	return out, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, tenant string) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, record := range s.records {
		if tenant != "" && record.Tenant != tenant {
			continue
		}
		counts[record.Status]++
	}
	return counts, nil
}

// Sharded in-memory transaction runner. A database-backed runner wraps a real
// transaction instead; here a per-user mutex shard gives the same "serialized
// per key" property within one process.
const numTxShards = 128

const defaultTxTimeout = 5 * time.Second

// MemoryTx serializes mutations per user via sharded mutexes.
type MemoryTx struct {
	shards  [numTxShards]sync.Mutex
	store   *MemoryStore
	timeout time.Duration
}

// NewMemoryTx creates a runner over the given store.
func NewMemoryTx(store *MemoryStore) *MemoryTx {
	return &MemoryTx{store: store}
}

func (t *MemoryTx) RunInTx(ctx context.Context, userID string, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := hashKey(userID) % numTxShards
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(t.store)
}

// hashKey is FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
