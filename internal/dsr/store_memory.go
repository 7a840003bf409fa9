package dsr

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	domainerrors "custodia/pkg/domain-errors"
)

// MemoryStore is an in-memory Store for tests and single-process setups.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*Request
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[uuid.UUID]*Request)}
}

func (s *MemoryStore) Insert(_ context.Context, request *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := cloneRequest(request)
	s.requests[request.ID] = copied
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, domainerrors.New(domainerrors.CodeNotFound, "request not found")
	}
	return cloneRequest(request), nil
}

func (s *MemoryStore) Update(_ context.Context, request *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[request.ID]; !ok {
		return domainerrors.New(domainerrors.CodeNotFound, "request not found")
	}
	s.requests[request.ID] = cloneRequest(request)
	return nil
}

func (s *MemoryStore) HasRecent(_ context.Context, requesterID string, requestType Type, tenant string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, request := range s.requests {
		if request.RequesterID == requesterID &&
			request.Type == requestType &&
			request.Tenant == tenant &&
			!request.SubmittedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, tenant string) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Status]int)
	for _, request := range s.requests {
		if tenant != "" && request.Tenant != tenant {
			continue
		}
		counts[request.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) CountByType(_ context.Context, tenant string) (map[Type]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Type]int)
	for _, request := range s.requests {
		if tenant != "" && request.Tenant != tenant {
			continue
		}
		counts[request.Type]++
	}
	return counts, nil
}

func (s *MemoryStore) AvgProcessingDays(_ context.Context, tenant string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	var count int
	for _, request := range s.requests {
		if tenant != "" && request.Tenant != tenant {
			continue
		}
		if request.Status != StatusCompleted || request.CompletedAt == nil {
			continue
		}
		total += request.CompletedAt.Sub(request.SubmittedAt).Hours() / 24
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

func cloneRequest(request *Request) *Request {
	copied := *request
	if request.RequestedData != nil {
		copied.RequestedData = append([]string(nil), request.RequestedData...)
	}
	if request.ResponseData != nil {
		data := make(map[string]any, len(request.ResponseData))
		for k, v := range request.ResponseData {
			data[k] = v
		}
		copied.ResponseData = data
	}
	return &copied
}

// MemoryTx serializes request mutations per id via sharded mutexes, the
// in-process analogue of a row-locking transaction.
const numTxShards = 128

const defaultTxTimeout = 5 * time.Second

type MemoryTx struct {
	shards  [numTxShards]sync.Mutex
	store   *MemoryStore
	timeout time.Duration
}

// NewMemoryTx creates a runner over the given store.
func NewMemoryTx(store *MemoryStore) *MemoryTx {
	return &MemoryTx{store: store}
}

func (t *MemoryTx) RunInTx(ctx context.Context, id uuid.UUID, fn func(store Store) error) error {
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

	shard := hashID(id) % numTxShards
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(t.store)
}

func hashID(id uuid.UUID) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for _, b := range id {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return h
}
