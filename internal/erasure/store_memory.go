package erasure

import (
	"context"
	"sync"
	"time"

	domainerrors "custodia/pkg/domain-errors"
)

// Subject is the minimal identity record the in-memory store tombstones.
type Subject struct {
	ID        string
	Tenant    string
	Email     string
	Name      string
	Password  string
	Active    bool
	DeletedAt *time.Time
}

// MemorySubjectStore is an in-memory SubjectStore for tests and
// single-process setups.
type MemorySubjectStore struct {
	mu       sync.Mutex
	subjects map[string]*Subject
}

// NewMemorySubjectStore creates an empty MemorySubjectStore.
func NewMemorySubjectStore() *MemorySubjectStore {
	return &MemorySubjectStore{subjects: make(map[string]*Subject)}
}

// Put registers a subject.
func (s *MemorySubjectStore) Put(subject *Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *subject
	s.subjects[subject.Tenant+"/"+subject.ID] = &copied
}

// Get returns a subject, if present.
func (s *MemorySubjectStore) Get(userID, tenant string) (*Subject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[tenant+"/"+userID]
	if !ok {
		return nil, false
	}
	copied := *subject
	return &copied, true
}

func (s *MemorySubjectStore) Tombstone(_ context.Context, userID, tenant string, deletedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[tenant+"/"+userID]
	if !ok || subject.DeletedAt != nil {
		return domainerrors.New(domainerrors.CodeNotFound, "user not found or already deleted")
	}
	subject.Email = TombstoneEmail(userID)
	subject.Name = TombstoneName
	subject.Password = ""
	subject.Active = false
	at := deletedAt
	subject.DeletedAt = &at
	return nil
}
