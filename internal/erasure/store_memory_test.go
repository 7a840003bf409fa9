package erasure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySubjectStoreTombstone(t *testing.T) {
	store := NewMemorySubjectStore()
	store.Put(&Subject{
		ID: "u1", Tenant: "acme", Email: "alice@example.com",
		Name: "Alice", Password: "hash", Active: true,
	})

	now := time.Now().UTC()
	require.NoError(t, store.Tombstone(context.Background(), "u1", "acme", now))

	subject, ok := store.Get("u1", "acme")
	require.True(t, ok)
	assert.Equal(t, "deleted_u1@deleted.local", subject.Email)
	assert.Equal(t, TombstoneName, subject.Name)
	assert.Empty(t, subject.Password)
	assert.False(t, subject.Active)
	require.NotNil(t, subject.DeletedAt)
	assert.Equal(t, now, *subject.DeletedAt)

	// A second tombstone is rejected.
	require.Error(t, store.Tombstone(context.Background(), "u1", "acme", now))
}

func TestMemorySubjectStoreTombstoneUnknownUser(t *testing.T) {
	store := NewMemorySubjectStore()
	require.Error(t, store.Tombstone(context.Background(), "ghost", "acme", time.Now()))
}
