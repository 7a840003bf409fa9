package export

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	name string
	data any
	err  error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Collect(_ context.Context, _, _ string) (any, error) {
	return s.data, s.err
}

func TestCollectAssemblesAllDomains(t *testing.T) {
	collector, err := NewCollector(
		staticSource{name: "profile", data: map[string]any{"email": "a@b.c"}},
		staticSource{name: "work_items", data: []any{"item-1"}},
	)
	require.NoError(t, err)

	doc, err := collector.Collect(context.Background(), "u1", "acme")
	require.NoError(t, err)

	assert.Equal(t, "u1", doc.SubjectID)
	assert.Equal(t, "acme", doc.Tenant)
	assert.Equal(t, DataVersion, doc.DataVersion)
	assert.False(t, doc.ExportedAt.IsZero())
	assert.Len(t, doc.Sections, 2)
	assert.Equal(t, []any{"item-1"}, doc.Sections["work_items"])
}

func TestCollectFailsWhenAnyDomainFails(t *testing.T) {
	collector, err := NewCollector(
		staticSource{name: "profile", data: map[string]any{}},
		staticSource{name: "uploads", err: errors.New("bucket unreachable")},
	)
	require.NoError(t, err)

	_, err = collector.Collect(context.Background(), "u1", "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collect uploads")
}

func TestNewCollectorRejectsDuplicateNames(t *testing.T) {
	_, err := NewCollector(
		staticSource{name: "profile"},
		staticSource{name: "profile"},
	)
	require.Error(t, err)
}
