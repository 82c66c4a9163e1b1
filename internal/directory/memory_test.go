// internal/directory/memory_test.go
package directory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proall22/library-management-system/internal/circulation"
)

func TestMemoryDirectory(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	added := d.Add(circulation.Member{Name: "Ada", Status: circulation.MemberActive})
	require.NotEqual(t, uuid.Nil, added.ID)

	got, err := d.Member(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, circulation.MemberActive, got.Status)

	_, err = d.Member(ctx, uuid.New())
	assert.ErrorIs(t, err, circulation.ErrNotFound)
}

func TestMemorySetStatus(t *testing.T) {
	d := NewMemory()
	added := d.Add(circulation.Member{Status: circulation.MemberActive})

	require.NoError(t, d.SetStatus(added.ID, circulation.MemberSuspended))
	got, err := d.Member(context.Background(), added.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.MemberSuspended, got.Status)

	assert.ErrorIs(t, d.SetStatus(uuid.New(), circulation.MemberActive), circulation.ErrNotFound)
}

func TestMemoryPreservesExplicitID(t *testing.T) {
	d := NewMemory()
	id := uuid.New()
	added := d.Add(circulation.Member{ID: id, Status: circulation.MemberActive})
	assert.Equal(t, id, added.ID)
}
