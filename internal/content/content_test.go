package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_Publishable(t *testing.T) {
	tests := []struct {
		name string
		item *Item
		want bool
	}{
		{"nil", nil, false},
		{"draft", &Item{Status: StatusDraft}, false},
		{"pending", &Item{Status: StatusPending}, false},
		{"rejected", &Item{Status: StatusRejected}, false},
		{"approved", &Item{Status: StatusApproved}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.Publishable())
		})
	}
}

func TestItem_Public(t *testing.T) {
	assert.False(t, (*Item)(nil).Public())
	assert.True(t, (&Item{Visibility: VisibilityPublic}).Public())
	assert.False(t, (&Item{Visibility: VisibilityPrivate}).Public())
	assert.False(t, (&Item{Visibility: VisibilityPassword}).Public())
}

func TestMemorySource(t *testing.T) {
	ctx := context.Background()

	// Given a source with two items
	src := NewMemorySource(&Item{ID: "b", Title: "B"}, &Item{ID: "a", Title: "A"})

	// When listing
	items, err := src.List(ctx)

	// Then items come back ordered by id
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)

	// When an item is replaced and another deleted
	src.Put(&Item{ID: "a", Title: "A2"})
	src.Delete("b")

	// Then Get reflects both changes
	got, err := src.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "A2", got.Title)

	_, err = src.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}
