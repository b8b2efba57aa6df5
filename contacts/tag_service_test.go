package contacts_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/oy3o/contactd/contacts"
)

func TestTagService_CreateConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tags.Create(ctx, contacts.TagRequest{Name: "VIP", ColorHex: "#ffd700"})
	require.NoError(t, err)

	_, err = f.tags.Create(ctx, contacts.TagRequest{Name: "vip"})
	require.ErrorIs(t, err, contacts.ErrConflict)
	assert.Equal(t, "tag with name 'vip' already exists: conflict", err.Error())

	var failed int
	for _, s := range f.h.Spans.Ended() {
		if s.Name() == "TagService.Create" && s.Status().Code == codes.Error {
			failed++
			assert.Equal(t, err.Error(), s.Status().Description)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestTagService_CreateValidatesColor(t *testing.T) {
	f := newFixture(t)
	_, err := f.tags.Create(context.Background(), contacts.TagRequest{Name: "VIP", ColorHex: "gold"})
	assert.ErrorIs(t, err, contacts.ErrValidation)
}

func TestTagService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vip, err := f.tags.Create(ctx, contacts.TagRequest{Name: "VIP"})
	require.NoError(t, err)
	work, err := f.tags.Create(ctx, contacts.TagRequest{Name: "Work"})
	require.NoError(t, err)

	// 只改颜色，名字仍属于自己
	same, err := f.tags.Update(ctx, vip.ID, contacts.TagRequest{Name: "VIP", ColorHex: "#000"})
	require.NoError(t, err)
	assert.Equal(t, "#000", same.ColorHex)

	_, err = f.tags.Update(ctx, work.ID, contacts.TagRequest{Name: "vip"})
	assert.ErrorIs(t, err, contacts.ErrConflict)

	_, err = f.tags.Update(ctx, uuid.New(), contacts.TagRequest{Name: "Other"})
	assert.ErrorIs(t, err, contacts.ErrNotFound)

	renamed, err := f.tags.Update(ctx, work.ID, contacts.TagRequest{Name: "Office"})
	require.NoError(t, err)
	assert.Equal(t, "Office", renamed.Name)

	got, err := f.tags.GetByID(ctx, work.ID)
	require.NoError(t, err)
	assert.Equal(t, "Office", got.Name)
}

func TestTagService_ListAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range []string{"Work", "Family", "VIP"} {
		_, err := f.tags.Create(ctx, contacts.TagRequest{Name: n})
		require.NoError(t, err)
	}

	tags, err := f.tags.List(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 3)
	assert.Equal(t, "Family", tags[0].Name)

	require.NoError(t, f.tags.Delete(ctx, tags[0].ID))
	_, err = f.tags.GetByID(ctx, tags[0].ID)
	assert.ErrorIs(t, err, contacts.ErrNotFound)
	assert.ErrorIs(t, f.tags.Delete(ctx, tags[0].ID), contacts.ErrNotFound)
}
