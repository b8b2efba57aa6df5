package memstore

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oy3o/contactd/contacts"
)

func newContact(first, last string) contacts.Contact {
	return contacts.Contact{ID: uuid.New(), FirstName: first, LastName: last}
}

func TestContacts_CRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := newContact("Ada", "Lovelace")
	c.Emails = []contacts.EmailAddress{{ID: uuid.New(), Email: "ada@example.com", IsPrimary: true}}

	require.NoError(t, s.Contacts().Create(ctx, c))
	assert.ErrorIs(t, s.Contacts().Create(ctx, c), contacts.ErrConflict)

	got, err := s.Contacts().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	// 返回值是拷贝，修改不影响存储
	got.Emails[0].Email = "changed@example.com"
	again, _ := s.Contacts().Get(ctx, c.ID)
	assert.Equal(t, "ada@example.com", again.Emails[0].Email)

	c.Company = "Analytical Engines"
	require.NoError(t, s.Contacts().Update(ctx, c))
	again, _ = s.Contacts().Get(ctx, c.ID)
	assert.Equal(t, "Analytical Engines", again.Company)

	require.NoError(t, s.Contacts().Delete(ctx, c.ID))
	_, err = s.Contacts().Get(ctx, c.ID)
	assert.ErrorIs(t, err, contacts.ErrNotFound)
	assert.ErrorIs(t, s.Contacts().Delete(ctx, c.ID), contacts.ErrNotFound)
	assert.ErrorIs(t, s.Contacts().Update(ctx, c), contacts.ErrNotFound)
}

func TestContacts_ListIsOrderedAndPaged(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, n := range [][2]string{{"Grace", "Hopper"}, {"Alan", "Turing"}, {"Ada", "Lovelace"}, {"Edsger", "Dijkstra"}} {
		require.NoError(t, s.Contacts().Create(ctx, newContact(n[0], n[1])))
	}

	page, total, err := s.Contacts().List(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, "Hopper", page[0].LastName)
	assert.Equal(t, "Lovelace", page[1].LastName)

	page, total, err = s.Contacts().List(ctx, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Empty(t, page)
}

func TestContacts_Search(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := newContact("Ada", "Lovelace")
	a.Company = "Analytical Engines"
	b := newContact("Alan", "Turing")
	b.Phones = []contacts.PhoneNumber{{ID: uuid.New(), Number: "+44 20 7946 0000"}}
	c := newContact("Grace", "Hopper")
	c.Emails = []contacts.EmailAddress{{ID: uuid.New(), Email: "grace@NAVY.mil"}}
	for _, x := range []contacts.Contact{a, b, c} {
		require.NoError(t, s.Contacts().Create(ctx, x))
	}

	tests := []struct {
		term string
		want []string
	}{
		{"engines", []string{"Lovelace"}},
		{"7946", []string{"Turing"}},
		{"navy", []string{"Hopper"}},
		{"a", []string{"Hopper", "Lovelace", "Turing"}},
		{"nobody", nil},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			found, err := s.Contacts().Search(ctx, tt.term)
			require.NoError(t, err)
			var names []string
			for _, f := range found {
				names = append(names, f.LastName)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestGroups_DeleteRemovesMemberships(t *testing.T) {
	ctx := context.Background()
	s := New()
	g := contacts.Group{ID: uuid.New(), Name: "Friends"}
	require.NoError(t, s.Groups().Create(ctx, g))

	c := newContact("Ada", "Lovelace")
	c.GroupIDs = []uuid.UUID{g.ID}
	require.NoError(t, s.Contacts().Create(ctx, c))

	n, err := s.Groups().CountContacts(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Groups().Delete(ctx, g.ID))

	got, err := s.Contacts().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.GroupIDs)
	members, _ := s.Contacts().ListByGroup(ctx, g.ID)
	assert.Empty(t, members)
	assert.ErrorIs(t, s.Groups().Delete(ctx, g.ID), contacts.ErrNotFound)
}

func TestTags_NamesAreUniqueIgnoringCase(t *testing.T) {
	ctx := context.Background()
	s := New()
	vip := contacts.Tag{ID: uuid.New(), Name: "VIP"}
	require.NoError(t, s.Tags().Create(ctx, vip))

	err := s.Tags().Create(ctx, contacts.Tag{ID: uuid.New(), Name: "vip"})
	assert.ErrorIs(t, err, contacts.ErrConflict)

	got, err := s.Tags().GetByName(ctx, "Vip")
	require.NoError(t, err)
	assert.Equal(t, vip.ID, got.ID)

	other := contacts.Tag{ID: uuid.New(), Name: "Work"}
	require.NoError(t, s.Tags().Create(ctx, other))
	other.Name = "VIP"
	assert.ErrorIs(t, s.Tags().Update(ctx, other), contacts.ErrConflict)

	// 改名后旧名字可以被重新使用
	vip.Name = "Important"
	require.NoError(t, s.Tags().Update(ctx, vip))
	require.NoError(t, s.Tags().Create(ctx, contacts.Tag{ID: uuid.New(), Name: "vip"}))
}

func TestTags_DeleteRemovesFromContacts(t *testing.T) {
	ctx := context.Background()
	s := New()
	tag := contacts.Tag{ID: uuid.New(), Name: "VIP"}
	require.NoError(t, s.Tags().Create(ctx, tag))
	c := newContact("Ada", "Lovelace")
	c.TagIDs = []uuid.UUID{tag.ID}
	require.NoError(t, s.Contacts().Create(ctx, c))

	require.NoError(t, s.Tags().Delete(ctx, tag.ID))

	got, _ := s.Contacts().Get(ctx, c.ID)
	assert.Empty(t, got.TagIDs)
	_, err := s.Tags().GetByName(ctx, "VIP")
	assert.ErrorIs(t, err, contacts.ErrNotFound)
}

func TestTags_ConcurrentCreateSameName(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Tags().Create(ctx, contacts.Tag{ID: uuid.New(), Name: "Shared"})
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, contacts.ErrConflict)
		}
	}
	assert.Equal(t, 1, ok)
	tags, _ := s.Tags().List(ctx)
	assert.Len(t, tags, 1)
}
