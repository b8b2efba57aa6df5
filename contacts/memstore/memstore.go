// Package memstore keeps the contact book in process memory. It is the default backend
// of contactd when no database is configured, and the store used by tests.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/oy3o/contactd/contacts"
)

// Store is a contacts.Store backed by lock-free maps. Values are copied on the way
// in and out, so callers never share slices with the store.
type Store struct {
	contacts *xsync.Map[uuid.UUID, contacts.Contact]
	groups   *xsync.Map[uuid.UUID, contacts.Group]
	tags     *xsync.Map[uuid.UUID, contacts.Tag]
	// tagNames indexes tag ids by lower-cased name.
	tagNames *xsync.Map[string, uuid.UUID]
}

var _ contacts.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		contacts: xsync.NewMap[uuid.UUID, contacts.Contact](),
		groups:   xsync.NewMap[uuid.UUID, contacts.Group](),
		tags:     xsync.NewMap[uuid.UUID, contacts.Tag](),
		tagNames: xsync.NewMap[string, uuid.UUID](),
	}
}

func (s *Store) Contacts() contacts.ContactRepository { return contactRepo{s} }
func (s *Store) Groups() contacts.GroupRepository     { return groupRepo{s} }
func (s *Store) Tags() contacts.TagRepository         { return tagRepo{s} }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// removeMembership drops id from the slice selected by field in every contact.
func (s *Store) removeMembership(id uuid.UUID, field func(*contacts.Contact) *[]uuid.UUID) {
	var affected []uuid.UUID
	s.contacts.Range(func(cid uuid.UUID, c contacts.Contact) bool {
		if slices.Contains(*field(&c), id) {
			affected = append(affected, cid)
		}
		return true
	})
	for _, cid := range affected {
		s.contacts.Compute(cid, func(c contacts.Contact, loaded bool) (contacts.Contact, xsync.ComputeOp) {
			if !loaded {
				return c, xsync.CancelOp
			}
			c = c.Clone()
			ids := field(&c)
			*ids = slices.DeleteFunc(*ids, func(v uuid.UUID) bool { return v == id })
			return c, xsync.UpdateOp
		})
	}
}

type contactRepo struct{ s *Store }

func (r contactRepo) Get(ctx context.Context, id uuid.UUID) (contacts.Contact, error) {
	c, ok := r.s.contacts.Load(id)
	if !ok {
		return contacts.Contact{}, contacts.NotFoundError("contact", id)
	}
	return c.Clone(), nil
}

func (r contactRepo) List(ctx context.Context, offset, limit int) ([]contacts.Contact, int, error) {
	all := r.filter(func(contacts.Contact) bool { return true })
	total := len(all)
	if offset >= total {
		return []contacts.Contact{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (r contactRepo) Search(ctx context.Context, term string) ([]contacts.Contact, error) {
	lower := strings.ToLower(term)
	return r.filter(func(c contacts.Contact) bool {
		for _, f := range []string{c.FirstName, c.LastName, c.Nickname, c.Company} {
			if strings.Contains(strings.ToLower(f), lower) {
				return true
			}
		}
		for _, e := range c.Emails {
			if strings.Contains(strings.ToLower(e.Email), lower) {
				return true
			}
		}
		for _, p := range c.Phones {
			if strings.Contains(p.Number, term) {
				return true
			}
		}
		return false
	}), nil
}

func (r contactRepo) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]contacts.Contact, error) {
	return r.filter(func(c contacts.Contact) bool { return slices.Contains(c.GroupIDs, groupID) }), nil
}

func (r contactRepo) ListByTag(ctx context.Context, tagID uuid.UUID) ([]contacts.Contact, error) {
	return r.filter(func(c contacts.Contact) bool { return slices.Contains(c.TagIDs, tagID) }), nil
}

func (r contactRepo) Create(ctx context.Context, c contacts.Contact) error {
	if _, loaded := r.s.contacts.LoadOrStore(c.ID, c.Clone()); loaded {
		return contacts.ConflictError("contact", c.ID.String())
	}
	return nil
}

func (r contactRepo) Update(ctx context.Context, c contacts.Contact) error {
	c = c.Clone()
	if _, ok := r.s.contacts.Compute(c.ID, func(old contacts.Contact, loaded bool) (contacts.Contact, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		return c, xsync.UpdateOp
	}); !ok {
		return contacts.NotFoundError("contact", c.ID)
	}
	return nil
}

func (r contactRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, loaded := r.s.contacts.LoadAndDelete(id); !loaded {
		return contacts.NotFoundError("contact", id)
	}
	return nil
}

// filter returns clones of the matching contacts ordered by last name, first name and id.
func (r contactRepo) filter(keep func(contacts.Contact) bool) []contacts.Contact {
	out := []contacts.Contact{}
	r.s.contacts.Range(func(_ uuid.UUID, c contacts.Contact) bool {
		if keep(c) {
			out = append(out, c.Clone())
		}
		return true
	})
	slices.SortFunc(out, func(a, b contacts.Contact) int {
		return cmp.Or(
			cmp.Compare(a.LastName, b.LastName),
			cmp.Compare(a.FirstName, b.FirstName),
			cmp.Compare(a.ID.String(), b.ID.String()),
		)
	})
	return out
}

type groupRepo struct{ s *Store }

func (r groupRepo) Get(ctx context.Context, id uuid.UUID) (contacts.Group, error) {
	g, ok := r.s.groups.Load(id)
	if !ok {
		return contacts.Group{}, contacts.NotFoundError("group", id)
	}
	return g, nil
}

func (r groupRepo) List(ctx context.Context) ([]contacts.Group, error) {
	out := []contacts.Group{}
	r.s.groups.Range(func(_ uuid.UUID, g contacts.Group) bool {
		out = append(out, g)
		return true
	})
	slices.SortFunc(out, func(a, b contacts.Group) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, nil
}

func (r groupRepo) CountContacts(ctx context.Context, id uuid.UUID) (int, error) {
	n := 0
	r.s.contacts.Range(func(_ uuid.UUID, c contacts.Contact) bool {
		if slices.Contains(c.GroupIDs, id) {
			n++
		}
		return true
	})
	return n, nil
}

func (r groupRepo) Create(ctx context.Context, g contacts.Group) error {
	if _, loaded := r.s.groups.LoadOrStore(g.ID, g); loaded {
		return contacts.ConflictError("group", g.ID.String())
	}
	return nil
}

func (r groupRepo) Update(ctx context.Context, g contacts.Group) error {
	if _, ok := r.s.groups.Compute(g.ID, func(old contacts.Group, loaded bool) (contacts.Group, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		return g, xsync.UpdateOp
	}); !ok {
		return contacts.NotFoundError("group", g.ID)
	}
	return nil
}

func (r groupRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, loaded := r.s.groups.LoadAndDelete(id); !loaded {
		return contacts.NotFoundError("group", id)
	}
	r.s.removeMembership(id, func(c *contacts.Contact) *[]uuid.UUID { return &c.GroupIDs })
	return nil
}

type tagRepo struct{ s *Store }

func (r tagRepo) Get(ctx context.Context, id uuid.UUID) (contacts.Tag, error) {
	t, ok := r.s.tags.Load(id)
	if !ok {
		return contacts.Tag{}, contacts.NotFoundError("tag", id)
	}
	return t, nil
}

func (r tagRepo) GetByName(ctx context.Context, name string) (contacts.Tag, error) {
	id, ok := r.s.tagNames.Load(strings.ToLower(name))
	if !ok {
		return contacts.Tag{}, contacts.NotFoundError("tag", name)
	}
	return r.Get(ctx, id)
}

func (r tagRepo) List(ctx context.Context) ([]contacts.Tag, error) {
	out := []contacts.Tag{}
	r.s.tags.Range(func(_ uuid.UUID, t contacts.Tag) bool {
		out = append(out, t)
		return true
	})
	slices.SortFunc(out, func(a, b contacts.Tag) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, nil
}

func (r tagRepo) Create(ctx context.Context, t contacts.Tag) error {
	key := strings.ToLower(t.Name)
	if owner, loaded := r.s.tagNames.LoadOrStore(key, t.ID); loaded && owner != t.ID {
		return contacts.ConflictError("tag", t.Name)
	}
	if _, loaded := r.s.tags.LoadOrStore(t.ID, t); loaded {
		return contacts.ConflictError("tag", t.ID.String())
	}
	return nil
}

func (r tagRepo) Update(ctx context.Context, t contacts.Tag) error {
	old, ok := r.s.tags.Load(t.ID)
	if !ok {
		return contacts.NotFoundError("tag", t.ID)
	}

	key := strings.ToLower(t.Name)
	if owner, loaded := r.s.tagNames.LoadOrStore(key, t.ID); loaded && owner != t.ID {
		return contacts.ConflictError("tag", t.Name)
	}
	if oldKey := strings.ToLower(old.Name); oldKey != key {
		r.s.tagNames.Delete(oldKey)
	}
	r.s.tags.Store(t.ID, t)
	return nil
}

func (r tagRepo) Delete(ctx context.Context, id uuid.UUID) error {
	t, loaded := r.s.tags.LoadAndDelete(id)
	if !loaded {
		return contacts.NotFoundError("tag", id)
	}
	r.s.tagNames.Compute(strings.ToLower(t.Name), func(owner uuid.UUID, loaded bool) (uuid.UUID, xsync.ComputeOp) {
		if loaded && owner == id {
			return owner, xsync.DeleteOp
		}
		return owner, xsync.CancelOp
	})
	r.s.removeMembership(id, func(c *contacts.Contact) *[]uuid.UUID { return &c.TagIDs })
	return nil
}
