package contacts

import (
	"context"

	"github.com/google/uuid"
)

// ContactRepository persists contacts. Lookups of a missing id return an error
// wrapping ErrNotFound.
type ContactRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Contact, error)
	// List returns the contacts ordered by last name, first name and id, skipping
	// offset and returning at most limit, along with the total count.
	List(ctx context.Context, offset, limit int) ([]Contact, int, error)
	// Search matches term case-insensitively against names, nickname, company and
	// email addresses, and verbatim against phone numbers.
	Search(ctx context.Context, term string) ([]Contact, error)
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]Contact, error)
	ListByTag(ctx context.Context, tagID uuid.UUID) ([]Contact, error)
	Create(ctx context.Context, c Contact) error
	Update(ctx context.Context, c Contact) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// GroupRepository persists groups. Deleting a group removes its memberships.
type GroupRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Group, error)
	List(ctx context.Context) ([]Group, error)
	CountContacts(ctx context.Context, id uuid.UUID) (int, error)
	Create(ctx context.Context, g Group) error
	Update(ctx context.Context, g Group) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TagRepository persists tags. Tag names are unique, compared case-insensitively;
// writes that would duplicate a name return an error wrapping ErrConflict.
type TagRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Tag, error)
	GetByName(ctx context.Context, name string) (Tag, error)
	List(ctx context.Context) ([]Tag, error)
	Create(ctx context.Context, t Tag) error
	Update(ctx context.Context, t Tag) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Store gathers the repositories of one backend.
type Store interface {
	Contacts() ContactRepository
	Groups() GroupRepository
	Tags() TagRepository
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
