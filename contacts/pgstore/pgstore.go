// Package pgstore stores the contact book in PostgreSQL through a traced pgx pool.
package pgstore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oy3o/contactd/contacts"
	"github.com/oy3o/contactd/o11y"
)

const uniqueViolation = "23505"

// Store is a contacts.Store on a PostgreSQL database created by Migrate.
type Store struct {
	pool *pgxpool.Pool
}

var _ contacts.Store = (*Store)(nil)

// Open connects to the database at dsn. Queries are traced with the providers of s.
func Open(ctx context.Context, s *o11y.Scope, dsn string) (*Store, error) {
	pool, err := o11y.NewPgxPool(ctx, s, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Contacts() contacts.ContactRepository { return contactRepo{s.pool} }
func (s *Store) Groups() contacts.GroupRepository     { return groupRepo{s.pool} }
func (s *Store) Tags() contacts.TagRepository         { return tagRepo{s.pool} }

const contactColumns = `c.id, c.first_name, c.last_name, c.middle_name, c.nickname, c.company,
	c.job_title, c.date_of_birth, c.notes, c.created_at, c.updated_at,
	c.emails, c.phones, c.addresses,
	ARRAY(SELECT group_id FROM contact_groups WHERE contact_id = c.id ORDER BY group_id),
	ARRAY(SELECT tag_id FROM contact_tags WHERE contact_id = c.id ORDER BY tag_id)`

const contactOrder = ` ORDER BY c.last_name, c.first_name, c.id`

func scanContact(row pgx.CollectableRow) (contacts.Contact, error) {
	var c contacts.Contact
	err := row.Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.MiddleName, &c.Nickname, &c.Company,
		&c.JobTitle, &c.DateOfBirth, &c.Notes, &c.CreatedAt, &c.UpdatedAt,
		&c.Emails, &c.Phones, &c.Addresses,
		&c.GroupIDs, &c.TagIDs,
	)
	return c, err
}

type contactRepo struct{ pool *pgxpool.Pool }

func (r contactRepo) Get(ctx context.Context, id uuid.UUID) (contacts.Contact, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+contactColumns+` FROM contacts c WHERE c.id = $1`, id)
	c, err := pgx.CollectOneRow(rows, scanContact)
	if errors.Is(err, pgx.ErrNoRows) {
		return contacts.Contact{}, contacts.NotFoundError("contact", id)
	}
	return c, err
}

func (r contactRepo) List(ctx context.Context, offset, limit int) ([]contacts.Contact, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM contacts`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, _ := r.pool.Query(ctx,
		`SELECT `+contactColumns+` FROM contacts c`+contactOrder+` OFFSET $1 LIMIT $2`, offset, limit)
	out, err := pgx.CollectRows(rows, scanContact)
	return out, total, err
}

func (r contactRepo) Search(ctx context.Context, term string) ([]contacts.Contact, error) {
	pattern := "%" + escapeLike(term) + "%"
	rows, _ := r.pool.Query(ctx, `SELECT `+contactColumns+` FROM contacts c
		WHERE c.first_name ILIKE $1 OR c.last_name ILIKE $1 OR c.nickname ILIKE $1 OR c.company ILIKE $1
		   OR EXISTS (SELECT 1 FROM jsonb_array_elements(c.emails) e WHERE e->>'email' ILIKE $1)
		   OR EXISTS (SELECT 1 FROM jsonb_array_elements(c.phones) p WHERE p->>'number' LIKE $1)`+contactOrder,
		pattern)
	return pgx.CollectRows(rows, scanContact)
}

func (r contactRepo) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]contacts.Contact, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+contactColumns+` FROM contacts c
		JOIN contact_groups cg ON cg.contact_id = c.id WHERE cg.group_id = $1`+contactOrder, groupID)
	return pgx.CollectRows(rows, scanContact)
}

func (r contactRepo) ListByTag(ctx context.Context, tagID uuid.UUID) ([]contacts.Contact, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+contactColumns+` FROM contacts c
		JOIN contact_tags ct ON ct.contact_id = c.id WHERE ct.tag_id = $1`+contactOrder, tagID)
	return pgx.CollectRows(rows, scanContact)
}

func (r contactRepo) Create(ctx context.Context, c contacts.Contact) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO contacts (id, first_name, last_name, middle_name, nickname,
			company, job_title, date_of_birth, notes, created_at, updated_at, emails, phones, addresses)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			c.ID, c.FirstName, c.LastName, c.MiddleName, c.Nickname, c.Company, c.JobTitle,
			c.DateOfBirth, c.Notes, c.CreatedAt, c.UpdatedAt,
			nonNil(c.Emails), nonNil(c.Phones), nonNil(c.Addresses))
		if err != nil {
			return err
		}
		if len(c.GroupIDs) > 0 {
			if _, err := tx.Exec(ctx, `INSERT INTO contact_groups (contact_id, group_id)
				SELECT $1, unnest($2::uuid[])`, c.ID, c.GroupIDs); err != nil {
				return err
			}
		}
		if len(c.TagIDs) > 0 {
			if _, err := tx.Exec(ctx, `INSERT INTO contact_tags (contact_id, tag_id)
				SELECT $1, unnest($2::uuid[])`, c.ID, c.TagIDs); err != nil {
				return err
			}
		}
		return nil
	})
	return mapWriteError(err, "contact", c.ID.String())
}

// Update replaces the scalar fields and owned details of c. Memberships are left as they are.
func (r contactRepo) Update(ctx context.Context, c contacts.Contact) error {
	tag, err := r.pool.Exec(ctx, `UPDATE contacts SET first_name = $2, last_name = $3, middle_name = $4,
		nickname = $5, company = $6, job_title = $7, date_of_birth = $8, notes = $9, updated_at = $10,
		emails = $11, phones = $12, addresses = $13 WHERE id = $1`,
		c.ID, c.FirstName, c.LastName, c.MiddleName, c.Nickname, c.Company, c.JobTitle,
		c.DateOfBirth, c.Notes, c.UpdatedAt, nonNil(c.Emails), nonNil(c.Phones), nonNil(c.Addresses))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return contacts.NotFoundError("contact", c.ID)
	}
	return nil
}

func (r contactRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return execOne(ctx, r.pool, "contact", id, `DELETE FROM contacts WHERE id = $1`)
}

type groupRepo struct{ pool *pgxpool.Pool }

func (r groupRepo) Get(ctx context.Context, id uuid.UUID) (contacts.Group, error) {
	var g contacts.Group
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, created_at FROM groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return contacts.Group{}, contacts.NotFoundError("group", id)
	}
	return g, err
}

func (r groupRepo) List(ctx context.Context) ([]contacts.Group, error) {
	rows, _ := r.pool.Query(ctx, `SELECT id, name, description, created_at FROM groups ORDER BY name, id`)
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (contacts.Group, error) {
		var g contacts.Group
		err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
		return g, err
	})
}

func (r groupRepo) CountContacts(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM contact_groups WHERE group_id = $1`, id).Scan(&n)
	return n, err
}

func (r groupRepo) Create(ctx context.Context, g contacts.Group) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO groups (id, name, description, created_at) VALUES ($1, $2, $3, $4)`,
		g.ID, g.Name, g.Description, g.CreatedAt)
	return mapWriteError(err, "group", g.ID.String())
}

func (r groupRepo) Update(ctx context.Context, g contacts.Group) error {
	return execOne(ctx, r.pool, "group", g.ID,
		`UPDATE groups SET name = $2, description = $3 WHERE id = $1`, g.Name, g.Description)
}

func (r groupRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return execOne(ctx, r.pool, "group", id, `DELETE FROM groups WHERE id = $1`)
}

type tagRepo struct{ pool *pgxpool.Pool }

func scanTag(row pgx.CollectableRow) (contacts.Tag, error) {
	var t contacts.Tag
	err := row.Scan(&t.ID, &t.Name, &t.ColorHex)
	return t, err
}

func (r tagRepo) Get(ctx context.Context, id uuid.UUID) (contacts.Tag, error) {
	rows, _ := r.pool.Query(ctx, `SELECT id, name, color_hex FROM tags WHERE id = $1`, id)
	t, err := pgx.CollectOneRow(rows, scanTag)
	if errors.Is(err, pgx.ErrNoRows) {
		return contacts.Tag{}, contacts.NotFoundError("tag", id)
	}
	return t, err
}

func (r tagRepo) GetByName(ctx context.Context, name string) (contacts.Tag, error) {
	rows, _ := r.pool.Query(ctx, `SELECT id, name, color_hex FROM tags WHERE lower(name) = lower($1)`, name)
	t, err := pgx.CollectOneRow(rows, scanTag)
	if errors.Is(err, pgx.ErrNoRows) {
		return contacts.Tag{}, contacts.NotFoundError("tag", name)
	}
	return t, err
}

func (r tagRepo) List(ctx context.Context) ([]contacts.Tag, error) {
	rows, _ := r.pool.Query(ctx, `SELECT id, name, color_hex FROM tags ORDER BY name, id`)
	return pgx.CollectRows(rows, scanTag)
}

func (r tagRepo) Create(ctx context.Context, t contacts.Tag) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO tags (id, name, color_hex) VALUES ($1, $2, $3)`,
		t.ID, t.Name, t.ColorHex)
	return mapWriteError(err, "tag", t.Name)
}

func (r tagRepo) Update(ctx context.Context, t contacts.Tag) error {
	err := execOne(ctx, r.pool, "tag", t.ID,
		`UPDATE tags SET name = $2, color_hex = $3 WHERE id = $1`, t.Name, t.ColorHex)
	return mapWriteError(err, "tag", t.Name)
}

func (r tagRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return execOne(ctx, r.pool, "tag", id, `DELETE FROM tags WHERE id = $1`)
}

// execOne runs a statement keyed by id as its first argument and reports ErrNotFound
// when it touched no row.
func execOne(ctx context.Context, pool *pgxpool.Pool, kind string, id uuid.UUID, sql string, args ...any) error {
	tag, err := pool.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return contacts.NotFoundError(kind, id)
	}
	return nil
}

// mapWriteError turns unique violations into contacts.ErrConflict.
func mapWriteError(err error, kind, name string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return contacts.ConflictError(kind, name)
	}
	return err
}

// escapeLike quotes the LIKE wildcards of term.
func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

// nonNil keeps empty detail lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
