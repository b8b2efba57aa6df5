package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oy3o/contactd/o11y"
)

// PageRequest selects one page of a listing.
type PageRequest struct {
	Number int `validate:"min=1"`
	Size   int `validate:"min=1,max=100"`
}

// ContactService manages contacts. Every operation runs inside a span of the service
// scope; creations, deletions and searches are also counted.
type ContactService struct {
	store Store
	scope *o11y.Scope
	now   func() time.Time
}

// NewContactService creates the service and the metric instruments of scope.
// The scope is expected to be named ContactServiceScope.
func NewContactService(store Store, scope *o11y.Scope) *ContactService {
	m := scope.Metrics
	err := errors.Join(
		m.RegisterInt64Counter(MetricContactsCreated, "Number of contacts created", "{contact}"),
		m.RegisterInt64Counter(MetricContactsDeleted, "Number of contacts deleted", "{contact}"),
		m.RegisterInt64Counter(MetricContactSearches, "Number of contact searches performed", "{search}"),
		m.RegisterFloat64Histogram(MetricSearchDuration, "Duration of contact searches", "ms"),
	)
	if err != nil {
		scope.Logger.Error().Err(err).Msg("Failed to register contact metrics")
	}

	return &ContactService{store: store, scope: scope, now: time.Now}
}

func (s *ContactService) GetByID(ctx context.Context, id uuid.UUID) (Contact, error) {
	var out Contact
	err := s.scope.Run(ctx, "ContactService.GetByID", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrContactID, id.String()))
		st.Log.Info().Str(AttrContactID, id.String()).Msg("Getting contact by ID: {contact.id}")

		c, err := s.store.Contacts().Get(ctx, id)
		if err != nil {
			logNotFound(st, err, "Contact not found: {contact.id}")
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// GetWithDetails returns the contact with its groups and tags resolved.
func (s *ContactService) GetWithDetails(ctx context.Context, id uuid.UUID) (ContactDetails, error) {
	var out ContactDetails
	err := s.scope.Run(ctx, "ContactService.GetWithDetails", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrContactID, id.String()))
		st.Log.Info().Str(AttrContactID, id.String()).Msg("Getting contact with details: {contact.id}")

		c, err := s.store.Contacts().Get(ctx, id)
		if err != nil {
			logNotFound(st, err, "Contact not found: {contact.id}")
			return err
		}
		st.SetAttributes(
			attribute.Int(AttrEmailCount, len(c.Emails)),
			attribute.Int(AttrPhoneCount, len(c.Phones)),
			attribute.Int(AttrAddressCount, len(c.Addresses)),
		)

		out = ContactDetails{Contact: c, Groups: []Group{}, Tags: []Tag{}}
		for _, gid := range c.GroupIDs {
			g, err := s.store.Groups().Get(ctx, gid)
			if errors.Is(err, ErrNotFound) {
				continue
			} else if err != nil {
				return err
			}
			out.Groups = append(out.Groups, g)
		}
		for _, tid := range c.TagIDs {
			t, err := s.store.Tags().Get(ctx, tid)
			if errors.Is(err, ErrNotFound) {
				continue
			} else if err != nil {
				return err
			}
			out.Tags = append(out.Tags, t)
		}
		return nil
	})
	return out, err
}

// List returns one page of contact summaries.
func (s *ContactService) List(ctx context.Context, page PageRequest) (Page[ContactSummary], error) {
	var out Page[ContactSummary]
	err := s.scope.Run(ctx, "ContactService.List", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.Int(AttrPageNumber, page.Number), attribute.Int(AttrPageSize, page.Size))
		if err := validateRequest(page); err != nil {
			return err
		}
		st.Log.Info().Int(AttrPageNumber, page.Number).Int(AttrPageSize, page.Size).
			Msg("Getting paginated contacts: Page {page.number}, Size {page.size}")

		items, total, err := s.store.Contacts().List(ctx, (page.Number-1)*page.Size, page.Size)
		if err != nil {
			return err
		}
		st.SetAttributes(attribute.Int(AttrTotalCount, total))

		out = Page[ContactSummary]{
			Items:      summarize(items),
			TotalCount: total,
			PageNumber: page.Number,
			PageSize:   page.Size,
		}
		return nil
	})
	return out, err
}

// Search returns the contacts matching term. Each search is counted with its result
// count and its duration is recorded in milliseconds.
func (s *ContactService) Search(ctx context.Context, term string) ([]ContactSummary, error) {
	var out []ContactSummary
	err := s.scope.Run(ctx, "ContactService.Search", func(ctx context.Context, st o11y.State) error {
		term = strings.TrimSpace(term)
		st.SetAttributes(attribute.String(AttrSearchTerm, term))
		if term == "" {
			return fmt.Errorf("%w: search term is required", ErrValidation)
		}

		start := s.now()
		st.Log.Info().Str(AttrSearchTerm, term).Msg("Searching contacts with term: {search.term}")

		found, err := s.store.Contacts().Search(ctx, term)
		if err != nil {
			return err
		}
		out = summarize(found)
		elapsed := float64(s.now().Sub(start).Microseconds()) / 1000

		st.SetAttributes(attribute.Int(AttrResultCount, len(out)))
		st.IncCounter(MetricContactSearches, attribute.Int(AttrResultCount, len(out)))
		st.RecordHistogram(MetricSearchDuration, elapsed)
		st.Log.Info().Int("count", len(out)).Float64("duration", elapsed).
			Msg("Search completed: Found {count} contacts in {duration}ms")
		return nil
	})
	return out, err
}

// Create validates req and stores a new contact. Referenced groups and tags must exist.
func (s *ContactService) Create(ctx context.Context, req CreateContactRequest) (Contact, error) {
	var out Contact
	err := s.scope.Run(ctx, "ContactService.Create", func(ctx context.Context, st o11y.State) error {
		st.Log.Info().Str("first_name", req.FirstName).Str("last_name", req.LastName).
			Msg("Creating new contact: {first_name} {last_name}")

		c, err := s.newContact(ctx, req)
		if err != nil {
			st.Log.Error().Err(err).Msg("Error creating contact")
			return err
		}
		st.SetAttributes(
			attribute.String(AttrContactID, c.ID.String()),
			attribute.String(AttrContactCompany, c.Company),
		)

		if err := s.store.Contacts().Create(ctx, c); err != nil {
			st.Log.Error().Err(err).Msg("Error creating contact")
			return err
		}

		st.IncCounter(MetricContactsCreated, attribute.Bool(AttrHasCompany, c.Company != ""))
		st.Log.Info().Str(AttrContactID, c.ID.String()).Msg("Contact created successfully: {contact.id}")
		out = c
		return nil
	})
	return out, err
}

func (s *ContactService) newContact(ctx context.Context, req CreateContactRequest) (Contact, error) {
	if err := validateRequest(req); err != nil {
		return Contact{}, err
	}

	now := s.now().UTC()
	c := Contact{
		ID:          uuid.New(),
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		MiddleName:  req.MiddleName,
		Nickname:    req.Nickname,
		Company:     req.Company,
		JobTitle:    req.JobTitle,
		DateOfBirth: req.DateOfBirth,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
		Emails:      make([]EmailAddress, 0, len(req.Emails)),
		Phones:      make([]PhoneNumber, 0, len(req.Phones)),
		Addresses:   make([]Address, 0, len(req.Addresses)),
		GroupIDs:    uniqueIDs(req.GroupIDs),
		TagIDs:      uniqueIDs(req.TagIDs),
	}
	for _, e := range req.Emails {
		c.Emails = append(c.Emails, EmailAddress{ID: uuid.New(), Email: e.Email, Type: e.Type, IsPrimary: e.IsPrimary})
	}
	for _, p := range req.Phones {
		c.Phones = append(c.Phones, PhoneNumber{ID: uuid.New(), Number: p.Number, Type: p.Type, IsPrimary: p.IsPrimary})
	}
	for _, a := range req.Addresses {
		c.Addresses = append(c.Addresses, Address{
			ID:            uuid.New(),
			StreetLine1:   a.StreetLine1,
			StreetLine2:   a.StreetLine2,
			City:          a.City,
			StateProvince: a.StateProvince,
			PostalCode:    a.PostalCode,
			Country:       a.Country,
			Type:          a.Type,
			IsPrimary:     a.IsPrimary,
		})
	}

	for _, gid := range c.GroupIDs {
		if _, err := s.store.Groups().Get(ctx, gid); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Contact{}, fmt.Errorf("%w: group %s does not exist", ErrValidation, gid)
			}
			return Contact{}, err
		}
	}
	for _, tid := range c.TagIDs {
		if _, err := s.store.Tags().Get(ctx, tid); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Contact{}, fmt.Errorf("%w: tag %s does not exist", ErrValidation, tid)
			}
			return Contact{}, err
		}
	}
	return c, nil
}

// Update replaces the scalar fields of the contact id.
func (s *ContactService) Update(ctx context.Context, id uuid.UUID, req UpdateContactRequest) (Contact, error) {
	var out Contact
	err := s.scope.Run(ctx, "ContactService.Update", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrContactID, id.String()))
		st.Log.Info().Str(AttrContactID, id.String()).Msg("Updating contact: {contact.id}")
		if err := validateRequest(req); err != nil {
			return err
		}

		c, err := s.store.Contacts().Get(ctx, id)
		if err != nil {
			logNotFound(st, err, "Contact not found for update: {contact.id}")
			return err
		}
		c.FirstName = req.FirstName
		c.LastName = req.LastName
		c.MiddleName = req.MiddleName
		c.Nickname = req.Nickname
		c.Company = req.Company
		c.JobTitle = req.JobTitle
		c.DateOfBirth = req.DateOfBirth
		c.Notes = req.Notes
		c.UpdatedAt = s.now().UTC()

		if err := s.store.Contacts().Update(ctx, c); err != nil {
			return err
		}
		st.Log.Info().Str(AttrContactID, id.String()).Msg("Contact updated successfully: {contact.id}")
		out = c
		return nil
	})
	return out, err
}

// Delete removes the contact id.
func (s *ContactService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.scope.Run(ctx, "ContactService.Delete", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrContactID, id.String()))
		st.Log.Info().Str(AttrContactID, id.String()).Msg("Deleting contact: {contact.id}")

		if err := s.store.Contacts().Delete(ctx, id); err != nil {
			logNotFound(st, err, "Contact not found for deletion: {contact.id}")
			return err
		}
		st.IncCounter(MetricContactsDeleted)
		st.Log.Info().Str(AttrContactID, id.String()).Msg("Contact deleted successfully: {contact.id}")
		return nil
	})
}

// ListByGroup returns the members of group groupID.
func (s *ContactService) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]ContactSummary, error) {
	var out []ContactSummary
	err := s.scope.Run(ctx, "ContactService.ListByGroup", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrGroupID, groupID.String()))
		st.Log.Info().Str(AttrGroupID, groupID.String()).Msg("Getting contacts by group: {group.id}")

		found, err := s.store.Contacts().ListByGroup(ctx, groupID)
		if err != nil {
			return err
		}
		out = summarize(found)
		st.SetAttributes(attribute.Int(AttrResultCount, len(out)))
		st.Log.Info().Int("count", len(out)).Str(AttrGroupID, groupID.String()).
			Msg("Found {count} contacts in group {group.id}")
		return nil
	})
	return out, err
}

// ListByTag returns the contacts carrying tag tagID.
func (s *ContactService) ListByTag(ctx context.Context, tagID uuid.UUID) ([]ContactSummary, error) {
	var out []ContactSummary
	err := s.scope.Run(ctx, "ContactService.ListByTag", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrTagID, tagID.String()))
		st.Log.Info().Str(AttrTagID, tagID.String()).Msg("Getting contacts by tag: {tag.id}")

		found, err := s.store.Contacts().ListByTag(ctx, tagID)
		if err != nil {
			return err
		}
		out = summarize(found)
		st.SetAttributes(attribute.Int(AttrResultCount, len(out)))
		st.Log.Info().Int("count", len(out)).Str(AttrTagID, tagID.String()).
			Msg("Found {count} contacts with tag {tag.id}")
		return nil
	})
	return out, err
}

func logNotFound(st o11y.State, err error, msg string) {
	if errors.Is(err, ErrNotFound) {
		st.Log.Warn().Msg(msg)
	}
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
