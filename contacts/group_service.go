package contacts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oy3o/contactd/o11y"
)

type GroupService struct {
	store Store
	scope *o11y.Scope
	now   func() time.Time
}

// NewGroupService creates the service. The scope is expected to be named GroupServiceScope.
func NewGroupService(store Store, scope *o11y.Scope) *GroupService {
	return &GroupService{store: store, scope: scope, now: time.Now}
}

// GetByID returns the group id with its member count.
func (s *GroupService) GetByID(ctx context.Context, id uuid.UUID) (GroupView, error) {
	var out GroupView
	err := s.scope.Run(ctx, "GroupService.GetByID", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrGroupID, id.String()))
		st.Log.Info().Str(AttrGroupID, id.String()).Msg("Getting group by ID: {group.id}")

		g, err := s.store.Groups().Get(ctx, id)
		if err != nil {
			logNotFound(st, err, "Group not found: {group.id}")
			return err
		}
		n, err := s.store.Groups().CountContacts(ctx, id)
		if err != nil {
			return err
		}
		st.SetAttributes(attribute.Int(AttrContactCount, n))
		out = GroupView{Group: g, ContactCount: n}
		return nil
	})
	return out, err
}

func (s *GroupService) List(ctx context.Context) ([]GroupView, error) {
	var out []GroupView
	err := s.scope.Run(ctx, "GroupService.List", func(ctx context.Context, st o11y.State) error {
		st.Log.Info().Msg("Getting all groups")

		groups, err := s.store.Groups().List(ctx)
		if err != nil {
			return err
		}
		out = make([]GroupView, 0, len(groups))
		for _, g := range groups {
			n, err := s.store.Groups().CountContacts(ctx, g.ID)
			if err != nil {
				return err
			}
			out = append(out, GroupView{Group: g, ContactCount: n})
		}
		st.SetAttributes(attribute.Int(AttrResultCount, len(out)))
		return nil
	})
	return out, err
}

func (s *GroupService) Create(ctx context.Context, req GroupRequest) (GroupView, error) {
	var out GroupView
	err := s.scope.Run(ctx, "GroupService.Create", func(ctx context.Context, st o11y.State) error {
		st.Log.Info().Str("name", req.Name).Msg("Creating new group: {name}")
		if err := validateRequest(req); err != nil {
			return err
		}

		g := Group{
			ID:          uuid.New(),
			Name:        req.Name,
			Description: req.Description,
			CreatedAt:   s.now().UTC(),
		}
		st.SetAttributes(attribute.String(AttrGroupID, g.ID.String()))
		if err := s.store.Groups().Create(ctx, g); err != nil {
			st.Log.Error().Err(err).Msg("Error creating group")
			return err
		}

		st.Log.Info().Str(AttrGroupID, g.ID.String()).Msg("Group created successfully: {group.id}")
		out = GroupView{Group: g}
		return nil
	})
	return out, err
}

func (s *GroupService) Update(ctx context.Context, id uuid.UUID, req GroupRequest) (GroupView, error) {
	var out GroupView
	err := s.scope.Run(ctx, "GroupService.Update", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrGroupID, id.String()))
		st.Log.Info().Str(AttrGroupID, id.String()).Msg("Updating group: {group.id}")
		if err := validateRequest(req); err != nil {
			return err
		}

		g, err := s.store.Groups().Get(ctx, id)
		if err != nil {
			logNotFound(st, err, "Group not found for update: {group.id}")
			return err
		}
		g.Name = req.Name
		g.Description = req.Description
		if err := s.store.Groups().Update(ctx, g); err != nil {
			return err
		}

		n, err := s.store.Groups().CountContacts(ctx, id)
		if err != nil {
			return err
		}
		out = GroupView{Group: g, ContactCount: n}
		return nil
	})
	return out, err
}

// Delete removes the group id and its memberships. Member contacts are kept.
func (s *GroupService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.scope.Run(ctx, "GroupService.Delete", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrGroupID, id.String()))
		st.Log.Info().Str(AttrGroupID, id.String()).Msg("Deleting group: {group.id}")

		if err := s.store.Groups().Delete(ctx, id); err != nil {
			logNotFound(st, err, "Group not found for deletion: {group.id}")
			return err
		}
		return nil
	})
}
