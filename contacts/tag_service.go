package contacts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oy3o/contactd/o11y"
)

type TagService struct {
	store Store
	scope *o11y.Scope
}

// NewTagService creates the service. The scope is expected to be named TagServiceScope.
func NewTagService(store Store, scope *o11y.Scope) *TagService {
	return &TagService{store: store, scope: scope}
}

func (s *TagService) GetByID(ctx context.Context, id uuid.UUID) (Tag, error) {
	var out Tag
	err := s.scope.Run(ctx, "TagService.GetByID", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrTagID, id.String()))
		st.Log.Info().Str(AttrTagID, id.String()).Msg("Getting tag by ID: {tag.id}")

		t, err := s.store.Tags().Get(ctx, id)
		if err != nil {
			logNotFound(st, err, "Tag not found: {tag.id}")
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (s *TagService) List(ctx context.Context) ([]Tag, error) {
	var out []Tag
	err := s.scope.Run(ctx, "TagService.List", func(ctx context.Context, st o11y.State) error {
		st.Log.Info().Msg("Getting all tags")

		tags, err := s.store.Tags().List(ctx)
		if err != nil {
			return err
		}
		st.SetAttributes(attribute.Int(AttrResultCount, len(tags)))
		out = tags
		return nil
	})
	return out, err
}

// Create stores a new tag. A tag whose name is already taken, ignoring case, is
// rejected with ErrConflict.
func (s *TagService) Create(ctx context.Context, req TagRequest) (Tag, error) {
	var out Tag
	err := s.scope.Run(ctx, "TagService.Create", func(ctx context.Context, st o11y.State) error {
		st.Log.Info().Str("name", req.Name).Msg("Creating new tag: {name}")
		if err := validateRequest(req); err != nil {
			return err
		}

		if _, err := s.store.Tags().GetByName(ctx, req.Name); err == nil {
			st.Log.Warn().Str("name", req.Name).Msg("Tag name already exists: {name}")
			return ConflictError("tag", req.Name)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		t := Tag{ID: uuid.New(), Name: req.Name, ColorHex: req.ColorHex}
		st.SetAttributes(attribute.String(AttrTagID, t.ID.String()))
		if err := s.store.Tags().Create(ctx, t); err != nil {
			st.Log.Error().Err(err).Msg("Error creating tag")
			return err
		}

		st.Log.Info().Str(AttrTagID, t.ID.String()).Msg("Tag created successfully: {tag.id}")
		out = t
		return nil
	})
	return out, err
}

// Update renames or recolors the tag id. Taking the name of another tag is rejected
// with ErrConflict.
func (s *TagService) Update(ctx context.Context, id uuid.UUID, req TagRequest) (Tag, error) {
	var out Tag
	err := s.scope.Run(ctx, "TagService.Update", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrTagID, id.String()))
		st.Log.Info().Str(AttrTagID, id.String()).Msg("Updating tag: {tag.id}")
		if err := validateRequest(req); err != nil {
			return err
		}

		t, err := s.store.Tags().Get(ctx, id)
		if err != nil {
			logNotFound(st, err, "Tag not found for update: {tag.id}")
			return err
		}

		if other, err := s.store.Tags().GetByName(ctx, req.Name); err == nil && other.ID != id {
			st.Log.Warn().Str("name", req.Name).Msg("Tag name already exists: {name}")
			return ConflictError("tag", req.Name)
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		t.Name = req.Name
		t.ColorHex = req.ColorHex
		if err := s.store.Tags().Update(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (s *TagService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.scope.Run(ctx, "TagService.Delete", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String(AttrTagID, id.String()))
		st.Log.Info().Str(AttrTagID, id.String()).Msg("Deleting tag: {tag.id}")

		if err := s.store.Tags().Delete(ctx, id); err != nil {
			logNotFound(st, err, "Tag not found for deletion: {tag.id}")
			return err
		}
		return nil
	})
}
