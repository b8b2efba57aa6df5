package contacts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would break a uniqueness rule.
	ErrConflict = errors.New("conflict")
	// ErrValidation is returned when a request is malformed.
	ErrValidation = errors.New("validation failed")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateRequest checks the struct tags of req and wraps any failure in ErrValidation.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
}

// NotFoundError reports that the kind entity with id does not exist.
func NotFoundError(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
}

// ConflictError reports that a kind entity already uses name.
func ConflictError(kind, name string) error {
	return fmt.Errorf("%s with name '%s' already exists: %w", kind, name, ErrConflict)
}
