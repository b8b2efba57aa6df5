package contacts

import (
	"time"

	"github.com/google/uuid"
)

type EmailRequest struct {
	Email     string    `json:"email" validate:"required,email,max=256"`
	Type      EmailType `json:"type" validate:"required,oneof=Personal Work Other"`
	IsPrimary bool      `json:"isPrimary"`
}

type PhoneRequest struct {
	Number    string    `json:"number" validate:"required,max=32"`
	Type      PhoneType `json:"type" validate:"required,oneof=Mobile Home Work Fax Other"`
	IsPrimary bool      `json:"isPrimary"`
}

type AddressRequest struct {
	StreetLine1   string      `json:"streetLine1" validate:"max=200"`
	StreetLine2   string      `json:"streetLine2" validate:"max=200"`
	City          string      `json:"city" validate:"max=100"`
	StateProvince string      `json:"stateProvince" validate:"max=100"`
	PostalCode    string      `json:"postalCode" validate:"max=20"`
	Country       string      `json:"country" validate:"max=100"`
	Type          AddressType `json:"type" validate:"required,oneof=Home Work Other"`
	IsPrimary     bool        `json:"isPrimary"`
}

// CreateContactRequest is the payload of ContactService.Create.
type CreateContactRequest struct {
	FirstName   string     `json:"firstName" validate:"required,max=100"`
	LastName    string     `json:"lastName" validate:"required,max=100"`
	MiddleName  string     `json:"middleName" validate:"max=100"`
	Nickname    string     `json:"nickname" validate:"max=100"`
	Company     string     `json:"company" validate:"max=200"`
	JobTitle    string     `json:"jobTitle" validate:"max=100"`
	DateOfBirth *time.Time `json:"dateOfBirth"`
	Notes       string     `json:"notes" validate:"max=2000"`

	Emails    []EmailRequest   `json:"emailAddresses" validate:"dive"`
	Phones    []PhoneRequest   `json:"phoneNumbers" validate:"dive"`
	Addresses []AddressRequest `json:"addresses" validate:"dive"`
	GroupIDs  []uuid.UUID      `json:"groupIds"`
	TagIDs    []uuid.UUID      `json:"tagIds"`
}

// UpdateContactRequest replaces the scalar fields of a contact.
type UpdateContactRequest struct {
	FirstName   string     `json:"firstName" validate:"required,max=100"`
	LastName    string     `json:"lastName" validate:"required,max=100"`
	MiddleName  string     `json:"middleName" validate:"max=100"`
	Nickname    string     `json:"nickname" validate:"max=100"`
	Company     string     `json:"company" validate:"max=200"`
	JobTitle    string     `json:"jobTitle" validate:"max=100"`
	DateOfBirth *time.Time `json:"dateOfBirth"`
	Notes       string     `json:"notes" validate:"max=2000"`
}

type GroupRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type TagRequest struct {
	Name     string `json:"name" validate:"required,max=50"`
	ColorHex string `json:"colorHex" validate:"omitempty,hexcolor"`
}

// ContactSummary is the list view of a contact.
type ContactSummary struct {
	ID           uuid.UUID `json:"id"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Company      string    `json:"company,omitempty"`
	PrimaryEmail string    `json:"primaryEmail,omitempty"`
	PrimaryPhone string    `json:"primaryPhone,omitempty"`
}

// ContactDetails is a contact with its groups and tags resolved.
type ContactDetails struct {
	Contact
	Groups []Group `json:"groups"`
	Tags   []Tag   `json:"tags"`
}

// GroupView is a group with the number of its members.
type GroupView struct {
	Group
	ContactCount int `json:"contactCount"`
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"totalCount"`
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
}

func summarize(cs []Contact) []ContactSummary {
	out := make([]ContactSummary, 0, len(cs))
	for _, c := range cs {
		out = append(out, ContactSummary{
			ID:           c.ID,
			FirstName:    c.FirstName,
			LastName:     c.LastName,
			Company:      c.Company,
			PrimaryEmail: c.PrimaryEmail(),
			PrimaryPhone: c.PrimaryPhone(),
		})
	}
	return out
}
