// Package contacts holds the contact book domain: entities, repository boundary and the
// instrumented ContactService, GroupService and TagService.
package contacts

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type EmailType string

const (
	EmailPersonal EmailType = "Personal"
	EmailWork     EmailType = "Work"
	EmailOther    EmailType = "Other"
)

type PhoneType string

const (
	PhoneMobile PhoneType = "Mobile"
	PhoneHome   PhoneType = "Home"
	PhoneWork   PhoneType = "Work"
	PhoneFax    PhoneType = "Fax"
	PhoneOther  PhoneType = "Other"
)

type AddressType string

const (
	AddressHome  AddressType = "Home"
	AddressWork  AddressType = "Work"
	AddressOther AddressType = "Other"
)

type EmailAddress struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Type      EmailType `json:"type"`
	IsPrimary bool      `json:"isPrimary"`
}

type PhoneNumber struct {
	ID        uuid.UUID `json:"id"`
	Number    string    `json:"number"`
	Type      PhoneType `json:"type"`
	IsPrimary bool      `json:"isPrimary"`
}

type Address struct {
	ID            uuid.UUID   `json:"id"`
	StreetLine1   string      `json:"streetLine1,omitempty"`
	StreetLine2   string      `json:"streetLine2,omitempty"`
	City          string      `json:"city,omitempty"`
	StateProvince string      `json:"stateProvince,omitempty"`
	PostalCode    string      `json:"postalCode,omitempty"`
	Country       string      `json:"country,omitempty"`
	Type          AddressType `json:"type"`
	IsPrimary     bool        `json:"isPrimary"`
}

// Contact is a person in the contact book together with its owned details and its
// group and tag memberships.
type Contact struct {
	ID          uuid.UUID  `json:"id"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	MiddleName  string     `json:"middleName,omitempty"`
	Nickname    string     `json:"nickname,omitempty"`
	Company     string     `json:"company,omitempty"`
	JobTitle    string     `json:"jobTitle,omitempty"`
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	Emails    []EmailAddress `json:"emailAddresses"`
	Phones    []PhoneNumber  `json:"phoneNumbers"`
	Addresses []Address      `json:"addresses"`
	GroupIDs  []uuid.UUID    `json:"groupIds"`
	TagIDs    []uuid.UUID    `json:"tagIds"`
}

// Clone returns a copy of c that shares no slices with it.
func (c Contact) Clone() Contact {
	c.Emails = slices.Clone(c.Emails)
	c.Phones = slices.Clone(c.Phones)
	c.Addresses = slices.Clone(c.Addresses)
	c.GroupIDs = slices.Clone(c.GroupIDs)
	c.TagIDs = slices.Clone(c.TagIDs)
	if c.DateOfBirth != nil {
		dob := *c.DateOfBirth
		c.DateOfBirth = &dob
	}
	return c
}

// PrimaryEmail returns the primary email, else the first one, else "".
func (c Contact) PrimaryEmail() string {
	for _, e := range c.Emails {
		if e.IsPrimary {
			return e.Email
		}
	}
	if len(c.Emails) > 0 {
		return c.Emails[0].Email
	}
	return ""
}

// PrimaryPhone returns the primary phone number, else the first one, else "".
func (c Contact) PrimaryPhone() string {
	for _, p := range c.Phones {
		if p.IsPrimary {
			return p.Number
		}
	}
	if len(c.Phones) > 0 {
		return c.Phones[0].Number
	}
	return ""
}

type Group struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Tag struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	ColorHex string    `json:"colorHex,omitempty"`
}
