package contacts

// Instrumentation scope of each service.
const (
	ContactServiceScope = "contactd.ContactService"
	GroupServiceScope   = "contactd.GroupService"
	TagServiceScope     = "contactd.TagService"
)

// Metric names.
const (
	MetricContactsCreated = "contacts.created"
	MetricContactsDeleted = "contacts.deleted"
	MetricContactSearches = "contacts.searches"
	MetricSearchDuration  = "contacts.search.duration"
)

// Span and metric attribute keys.
const (
	AttrContactID      = "contact.id"
	AttrContactCompany = "contact.company"
	AttrHasCompany     = "has.company"
	AttrGroupID        = "group.id"
	AttrTagID          = "tag.id"
	AttrSearchTerm     = "search.term"
	AttrResultCount    = "result.count"
	AttrPageNumber     = "page.number"
	AttrPageSize       = "page.size"
	AttrTotalCount     = "total.count"
	AttrEmailCount     = "email.count"
	AttrPhoneCount     = "phone.count"
	AttrAddressCount   = "address.count"
	AttrContactCount   = "contact.count"
)
