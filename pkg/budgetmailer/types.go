package budgetmailer

import (
	"fmt"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
)

// Contact is a subscriber record. The API owns the schema; the client only
// reads the email and id fields.
type Contact map[string]any

// Email returns the contact's email field, or "" when absent.
func (c Contact) Email() string {
	return c.str("email")
}

// ID returns the contact's server-assigned id, or "" when absent.
func (c Contact) ID() string {
	return c.str("id")
}

func (c Contact) str(field string) string {
	switch v := c[field].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// ContactList is a distribution list as returned by GET lists.
type ContactList struct {
	ID      string `json:"id"`
	List    string `json:"list"`
	Primary bool   `json:"primary"`
}

// Outcome reports how a mutation ended when "not found" is a routine answer.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not found"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Sort orders.
const (
	SortAsc  = "ASC"
	SortDesc = "DESC"
)

const (
	// DefaultLimit is the page size of DefaultContactsQuery.
	DefaultLimit = 20
	// MaxLimit is the largest page the API serves in one response.
	MaxLimit = 1000
)

// ContactsQuery selects a page of contacts. Offset and Limit are sent only
// when positive; Unsubscribed is sent only when non-nil; an empty Sort means
// SortAsc.
type ContactsQuery struct {
	Offset       int
	Limit        int
	Sort         string
	Unsubscribed *bool
}

// DefaultContactsQuery returns the first page of DefaultLimit contacts in
// ascending order, regardless of subscription state.
func DefaultContactsQuery() ContactsQuery {
	return ContactsQuery{Limit: DefaultLimit, Sort: SortAsc}
}

// Bool returns a pointer to v, for the optional flags of ContactsQuery and
// PutContact.
func Bool(v bool) *bool {
	return &v
}

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidArgument  = apierr.ErrInvalidArgument
	ErrTransport        = apierr.ErrTransport
	ErrProtocol         = apierr.ErrProtocol
	ErrUnexpectedStatus = apierr.ErrUnexpectedStatus
	ErrEncode           = apierr.ErrEncode
	ErrDecode           = apierr.ErrDecode
	ErrStorage          = apierr.ErrStorage
)

// StatusError carries the status of a response that did not match the
// expected one.
type StatusError = apierr.StatusError

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	return apierr.StatusCode(err)
}
