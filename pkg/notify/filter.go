package notify

import (
	"strings"
	"time"
)

// Clause is one node of the typed filter predicate consumed by Store
// implementations. The predicate is a tagged union of narrowing clauses
// combined by explicit And/Or nodes, independent of any storage engine's
// query dialect. Every clause can evaluate itself in memory; adapters may
// additionally push individual clauses down to their engine, but the
// in-memory evaluation is the source of truth.
type Clause interface {
	// Matches evaluates the clause against a single record.
	Matches(n *Notification) bool
}

// MatchAll is the empty predicate.
type MatchAll struct{}

func (MatchAll) Matches(*Notification) bool { return true }

// And matches records satisfying every child clause.
type And struct {
	Clauses []Clause
}

func (a And) Matches(n *Notification) bool {
	for _, c := range a.Clauses {
		if !c.Matches(n) {
			return false
		}
	}
	return true
}

// Or matches records satisfying at least one child clause.
type Or struct {
	Clauses []Clause
}

func (o Or) Matches(n *Notification) bool {
	for _, c := range o.Clauses {
		if c.Matches(n) {
			return true
		}
	}
	return false
}

// RecipientTypeIn matches records whose recipient type is one of Types.
type RecipientTypeIn struct {
	Types []RecipientType
}

func (r RecipientTypeIn) Matches(n *Notification) bool {
	for _, t := range r.Types {
		if n.RecipientType == t {
			return true
		}
	}
	return false
}

// AddressedTo matches individual notifications sent to a specific user.
type AddressedTo struct {
	UserID string
}

func (a AddressedTo) Matches(n *Notification) bool {
	return n.RecipientType == RecipientIndividual && n.RecipientID == a.UserID
}

// StatusIs matches records with an exact delivery status.
type StatusIs struct {
	Status Status
}

func (s StatusIs) Matches(n *Notification) bool { return n.Status == s.Status }

// CreatedBetween matches records created within [Start, End] inclusive.
type CreatedBetween struct {
	Start time.Time
	End   time.Time
}

func (c CreatedBetween) Matches(n *Notification) bool {
	if n.CreatedAt.Before(c.Start) {
		return false
	}
	return !n.CreatedAt.After(c.End)
}

// TextContains matches records whose title or message contains Text,
// case-insensitively.
type TextContains struct {
	Text string
}

func (t TextContains) Matches(n *Notification) bool {
	needle := strings.ToLower(t.Text)
	return strings.Contains(strings.ToLower(n.Title), needle) ||
		strings.Contains(strings.ToLower(n.Message), needle)
}

// ReadBy narrows on whether Reader appears in the record's read set.
type ReadBy struct {
	Reader string
	Read   bool
}

func (r ReadBy) Matches(n *Notification) bool {
	return n.IsReadBy(r.Reader) == r.Read
}
