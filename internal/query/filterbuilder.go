// Package query serves filtered, paginated, read-state-aware reads over the
// notification history, plus the read-marking and deletion operations.
package query

import (
	"strings"
	"time"

	"github.com/tinywideclouds/go-campus-notify/pkg/notify"
)

// Population is the requester's user class, used by the visibility rule.
type Population string

const (
	PopulationAdmin    Population = "admin"
	PopulationUser     Population = "user"
	PopulationFaculty  Population = "faculty"
	PopulationRegister Population = "register"
)

// Scope carries the requester's identity plus the optional narrowings of a
// list or bulk-read call. Empty string fields mean "no narrowing"; the
// sentinel value "all" on RecipientType or Status means the same.
type Scope struct {
	RequesterID   string
	Population    Population
	RecipientType string
	Status        string
	DateRange     string
	Search        string
	IsRead        *bool
}

// Named rolling date windows accepted by Scope.DateRange. Anything else is
// parsed as an explicit "start,end" pair; malformed ranges are ignored.
const (
	RangeLastWeek    = "last_week"
	RangeLastMonth   = "last_month"
	RangeLast3Months = "last_3_months"
	RangeLast6Months = "last_6_months"
	RangeLastYear    = "last_year"
)

// FilterBuilder translates a Scope into the typed predicate consumed by the
// store. The clock is injected so rolling windows are testable.
type FilterBuilder struct {
	now func() time.Time
}

func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{now: time.Now}
}

// Build composes all narrowings conjunctively. The visibility rule is the
// only internal OR: non-admin requesters see the broadcasts applicable to
// their population plus notifications addressed to them individually.
func (b *FilterBuilder) Build(scope Scope) notify.Clause {
	var clauses []notify.Clause

	if vis := visibilityClause(scope); vis != nil {
		clauses = append(clauses, vis)
	}

	if rt := strings.ToLower(strings.TrimSpace(scope.RecipientType)); rt != "" && rt != "all" {
		clauses = append(clauses, notify.RecipientTypeIn{Types: []notify.RecipientType{notify.RecipientType(rt)}})
	}

	if st := strings.ToLower(strings.TrimSpace(scope.Status)); st != "" && st != "all" {
		clauses = append(clauses, notify.StatusIs{Status: notify.Status(st)})
	}

	if dr := b.dateClause(scope.DateRange); dr != nil {
		clauses = append(clauses, dr)
	}

	if search := strings.TrimSpace(scope.Search); search != "" {
		clauses = append(clauses, notify.TextContains{Text: search})
	}

	if scope.IsRead != nil {
		clauses = append(clauses, notify.ReadBy{Reader: scope.RequesterID, Read: *scope.IsRead})
	}

	switch len(clauses) {
	case 0:
		return notify.MatchAll{}
	case 1:
		return clauses[0]
	}
	return notify.And{Clauses: clauses}
}

// visibilityClause restricts what a non-admin requester can see. Admins are
// unrestricted.
func visibilityClause(scope Scope) notify.Clause {
	var broadcasts []notify.RecipientType
	switch scope.Population {
	case PopulationAdmin:
		return nil
	case PopulationUser:
		broadcasts = []notify.RecipientType{
			notify.RecipientAllStudents,
			notify.RecipientEveryone,
			notify.RecipientStudentsAndFaculty,
		}
	case PopulationFaculty:
		broadcasts = []notify.RecipientType{
			notify.RecipientAllFaculty,
			notify.RecipientEveryone,
			notify.RecipientStudentsAndFaculty,
		}
	default:
		// Registrants and anything unrecognised fall back to the narrowest
		// view: everyone-wide broadcasts plus their own individual records.
		broadcasts = []notify.RecipientType{notify.RecipientEveryone}
	}
	return notify.Or{Clauses: []notify.Clause{
		notify.RecipientTypeIn{Types: broadcasts},
		notify.AddressedTo{UserID: scope.RequesterID},
	}}
}

// dateClause resolves a named rolling window or an explicit "start,end"
// pair. Unparseable input yields nil so an auxiliary parameter never fails
// the whole query.
func (b *FilterBuilder) dateClause(raw string) notify.Clause {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	now := b.now()
	switch strings.ToLower(raw) {
	case RangeLastWeek:
		return notify.CreatedBetween{Start: now.AddDate(0, 0, -7), End: now}
	case RangeLastMonth:
		return notify.CreatedBetween{Start: now.AddDate(0, -1, 0), End: now}
	case RangeLast3Months:
		return notify.CreatedBetween{Start: now.AddDate(0, -3, 0), End: now}
	case RangeLast6Months:
		return notify.CreatedBetween{Start: now.AddDate(0, -6, 0), End: now}
	case RangeLastYear:
		return notify.CreatedBetween{Start: now.AddDate(-1, 0, 0), End: now}
	}

	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return nil
	}
	start, okStart := parseTimestamp(parts[0])
	end, okEnd := parseTimestamp(parts[1])
	if !okStart || !okEnd {
		return nil
	}
	return notify.CreatedBetween{Start: start, End: end}
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
