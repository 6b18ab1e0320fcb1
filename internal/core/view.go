package core

import (
	"errors"
	"fmt"
	"strings"
)

// View identifies one dashboard panel. The set is closed; use ParseView at the edges.
type View int

const (
	ViewOverview View = iota
	ViewCalendar
	ViewTransactions
	ViewScheduled
	ViewAccounts
	ViewCards
	ViewBudgets
	ViewGoals

	viewCount
)

// DefaultView is the panel a freshly mounted shell shows.
const DefaultView = ViewOverview

var ErrUnknownView = errors.New("unknown view")

var viewInfo = [viewCount]struct {
	id, heading, blurb string
}{
	ViewOverview:     {"overview", "Profile", ""},
	ViewCalendar:     {"calendar", "Calendar", ""},
	ViewTransactions: {"transactions", "Transactions", "Your recent transactions will appear here."},
	ViewScheduled:    {"scheduled", "Scheduled Transactions", "Your scheduled transactions will appear here."},
	ViewAccounts:     {"accounts", "Accounts", "Your accounts will appear here."},
	ViewCards:        {"cards", "Credit Cards", "Your credit cards will appear here."},
	ViewBudgets:      {"budgets", "Budgets", "Your budgets will appear here."},
	ViewGoals:        {"goals", "Goals", "Your financial goals will appear here."},
}

// AllViews returns every view in sidebar order.
func AllViews() []View {
	views := make([]View, 0, viewCount)
	for v := View(0); v < viewCount; v++ {
		views = append(views, v)
	}
	return views
}

// ParseView maps an identifier such as "budgets" to its View.
func ParseView(s string) (View, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for v := View(0); v < viewCount; v++ {
		if viewInfo[v].id == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownView, s)
}

// Valid reports whether v belongs to the closed set.
func (v View) Valid() bool { return v >= 0 && v < viewCount }

func (v View) String() string {
	if !v.Valid() {
		return fmt.Sprintf("View(%d)", int(v))
	}
	return viewInfo[v].id
}

// Title is the header label: the identifier with its first letter upper-cased.
func (v View) Title() string {
	id := v.String()
	if !v.Valid() {
		return id
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

// Heading is the placeholder panel heading.
func (v View) Heading() string {
	if !v.Valid() {
		return ""
	}
	return viewInfo[v].heading
}

// Blurb is the placeholder panel text. Empty for panels with real content.
func (v View) Blurb() string {
	if !v.Valid() {
		return ""
	}
	return viewInfo[v].blurb
}

// Placeholder reports whether the panel has no content of its own yet.
func (v View) Placeholder() bool { return v.Blurb() != "" }
