package http

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"fastbudget/internal/core"
	"fastbudget/internal/log"
	"fastbudget/internal/shell"
)

// pageData is shell.Props plus what only the HTML layer knows about.
type pageData struct {
	shell.Props

	AuthMode  string
	AuthError string
	FormEmail string
	FormName  string

	Calendar Calendar
	Panel    template.HTML
}

// panelTemplate names the template that renders v. Every view has a case.
func panelTemplate(v core.View) (string, error) {
	switch v {
	case core.ViewOverview:
		return "panel-overview", nil
	case core.ViewCalendar:
		return "panel-calendar", nil
	case core.ViewTransactions, core.ViewScheduled, core.ViewAccounts,
		core.ViewCards, core.ViewBudgets, core.ViewGoals:
		return "panel-placeholder", nil
	default:
		return "", fmt.Errorf("%w: %s", core.ErrUnknownView, v)
	}
}

// Calendar is one month laid out in Monday-first weeks.
type Calendar struct {
	Title    string
	Year     int
	Month    int
	Weekdays []string
	Weeks    [][]CalendarDay
	Prev     MonthParams
	Next     MonthParams
}

// CalendarDay is one cell. Day is zero for padding cells.
type CalendarDay struct {
	Day   int
	Today bool
}

var weekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func buildCalendar(year, month int, today time.Time) Calendar {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, today.Location())
	days := first.AddDate(0, 1, -1).Day()
	lead := (int(first.Weekday()) + 6) % 7

	cal := Calendar{
		Title:    first.Format("January 2006"),
		Year:     year,
		Month:    month,
		Weekdays: weekdays,
		Prev:     monthOf(first.AddDate(0, -1, 0)),
		Next:     monthOf(first.AddDate(0, 1, 0)),
	}

	week := make([]CalendarDay, 0, 7)
	for i := 0; i < lead; i++ {
		week = append(week, CalendarDay{})
	}
	for d := 1; d <= days; d++ {
		week = append(week, CalendarDay{
			Day:   d,
			Today: today.Year() == year && int(today.Month()) == month && today.Day() == d,
		})
		if len(week) == 7 {
			cal.Weeks = append(cal.Weeks, week)
			week = make([]CalendarDay, 0, 7)
		}
	}
	if len(week) > 0 {
		for len(week) < 7 {
			week = append(week, CalendarDay{})
		}
		cal.Weeks = append(cal.Weeks, week)
	}
	return cal
}

func monthOf(t time.Time) MonthParams {
	return MonthParams{Year: t.Year(), Month: int(t.Month())}
}

// newPageData builds the template input for c. Auth form state is filled in by
// the caller.
func (s *Server) newPageData(r *http.Request, c *shell.Controller) (pageData, error) {
	data := pageData{
		Props:    c.Props(),
		AuthMode: ParseAuthMode(r.URL.Query()),
	}
	if !data.Authenticated {
		return data, nil
	}

	now := s.now()
	month := ParseMonthParams(r.URL.Query(), now)
	data.Calendar = buildCalendar(month.Year, month.Month, now)

	name, err := panelTemplate(data.ActiveView)
	if err != nil {
		return data, err
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return data, fmt.Errorf("render %s: %w", name, err)
	}
	data.Panel = template.HTML(buf.String())
	return data, nil
}

// render executes the full page or, for htmx requests, only the shell.
func (s *Server) render(w http.ResponseWriter, r *http.Request, data pageData, status int, b *HTMXResponseBuilder) {
	name := "index.html"
	if isHTMX(r) {
		name = "shell"
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldOperation, log.OpRender,
			"template", name,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeInternal)
		InternalServerError("Something went wrong").Write(w)
		return
	}

	if b == nil {
		b = NewHTMXResponse()
	}
	b.Status(status).BodyHTML(buf.Bytes()).Write(w)
}
