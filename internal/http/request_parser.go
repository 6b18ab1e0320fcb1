// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// the auth modal forms and the calendar month selector.

package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxFormBytes     = 16 << 10
	maxEmailLength   = 254
	maxNameLength    = 100
	minPasswordLen   = 6
	maxPasswordLen   = 128
	authModeLogin    = "login"
	authModeRegister = "register"
)

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year  int
	Month int
}

// ParseMonthParams extracts year and month from query parameters, using the
// month of now as default. Out-of-range months fall back to the default too.
func ParseMonthParams(query url.Values, now time.Time) MonthParams {
	params := MonthParams{
		Year:  now.Year(),
		Month: int(now.Month()),
	}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil && y >= 1 && y <= 9999 {
			params.Year = y
		}
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m >= 1 && m <= 12 {
			params.Month = m
		}
	}

	return params
}

// ParseAuthMode reads ?mode= for the auth modal. Anything unknown is login.
func ParseAuthMode(query url.Values) string {
	if strings.EqualFold(strings.TrimSpace(query.Get("mode")), authModeRegister) {
		return authModeRegister
	}
	return authModeLogin
}

// AuthForm is the auth modal submission.
type AuthForm struct {
	Name     string
	Email    string
	Password string
}

// ValidationError is a form problem the user can fix.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

// ParseAuthForm reads a login or registration form from r. register enables
// the name field.
func ParseAuthForm(r *http.Request, register bool) (AuthForm, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return AuthForm{}, err
	}

	form := AuthForm{
		Email:    strings.ToLower(p.Get("email")),
		Password: p.GetSecret("password"),
	}
	if register {
		form.Name = p.Get("name")
	}
	return form, form.Validate(register)
}

// Validate checks the form the same way for HTML and JSON submissions.
func (f AuthForm) Validate(register bool) error {
	switch {
	case f.Email == "":
		return &ValidationError{Field: "email", Message: "Email is required"}
	case len(f.Email) > maxEmailLength:
		return &ValidationError{Field: "email", Message: "Email is too long"}
	}
	if addr, err := mail.ParseAddress(f.Email); err != nil || addr.Address != f.Email {
		return &ValidationError{Field: "email", Message: "Enter a valid email address"}
	}

	if f.Password == "" {
		return &ValidationError{Field: "password", Message: "Password is required"}
	}
	if utf8.RuneCountInString(f.Password) > maxPasswordLen {
		return &ValidationError{Field: "password", Message: "Password is too long"}
	}
	if register && utf8.RuneCountInString(f.Password) < minPasswordLen {
		return &ValidationError{Field: "password", Message: "Password must be at least 6 characters"}
	}
	if register && utf8.RuneCountInString(f.Name) > maxNameLength {
		return &ValidationError{Field: "name", Message: "Name is too long"}
	}
	return nil
}

// IsValidationError reports whether err is a user-fixable form problem.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once, up to maxFormBytes, and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body == nil {
		return p
	}

	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxFormBytes+1))
	if p.err == nil && len(p.body) > maxFormBytes {
		p.err = errors.New("request body too large")
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if strings.HasPrefix(p.contentType, "application/json") || p.body[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a sanitized, trimmed value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	return strings.TrimSpace(sanitizeInput(p.raw(key)))
}

// GetSecret returns a value untouched. Passwords may legitimately contain
// leading spaces.
func (p *RequestBodyParser) GetSecret(key string) string {
	return p.raw(key)
}

func (p *RequestBodyParser) raw(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return stringValue(val)
		}
		return ""
	}
	if p.formData != nil {
		return p.formData.Get(key)
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts a decoded JSON value to string.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
