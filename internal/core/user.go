package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrUnauthenticated means the token was rejected or has expired.
	ErrUnauthenticated = errors.New("token rejected")
	// ErrUpstreamUnavailable means the API could not be reached or failed on its side.
	ErrUpstreamUnavailable = errors.New("api unavailable")
	// ErrInvalidCredentials is returned when a login or registration form is refused.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// IsUnavailable reports whether err means the API could not be reached in
// time. A deadline hit while waiting on the API counts as unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

type (
	// UserID accepts both numeric and string identifiers from the API.
	UserID string

	// User is the account record returned by the API for a token.
	User struct {
		ID    UserID `json:"id"`
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
	}
)

// UnmarshalJSON decodes `1` and `"1"` alike.
func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = UserID(n.String())
	return nil
}

func (id UserID) String() string { return string(id) }

// DisplayName prefers the name and falls back to the email address.
func (u User) DisplayName() string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	return strings.TrimSpace(u.Email)
}

// Initial is the avatar letter.
func (u User) Initial() string {
	name := u.DisplayName()
	if name == "" {
		return "?"
	}
	r, _ := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r))
}

// Validate checks the record has an identifier and something to display.
func (u User) Validate() error {
	if strings.TrimSpace(string(u.ID)) == "" {
		return errors.New("user id is required")
	}
	if u.DisplayName() == "" {
		return errors.New("user needs a name or an email")
	}
	return nil
}
