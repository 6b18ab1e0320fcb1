// Package session holds the token/user pair for one browser and resolves a
// persisted token into a user through the API.
package session

import (
	"context"
	"errors"

	"fastbudget/internal/core"
)

// TokenKey is the only key the holder reads or writes in its Store.
const TokenKey = "token"

var (
	ErrClosed     = errors.New("session holder closed")
	ErrEmptyToken = errors.New("empty session token")
)

// Store is the persistent key-value storage a holder keeps its token in.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Resolver maps a token to the user it belongs to.
type Resolver interface {
	ResolveUser(ctx context.Context, token string) (core.User, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, token string) (core.User, error)

func (f ResolverFunc) ResolveUser(ctx context.Context, token string) (core.User, error) {
	return f(ctx, token)
}

type ChangeKind int

const (
	ChangeResolved ChangeKind = iota + 1
	ChangeResolveFailed
	ChangeLoggedIn
	ChangeLoggedOut
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeResolved:
		return "resolved"
	case ChangeResolveFailed:
		return "resolve_failed"
	case ChangeLoggedIn:
		return "logged_in"
	case ChangeLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Change is reported to Options.OnChange after the holder commits a transition.
type Change struct {
	Kind ChangeKind
	User core.User
	Err  error
	// Retained is set on a failed resolution that kept the token.
	Retained bool
}

// Snapshot is a consistent copy of the holder state.
type Snapshot struct {
	Token       string
	User        *core.User
	Resolving   bool
	Unavailable bool
}

// Authenticated is true only when both a token and a user are present.
func (s Snapshot) Authenticated() bool {
	return s.Token != "" && s.User != nil
}
