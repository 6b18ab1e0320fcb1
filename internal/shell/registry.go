package shell

import (
	"context"
	"errors"
	"time"

	"fastbudget/internal/cache"
	"fastbudget/internal/core"
	"fastbudget/internal/events"
	"fastbudget/internal/log"
	"fastbudget/internal/metrics"
	"fastbudget/internal/session"
	"fastbudget/internal/storage"
)

const publishTimeout = 2 * time.Second

type RegistryOptions struct {
	Repo     storage.Repository
	Resolver session.Resolver
	// IdleTTL is how long an unused shell stays mounted.
	IdleTTL   time.Duration
	MaxShells int
	// ResolveTimeout bounds one session resolution.
	ResolveTimeout      time.Duration
	RetainOnUnavailable bool
	Logger              *log.Logger
	Metrics             *metrics.Metrics
	Publisher           events.Publisher
}

// Registry keeps the live shells keyed by client ID. Shells that fall out of
// the cache, through idle expiry or capacity pressure, are torn down.
type Registry struct {
	opts   RegistryOptions
	logger *log.Logger
	shells *cache.LRUCache[*Controller]
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NewLogPublisher(opts.Logger)
	}
	r := &Registry{
		opts:   opts,
		logger: opts.Logger.WithComponent(log.ComponentShell),
		shells: cache.NewLRUCache[*Controller](opts.MaxShells, opts.IdleTTL),
	}
	r.shells.OnEvict(func(clientID string, c *Controller, reason cache.EvictReason) {
		c.Close()
		r.opts.Metrics.ShellEvicted(reason.String())
		r.logger.Debug("Shell torn down", log.FieldClientID, clientID, "reason", reason.String())
	})
	return r
}

// Acquire returns the mounted shell for clientID, creating and mounting it on
// first sight.
func (r *Registry) Acquire(ctx context.Context, clientID string) (*Controller, error) {
	c, err := r.acquire(ctx, clientID)
	if errors.Is(err, session.ErrClosed) {
		// Torn down by capacity pressure before it mounted; take a fresh one.
		c, err = r.acquire(ctx, clientID)
	}
	return c, err
}

func (r *Registry) acquire(ctx context.Context, clientID string) (*Controller, error) {
	c, created := r.shells.GetOrCreate(clientID, func() *Controller {
		return r.newController(clientID)
	})
	if created {
		r.opts.Metrics.ShellMounted()
		r.logger.DebugContext(ctx, "Shell mounted", log.FieldClientID, clientID)
	}
	if err := c.Mount(ctx); err != nil {
		r.shells.DeleteIf(clientID, func(cur *Controller) bool { return cur == c })
		return nil, err
	}
	return c, nil
}

// Get returns the shell for clientID without mounting one.
func (r *Registry) Get(clientID string) (*Controller, bool) {
	return r.shells.Get(clientID)
}

// Drop tears down the shell for clientID, if any.
func (r *Registry) Drop(clientID string) {
	r.shells.Delete(clientID)
}

func (r *Registry) Len() int { return r.shells.Size() }

// CleanExpired tears down idle shells. It lets a cache.Manager drive the
// registry.
func (r *Registry) CleanExpired() int { return r.shells.CleanExpired() }

// Close tears down every shell.
func (r *Registry) Close() {
	if n := r.shells.Purge(); n > 0 {
		r.logger.Info("Shells torn down", log.FieldOperation, log.OpShutdown, "count", n)
	}
}

func (r *Registry) newController(clientID string) *Controller {
	logger := r.opts.Logger.With(log.FieldClientID, clientID)
	holder := session.NewHolder(storage.Scope(r.opts.Repo, clientID), r.opts.Resolver, session.Options{
		ResolveTimeout:      r.opts.ResolveTimeout,
		RetainOnUnavailable: r.opts.RetainOnUnavailable,
		Logger:              logger,
		OnChange: func(change session.Change) {
			r.sessionChanged(clientID, change)
		},
	})
	return NewController(clientID, holder, r.opts.Logger, r.opts.Metrics)
}

func (r *Registry) sessionChanged(clientID string, change session.Change) {
	var (
		eventType events.Type
		reason    string
	)
	switch change.Kind {
	case session.ChangeResolved:
		eventType = events.TypeResolved
		r.opts.Metrics.Resolution("resolved")
	case session.ChangeResolveFailed:
		eventType = events.TypeResolveFailed
		reason = failureReason(change)
		r.opts.Metrics.Resolution(reason)
	case session.ChangeLoggedIn:
		eventType = events.TypeLoggedIn
	case session.ChangeLoggedOut:
		eventType = events.TypeLoggedOut
		r.opts.Metrics.Logout()
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err := r.opts.Publisher.Publish(ctx, events.New(eventType, clientID, change.User.ID.String(), reason))
	r.opts.Metrics.EventPublished(string(eventType), err)
	if err != nil {
		r.logger.Warn("Failed to publish session event",
			log.FieldOperation, log.OpPublish,
			log.FieldEvent, string(eventType),
			log.FieldClientID, clientID,
			log.FieldError, err)
	}
}

func failureReason(change session.Change) string {
	switch {
	case change.Retained:
		return "retained"
	case errors.Is(change.Err, core.ErrUnauthenticated):
		return "rejected"
	case core.IsUnavailable(change.Err):
		return "unavailable"
	default:
		return "error"
	}
}
