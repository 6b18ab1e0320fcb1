package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fastbudget/internal/core"
	"fastbudget/internal/log"
)

const storeTimeout = 5 * time.Second

type Options struct {
	// ResolveTimeout bounds a single resolution. Zero means no bound.
	ResolveTimeout time.Duration
	// RetainOnUnavailable keeps the token when the API is unreachable
	// instead of treating the failure as an invalid credential.
	RetainOnUnavailable bool
	Logger              *log.Logger
	OnChange            func(Change)
}

// Holder owns the token and user for one client. Resolution runs in the
// background; every commit checks the holder is still open and that no later
// Login, Logout, Refresh or Close superseded it.
type Holder struct {
	store    Store
	resolver Resolver
	opts     Options
	logger   *log.Logger

	mu          sync.Mutex
	token       string
	user        *core.User
	unavailable bool
	generation  uint64
	cancel      context.CancelFunc
	resolving   bool
	closed      bool

	// done belongs to the latest resolution and is closed once its result is
	// committed and reported.
	done chan struct{}

	wg sync.WaitGroup
}

func NewHolder(store Store, resolver Resolver, opts Options) *Holder {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Holder{
		store:    store,
		resolver: resolver,
		opts:     opts,
		logger:   logger.WithComponent(log.ComponentSession),
	}
}

// Init reads the persisted token. With no token the holder stays anonymous and
// the resolver is never called; otherwise resolution starts in the background.
func (h *Holder) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	token, ok, err := h.store.Get(ctx, TokenKey)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	h.supersedeLocked()
	h.user = nil
	h.unavailable = false
	if !ok || token == "" {
		h.token = ""
		return nil
	}

	h.token = token
	h.startResolveLocked(token)
	return nil
}

// Refresh re-resolves the persisted token, e.g. after the API was unreachable.
func (h *Holder) Refresh(ctx context.Context) error {
	return h.Init(ctx)
}

// Login stores the pair and persists the token.
func (h *Holder) Login(ctx context.Context, token string, user core.User) error {
	if token == "" {
		return ErrEmptyToken
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if err := h.store.Set(ctx, TokenKey, token); err != nil {
		h.mu.Unlock()
		return fmt.Errorf("persist token: %w", err)
	}
	h.supersedeLocked()
	h.token = token
	h.user = &user
	h.unavailable = false
	h.mu.Unlock()

	h.logger.InfoContext(ctx, "Session started", log.FieldOperation, log.OpLogin, log.FieldUserID, user.ID.String())
	h.notify(Change{Kind: ChangeLoggedIn, User: user})
	return nil
}

// Logout clears the pair and the persisted token. The API is not told.
func (h *Holder) Logout(ctx context.Context) error {
	h.mu.Lock()
	h.supersedeLocked()
	var prev core.User
	if h.user != nil {
		prev = *h.user
	}
	h.token = ""
	h.user = nil
	h.unavailable = false
	err := h.store.Remove(ctx, TokenKey)
	h.mu.Unlock()

	h.logger.InfoContext(ctx, "Session ended", log.FieldOperation, log.OpLogout, log.FieldUserID, prev.ID.String())
	h.notify(Change{Kind: ChangeLoggedOut, User: prev})
	if err != nil {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// Wait blocks until no resolution is outstanding or ctx is done.
func (h *Holder) Wait(ctx context.Context) error {
	for {
		h.mu.Lock()
		done := h.done
		h.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		h.mu.Lock()
		latest := h.done == done
		h.mu.Unlock()
		if latest {
			return nil
		}
	}
}

// Close tears the holder down. Outstanding resolution is cancelled and its
// result, if any, is discarded. Persisted state is left as is.
func (h *Holder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.supersedeLocked()
}

func (h *Holder) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Snapshot{
		Token:       h.token,
		Resolving:   h.resolving,
		Unavailable: h.unavailable,
	}
	if h.user != nil {
		u := *h.user
		s.User = &u
	}
	return s
}

// supersedeLocked invalidates any outstanding resolution.
func (h *Holder) supersedeLocked() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.done = nil
	h.resolving = false
	h.generation++
}

func (h *Holder) startResolveLocked(token string) {
	gen := h.generation

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if h.opts.ResolveTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), h.opts.ResolveTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done
	h.resolving = true

	h.wg.Add(1)
	go h.resolve(ctx, cancel, gen, token, done)
}

func (h *Holder) resolve(ctx context.Context, cancel context.CancelFunc, gen uint64, token string, done chan struct{}) {
	defer h.wg.Done()
	defer close(done)
	defer cancel()

	start := time.Now()
	user, err := h.resolver.ResolveUser(ctx, token)
	if err == nil {
		if verr := user.Validate(); verr != nil {
			err = fmt.Errorf("invalid user record: %w", verr)
		}
	}

	h.mu.Lock()
	if h.closed || gen != h.generation {
		h.mu.Unlock()
		h.logger.Debug("Discarding stale resolution", log.FieldGeneration, gen, log.FieldError, err)
		return
	}
	h.cancel = nil
	h.resolving = false

	var change Change
	switch {
	case err == nil:
		h.user = &user
		change = Change{Kind: ChangeResolved, User: user}
	case h.opts.RetainOnUnavailable && core.IsUnavailable(err):
		h.user = nil
		h.unavailable = true
		change = Change{Kind: ChangeResolveFailed, Err: err, Retained: true}
	default:
		h.token = ""
		h.user = nil
		rmCtx, rmCancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		if rmErr := h.store.Remove(rmCtx, TokenKey); rmErr != nil {
			h.logger.Error("Failed to remove rejected token", log.FieldError, rmErr, log.FieldErrorType, log.ErrorTypeDatabase)
		}
		rmCancel()
		change = Change{Kind: ChangeResolveFailed, Err: err}
	}
	h.mu.Unlock()

	elapsed := time.Since(start)
	if err != nil {
		h.logger.Warn("Session resolution failed",
			log.FieldOperation, log.OpResolve,
			log.FieldError, err,
			"token_retained", change.Retained,
			log.FieldDuration, elapsed.Milliseconds())
	} else {
		h.logger.Info("Session resolved",
			log.FieldOperation, log.OpResolve,
			log.FieldUserID, user.ID.String(),
			log.FieldDuration, elapsed.Milliseconds())
	}
	h.notify(change)
}

func (h *Holder) notify(c Change) {
	if h.opts.OnChange != nil {
		h.opts.OnChange(c)
	}
}
