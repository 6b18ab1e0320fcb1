// Package shell is the per-browser root view: the session gate, the active
// dashboard view and the theme flag.
package shell

import (
	"context"
	"fmt"
	"sync"

	"fastbudget/internal/core"
	"fastbudget/internal/log"
	"fastbudget/internal/metrics"
	"fastbudget/internal/session"
)

// Controller is the server-side state of one mounted shell.
type Controller struct {
	id      string
	holder  *session.Holder
	logger  *log.Logger
	metrics *metrics.Metrics

	mountOnce sync.Once
	mountErr  error

	mu    sync.Mutex
	view  core.View
	theme Theme
}

func NewController(id string, holder *session.Holder, logger *log.Logger, m *metrics.Metrics) *Controller {
	if logger == nil {
		logger = log.Discard()
	}
	return &Controller{
		id:      id,
		holder:  holder,
		logger:  logger.WithComponent(log.ComponentShell).With(log.FieldClientID, id),
		metrics: m,
		view:    core.DefaultView,
	}
}

func (c *Controller) ID() string { return c.id }

// Mount restores the session on first call. Later calls return the first
// result without touching storage again.
func (c *Controller) Mount(ctx context.Context) error {
	c.mountOnce.Do(func() {
		if err := c.holder.Init(ctx); err != nil {
			c.mountErr = fmt.Errorf("mount shell %s: %w", c.id, err)
		}
	})
	return c.mountErr
}

// SetActiveView makes v the active view. Nothing else changes.
func (c *Controller) SetActiveView(v core.View) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %s", core.ErrUnknownView, v)
	}
	c.mu.Lock()
	c.view = v
	c.mu.Unlock()

	c.logger.Debug("Active view changed", log.FieldOperation, log.OpSetView, log.FieldView, v.String())
	c.metrics.ViewChange(v.String())
	return nil
}

// SelectView parses an identifier and activates it. Unknown identifiers leave
// the state unchanged.
func (c *Controller) SelectView(id string) (core.View, error) {
	v, err := core.ParseView(id)
	if err != nil {
		return c.ActiveView(), err
	}
	return v, c.SetActiveView(v)
}

func (c *Controller) ActiveView() core.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// ToggleTheme flips dark mode and returns the new flag.
func (c *Controller) ToggleTheme() bool {
	c.mu.Lock()
	dark := c.theme.Toggle()
	c.mu.Unlock()

	c.logger.Debug("Theme toggled", log.FieldOperation, log.OpTheme, log.FieldDarkMode, dark)
	c.metrics.ThemeToggle(dark)
	return dark
}

func (c *Controller) DarkMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.theme.Dark()
}

func (c *Controller) Login(ctx context.Context, token string, user core.User) error {
	return c.holder.Login(ctx, token, user)
}

func (c *Controller) Logout(ctx context.Context) error {
	return c.holder.Logout(ctx)
}

// Refresh re-resolves the persisted token.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.holder.Refresh(ctx)
}

// Wait blocks until no session resolution is outstanding or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	return c.holder.Wait(ctx)
}

func (c *Controller) Session() session.Snapshot {
	return c.holder.Snapshot()
}

// Close tears the shell down. Late resolution results are discarded.
func (c *Controller) Close() {
	c.holder.Close()
}

func (c *Controller) Props() Props {
	snap := c.holder.Snapshot()

	c.mu.Lock()
	view := c.view
	dark := c.theme.Dark()
	root := c.theme.RootClasses()
	c.mu.Unlock()

	app := NewClassList("app")
	if dark {
		app.Add(DarkModeClass)
	}

	return Props{
		ClientID:      c.id,
		User:          snap.User,
		Token:         snap.Token,
		Authenticated: snap.Authenticated(),
		Resolving:     snap.Resolving,
		Unavailable:   snap.Unavailable,
		ActiveView:    view,
		Sidebar:       sidebar(view),
		DarkMode:      dark,
		AppClasses:    app.String(),
		RootClasses:   root,
		Actions:       defaultActions(),
	}
}
