package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"fastbudget/internal/api"
	"fastbudget/internal/core"
	"fastbudget/internal/log"
	"fastbudget/internal/shell"
)

const (
	authKindLogin    = "login"
	authKindRegister = "register"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"shells":    s.registry.Len(),
	})
}

// handleReady reports whether client storage answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]string{"templates": "ok", "storage": "ok"}

	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.opts.Ready.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed",
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeDatabase)
			checks["storage"] = "failed: " + err.Error()
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": s.now().Format(time.RFC3339),
		"checks":    checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// acquire returns the mounted shell of the requesting browser.
func (s *Server) acquire(w http.ResponseWriter, r *http.Request) (*shell.Controller, bool) {
	id := s.clientID(w, r)
	c, err := s.registry.Acquire(r.Context(), id)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to mount shell",
			log.FieldClientID, id,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase)
		ErrorResponse(http.StatusServiceUnavailable, "Fast Budget is temporarily unavailable").Write(w)
		return nil, false
	}
	return c, true
}

// waitResolved gives an outstanding session resolution up to ResolveWait to
// finish, so a returning user usually sees the dashboard straight away.
func (s *Server) waitResolved(ctx context.Context, c *shell.Controller) {
	if s.opts.ResolveWait <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.ResolveWait)
	defer cancel()
	_ = c.Wait(ctx)
}

// handleIndex renders the full page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	c, ok := s.acquire(w, r)
	if !ok {
		return
	}
	s.waitResolved(r.Context(), c)
	s.renderShell(w, r, c, http.StatusOK, nil)
}

// handleShell renders only the shell. The loading state polls it.
func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	c, ok := s.acquire(w, r)
	if !ok {
		return
	}
	s.waitResolved(r.Context(), c)
	s.renderShell(w, r, c, http.StatusOK, nil)
}

func (s *Server) renderShell(w http.ResponseWriter, r *http.Request, c *shell.Controller, status int, b *HTMXResponseBuilder) {
	data, err := s.newPageData(r, c)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to build page",
			log.FieldOperation, log.OpRender,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeInternal)
		InternalServerError("Something went wrong").Write(w)
		return
	}
	s.render(w, r, data, status, b)
}

// afterAction answers a state-changing post: htmx gets the new shell, a plain
// form post is sent back to the page.
func (s *Server) afterAction(w http.ResponseWriter, r *http.Request, c *shell.Controller, b *HTMXResponseBuilder) {
	if !isHTMX(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.renderShell(w, r, c, http.StatusOK, b)
}

func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	c, ok := s.acquire(w, r)
	if !ok {
		return
	}

	v, err := c.SelectView(r.PathValue("view"))
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rejected view change",
			log.FieldOperation, log.OpSetView,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeValidation)
		NotFoundError("Unknown view").Write(w)
		return
	}
	s.afterAction(w, r, c, NewHTMXResponse().TriggerViewChanged(v.String()))
}

func (s *Server) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	c, ok := s.acquire(w, r)
	if !ok {
		return
	}
	dark := c.ToggleTheme()
	s.afterAction(w, r, c, NewHTMXResponse().TriggerThemeToggled(dark))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	c, ok := s.acquire(w, r)
	if !ok {
		return
	}
	if err := c.Logout(r.Context()); err != nil {
		// The in-memory session is already gone; only the stored copy lingers.
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Logout did not clear stored token",
			log.FieldOperation, log.OpLogout,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase)
	}
	s.afterAction(w, r, c, NewHTMXResponse().TriggerSessionChanged(false))
}

// handleRetry re-resolves a token kept while the API was unreachable.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	c, ok := s.acquire(w, r)
	if !ok {
		return
	}
	if err := c.Refresh(r.Context()); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Session refresh failed",
			log.FieldOperation, log.OpResolve,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase)
		ErrorResponse(http.StatusServiceUnavailable, "Fast Budget is temporarily unavailable").Write(w)
		return
	}
	s.waitResolved(r.Context(), c)
	s.afterAction(w, r, c, NewHTMXResponse().TriggerSessionChanged(c.Session().Authenticated()))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.handleAuth(w, r, authKindLogin)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.handleAuth(w, r, authKindRegister)
}

// handleAuth submits the auth modal. Failures re-render the modal with the
// message and the entered email and name.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request, kind string) {
	c, ok := s.acquire(w, r)
	if !ok {
		return
	}
	logger := log.FromContext(r.Context())
	register := kind == authKindRegister
	op := log.OpLogin
	if register {
		op = log.OpRegister
	}

	form, err := ParseAuthForm(r, register)
	if err != nil {
		status := http.StatusBadRequest
		msg := "Invalid request"
		var ve *ValidationError
		if errors.As(err, &ve) {
			status = http.StatusUnprocessableEntity
			msg = ve.Message
		}
		s.opts.Metrics.Login(kind, false)
		s.renderAuthError(w, r, c, kind, form, status, msg)
		return
	}

	var res api.AuthResult
	if register {
		res, err = s.opts.Auth.Register(r.Context(), form.Name, form.Email, form.Password)
	} else {
		res, err = s.opts.Auth.Login(r.Context(), form.Email, form.Password)
	}
	if err == nil {
		err = c.Login(r.Context(), res.Token, res.User)
	}
	if err != nil {
		s.opts.Metrics.Login(kind, false)
		status, msg := authFailure(err)
		logger.WarnContext(r.Context(), "Authentication failed",
			log.FieldOperation, op,
			log.FieldStatusCode, status,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeAuth)
		s.renderAuthError(w, r, c, kind, form, status, msg)
		return
	}

	s.opts.Metrics.Login(kind, true)
	logger.InfoContext(r.Context(), "Authentication succeeded",
		log.FieldOperation, op,
		log.FieldUserID, res.User.ID.String())
	s.afterAction(w, r, c, NewHTMXResponse().TriggerSessionChanged(true))
}

// authFailure maps an auth error to a status and a message safe to show.
func authFailure(err error) (int, string) {
	var rejected *api.RejectedError
	switch {
	case errors.As(err, &rejected):
		return http.StatusUnauthorized, rejected.Error()
	case errors.Is(err, core.ErrInvalidCredentials):
		return http.StatusUnauthorized, core.ErrInvalidCredentials.Error()
	case core.IsUnavailable(err):
		return http.StatusServiceUnavailable, "We can't reach the server right now. Please try again."
	default:
		return http.StatusInternalServerError, "Something went wrong. Please try again."
	}
}

func (s *Server) renderAuthError(w http.ResponseWriter, r *http.Request, c *shell.Controller, kind string, form AuthForm, status int, msg string) {
	data, err := s.newPageData(r, c)
	if err != nil {
		InternalServerError("Something went wrong").Write(w)
		return
	}
	data.AuthMode = kind
	data.AuthError = msg
	data.FormEmail = form.Email
	data.FormName = form.Name
	// A failed login for a signed-in browser still shows the modal.
	data.Authenticated = false
	s.render(w, r, data, status, nil)
}
