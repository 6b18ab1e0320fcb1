// Package api talks to the Fast Budget REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"fastbudget/internal/core"
	"fastbudget/internal/log"
	"fastbudget/internal/metrics"
)

const (
	pathMe       = "/api/auth/me"
	pathLogin    = "/api/auth/login"
	pathRegister = "/api/auth/register"

	maxBodyBytes   = 1 << 20
	defaultTimeout = 10 * time.Second
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
	Metrics    *metrics.Metrics
}

// Client is the only way the shell reaches the API. It never caches users;
// concurrent lookups of the same token share one request.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
	logger  *log.Logger
	metrics *metrics.Metrics
	group   singleflight.Group
	now     func() time.Time
}

// RejectedError is a login or registration refused by the API.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return core.ErrInvalidCredentials.Error()
}

func (e *RejectedError) Unwrap() error { return core.ErrInvalidCredentials }

// AuthResult is what login and registration return.
type AuthResult struct {
	Token string    `json:"token"`
	User  core.User `json:"user"`
}

func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https, got %q", opts.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("api base url has no host: %q", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		timeout: timeout,
		logger:  logger.WithComponent(log.ComponentAPI),
		metrics: opts.Metrics,
		now:     time.Now,
	}, nil
}

// ResolveUser returns the user a token belongs to. Rejected or expired tokens
// yield core.ErrUnauthenticated; transport failures and 5xx responses yield
// core.ErrUpstreamUnavailable.
func (c *Client) ResolveUser(ctx context.Context, token string) (core.User, error) {
	if strings.TrimSpace(token) == "" {
		return core.User{}, fmt.Errorf("%w: empty token", core.ErrUnauthenticated)
	}
	if c.expired(token) {
		c.logger.DebugContext(ctx, "Token expired, skipping lookup", log.FieldOperation, log.OpResolve)
		return core.User{}, fmt.Errorf("%w: token expired", core.ErrUnauthenticated)
	}

	// The shared request outlives any single caller; each caller still stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(token, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(shared, c.timeout)
		defer cancel()
		return c.fetchMe(fetchCtx, token)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return core.User{}, res.Err
		}
		return res.Val.(core.User), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return core.User{}, fmt.Errorf("%w: %w", core.ErrUpstreamUnavailable, ctx.Err())
		}
		return core.User{}, ctx.Err()
	}
}

// expired reports whether token is a JWT whose exp claim has passed. Opaque
// tokens and JWTs without exp are left to the API.
func (c *Client) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !c.now().Before(exp.Time)
}

func (c *Client) fetchMe(ctx context.Context, token string) (core.User, error) {
	start := time.Now()
	defer func() { c.metrics.ResolveDuration(time.Since(start)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(pathMe), nil)
	if err != nil {
		return core.User{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return core.User{}, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.User{}, fmt.Errorf("%w: status %d", core.ErrUnauthenticated, resp.StatusCode)
	case resp.StatusCode >= 500:
		return core.User{}, fmt.Errorf("%w: status %d", core.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return core.User{}, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, pathMe)
	}

	var body struct {
		User *core.User `json:"user"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return core.User{}, fmt.Errorf("decode %s response: %w", pathMe, err)
	}
	if body.User == nil {
		return core.User{}, fmt.Errorf("%s response has no user", pathMe)
	}
	return *body.User, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	return c.authenticate(ctx, pathLogin, map[string]string{
		"email":    email,
		"password": password,
	})
}

// Register creates an account and returns its first token.
func (c *Client) Register(ctx context.Context, name, email, password string) (AuthResult, error) {
	return c.authenticate(ctx, pathRegister, map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
}

func (c *Client) authenticate(ctx context.Context, path string, payload map[string]string) (AuthResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return AuthResult{}, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return AuthResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: read response: %v", core.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return AuthResult{}, fmt.Errorf("%w: status %d", core.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return AuthResult{}, &RejectedError{Status: resp.StatusCode, Message: errorMessage(data)}
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return AuthResult{}, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	var result AuthResult
	if err := json.Unmarshal(data, &result); err != nil {
		return AuthResult{}, fmt.Errorf("decode %s response: %w", path, err)
	}
	if result.Token == "" {
		return AuthResult{}, fmt.Errorf("%s response has no token", path)
	}
	if err := result.User.Validate(); err != nil {
		return AuthResult{}, fmt.Errorf("%s response: %w", path, err)
	}
	return result, nil
}

// errorMessage pulls a human message out of an API error body.
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.JoinPath(path).String()
}
