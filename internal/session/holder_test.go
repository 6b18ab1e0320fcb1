package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"fastbudget/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mapStore struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
	setErr error
}

func newMapStore(kv ...string) *mapStore {
	s := &mapStore{values: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		s.values[kv[i]] = kv[i+1]
	}
	return s
}

func (s *mapStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *mapStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = value
	return nil
}

func (s *mapStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *mapStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

// fakeResolver answers from a table and records every token it was asked about.
type fakeResolver struct {
	mu      sync.Mutex
	calls   []string
	users   map[string]core.User
	errs    map[string]error
	release chan struct{}
	// honorCtx makes a blocked call return early when its context is cancelled.
	honorCtx bool
}

func (f *fakeResolver) ResolveUser(ctx context.Context, token string) (core.User, error) {
	f.mu.Lock()
	f.calls = append(f.calls, token)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		if f.honorCtx {
			select {
			case <-release:
			case <-ctx.Done():
				return core.User{}, ctx.Err()
			}
		} else {
			<-release
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[token]; ok {
		return core.User{}, err
	}
	if u, ok := f.users[token]; ok {
		return u, nil
	}
	return core.User{}, core.ErrUnauthenticated
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var (
	alice = core.User{ID: "1", Email: "a@b.com"}
	bob   = core.User{ID: "2", Name: "Bob", Email: "bob@b.com"}
)

func waitResolved(t *testing.T, h *Holder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
}

func TestInit_NoTokenMakesNoCall(t *testing.T) {
	res := &fakeResolver{}
	h := NewHolder(newMapStore(), res, Options{})
	defer h.Close()

	require.NoError(t, h.Init(context.Background()))
	snap := h.Snapshot()

	assert.False(t, snap.Authenticated())
	assert.False(t, snap.Resolving)
	assert.Empty(t, snap.Token)
	assert.Zero(t, res.callCount(), "no token means no network call")
}

func TestInit_ResolvesStoredToken(t *testing.T) {
	res := &fakeResolver{users: map[string]core.User{"abc": alice}}
	store := newMapStore(TokenKey, "abc")
	h := NewHolder(store, res, Options{})
	defer h.Close()

	require.NoError(t, h.Init(context.Background()))
	waitResolved(t, h)

	snap := h.Snapshot()
	require.True(t, snap.Authenticated())
	assert.Equal(t, "abc", snap.Token)
	assert.Equal(t, "a@b.com", snap.User.Email)
	assert.True(t, store.has(TokenKey))
	assert.Equal(t, []string{"abc"}, res.calls)
}

func TestInit_FailureClearsEverything(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"expired token", core.ErrUnauthenticated},
		{"network error", core.ErrUpstreamUnavailable},
		{"anything else", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{errs: map[string]error{"expired": tt.err}}
			store := newMapStore(TokenKey, "expired")
			h := NewHolder(store, res, Options{})
			defer h.Close()

			require.NoError(t, h.Init(context.Background()))
			waitResolved(t, h)

			snap := h.Snapshot()
			assert.False(t, snap.Authenticated())
			assert.Empty(t, snap.Token)
			assert.Nil(t, snap.User)
			assert.False(t, snap.Unavailable)
			assert.False(t, store.has(TokenKey), "rejected token must be removed from storage")
		})
	}
}

func TestInit_InvalidUserRecordIsAFailure(t *testing.T) {
	res := &fakeResolver{users: map[string]core.User{"abc": {ID: "", Email: "a@b.com"}}}
	store := newMapStore(TokenKey, "abc")
	h := NewHolder(store, res, Options{})
	defer h.Close()

	require.NoError(t, h.Init(context.Background()))
	waitResolved(t, h)

	assert.False(t, h.Snapshot().Authenticated())
	assert.False(t, store.has(TokenKey))
}

func TestInit_RetainOnUnavailable(t *testing.T) {
	res := &fakeResolver{errs: map[string]error{"abc": core.ErrUpstreamUnavailable}}
	store := newMapStore(TokenKey, "abc")
	h := NewHolder(store, res, Options{RetainOnUnavailable: true})
	defer h.Close()

	require.NoError(t, h.Init(context.Background()))
	waitResolved(t, h)

	snap := h.Snapshot()
	assert.False(t, snap.Authenticated())
	assert.True(t, snap.Unavailable)
	assert.Equal(t, "abc", snap.Token)
	assert.True(t, store.has(TokenKey))

	// API comes back.
	res.mu.Lock()
	delete(res.errs, "abc")
	res.users = map[string]core.User{"abc": alice}
	res.mu.Unlock()

	require.NoError(t, h.Refresh(context.Background()))
	waitResolved(t, h)

	snap = h.Snapshot()
	assert.True(t, snap.Authenticated())
	assert.False(t, snap.Unavailable)
}

func TestInit_RetainOnUnavailableStillClearsRejectedTokens(t *testing.T) {
	res := &fakeResolver{errs: map[string]error{"abc": core.ErrUnauthenticated}}
	store := newMapStore(TokenKey, "abc")
	h := NewHolder(store, res, Options{RetainOnUnavailable: true})
	defer h.Close()

	require.NoError(t, h.Init(context.Background()))
	waitResolved(t, h)

	assert.False(t, store.has(TokenKey))
	assert.False(t, h.Snapshot().Unavailable)
}

func TestInit_RetainOnUnavailableKeepsTokenWhenAPIHangs(t *testing.T) {
	// The resolver never answers; only the resolve timeout ends the call.
	res := &fakeResolver{release: make(chan struct{}), honorCtx: true}
	store := newMapStore(TokenKey, "abc")

	var (
		mu      sync.Mutex
		changes []Change
	)
	h := NewHolder(store, res, Options{
		ResolveTimeout:      50 * time.Millisecond,
		RetainOnUnavailable: true,
		OnChange: func(c Change) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		},
	})
	defer h.Close()

	require.NoError(t, h.Init(context.Background()))
	waitResolved(t, h)

	snap := h.Snapshot()
	assert.True(t, snap.Unavailable)
	assert.Equal(t, "abc", snap.Token)
	assert.True(t, store.has(TokenKey))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeResolveFailed, changes[0].Kind)
	assert.True(t, changes[0].Retained)
	assert.ErrorIs(t, changes[0].Err, context.DeadlineExceeded)
}

func TestInit_StoreErrorIsReturned(t *testing.T) {
	store := newMapStore()
	store.getErr = errors.New("disk on fire")
	h := NewHolder(store, &fakeResolver{}, Options{})
	defer h.Close()

	err := h.Init(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.getErr)
}

func TestInit_ResolvingWhileOutstanding(t *testing.T) {
	res := &fakeResolver{users: map[string]core.User{"abc": alice}, release: make(chan struct{})}
	h := NewHolder(newMapStore(TokenKey, "abc"), res, Options{})
	defer h.Close()

	require.NoError(t, h.Init(context.Background()))
	snap := h.Snapshot()
	assert.True(t, snap.Resolving)
	assert.False(t, snap.Authenticated(), "renders unauthenticated until resolved")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)

	close(res.release)
	waitResolved(t, h)
	assert.True(t, h.Snapshot().Authenticated())
}

func TestLogout_AlwaysClears(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *Holder, res *fakeResolver)
	}{
		{"anonymous", func(t *testing.T, h *Holder, res *fakeResolver) {}},
		{"logged in", func(t *testing.T, h *Holder, res *fakeResolver) {
			require.NoError(t, h.Login(context.Background(), "tok", bob))
		}},
		{"resolved", func(t *testing.T, h *Holder, res *fakeResolver) {
			require.NoError(t, h.Init(context.Background()))
			waitResolved(t, h)
		}},
		{"resolving", func(t *testing.T, h *Holder, res *fakeResolver) {
			res.release = make(chan struct{})
			res.honorCtx = true
			require.NoError(t, h.Init(context.Background()))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{users: map[string]core.User{"abc": alice}}
			store := newMapStore(TokenKey, "abc")
			h := NewHolder(store, res, Options{})
			defer h.Close()

			tt.setup(t, h, res)
			require.NoError(t, h.Logout(context.Background()))

			snap := h.Snapshot()
			assert.Empty(t, snap.Token)
			assert.Nil(t, snap.User)
			assert.False(t, snap.Resolving)
			assert.False(t, store.has(TokenKey))

			h.wg.Wait()
			assert.Empty(t, h.Snapshot().Token, "late resolution must not resurrect the session")
		})
	}
}

func TestLogin_PersistsToken(t *testing.T) {
	store := newMapStore()
	h := NewHolder(store, &fakeResolver{}, Options{})
	defer h.Close()

	require.NoError(t, h.Login(context.Background(), "fresh", bob))

	snap := h.Snapshot()
	assert.True(t, snap.Authenticated())
	assert.Equal(t, "Bob", snap.User.DisplayName())
	v, ok, _ := store.Get(context.Background(), TokenKey)
	assert.True(t, ok)
	assert.Equal(t, "fresh", v)
}

func TestLogin_Errors(t *testing.T) {
	store := newMapStore()
	h := NewHolder(store, &fakeResolver{}, Options{})

	assert.ErrorIs(t, h.Login(context.Background(), "", bob), ErrEmptyToken)

	store.setErr = errors.New("read-only")
	require.Error(t, h.Login(context.Background(), "tok", bob))
	assert.False(t, h.Snapshot().Authenticated(), "failed persist leaves state unchanged")

	h.Close()
	store.setErr = nil
	assert.ErrorIs(t, h.Login(context.Background(), "tok", bob), ErrClosed)
	assert.ErrorIs(t, h.Init(context.Background()), ErrClosed)
}

func TestLogin_SupersedesOutstandingResolution(t *testing.T) {
	res := &fakeResolver{users: map[string]core.User{"old": alice}, release: make(chan struct{})}
	store := newMapStore(TokenKey, "old")
	h := NewHolder(store, res, Options{})
	defer h.Close()

	require.NoError(t, h.Init(context.Background()))
	require.NoError(t, h.Login(context.Background(), "new", bob))

	close(res.release)
	h.wg.Wait()

	snap := h.Snapshot()
	assert.Equal(t, "new", snap.Token)
	assert.Equal(t, bob.ID, snap.User.ID, "stale resolution must not overwrite the login")
	v, _, _ := store.Get(context.Background(), TokenKey)
	assert.Equal(t, "new", v)
}

func TestClose_DiscardsLateResult(t *testing.T) {
	res := &fakeResolver{errs: map[string]error{"abc": core.ErrUnauthenticated}, release: make(chan struct{})}
	store := newMapStore(TokenKey, "abc")
	h := NewHolder(store, res, Options{})

	require.NoError(t, h.Init(context.Background()))
	h.Close()
	close(res.release)
	h.wg.Wait()

	assert.True(t, store.has(TokenKey), "a torn-down holder must not act on a late failure")
	assert.False(t, h.Snapshot().Resolving)
	h.Close()
}

func TestClose_CancelsResolution(t *testing.T) {
	res := &fakeResolver{release: make(chan struct{}), honorCtx: true}
	h := NewHolder(newMapStore(TokenKey, "abc"), res, Options{})

	require.NoError(t, h.Init(context.Background()))
	h.Close()
	h.wg.Wait()
	assert.Equal(t, 1, res.callCount())
}

func TestResolveTimeout(t *testing.T) {
	res := &fakeResolver{release: make(chan struct{}), honorCtx: true}
	store := newMapStore(TokenKey, "slow")
	h := NewHolder(store, res, Options{ResolveTimeout: 10 * time.Millisecond})
	defer h.Close()

	require.NoError(t, h.Init(context.Background()))
	waitResolved(t, h)

	assert.False(t, h.Snapshot().Authenticated())
	assert.False(t, store.has(TokenKey))
}

func TestOnChange(t *testing.T) {
	var (
		mu      sync.Mutex
		changes []Change
	)
	res := &fakeResolver{users: map[string]core.User{"abc": alice}}
	h := NewHolder(newMapStore(TokenKey, "abc"), res, Options{OnChange: func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	}})
	defer h.Close()

	require.NoError(t, h.Init(context.Background()))
	waitResolved(t, h)
	require.NoError(t, h.Logout(context.Background()))
	require.NoError(t, h.Login(context.Background(), "t2", bob))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 3)
	assert.Equal(t, ChangeResolved, changes[0].Kind)
	assert.Equal(t, alice.ID, changes[0].User.ID)
	assert.Equal(t, ChangeLoggedOut, changes[1].Kind)
	assert.Equal(t, alice.ID, changes[1].User.ID)
	assert.Equal(t, ChangeLoggedIn, changes[2].Kind)
	assert.Equal(t, "logged_in", changes[2].Kind.String())
}

func TestSnapshotAuthenticatedRequiresToken(t *testing.T) {
	u := alice
	assert.False(t, Snapshot{User: &u}.Authenticated(), "cached user without token is not authenticated")
	assert.False(t, Snapshot{Token: "abc"}.Authenticated())
	assert.True(t, Snapshot{Token: "abc", User: &u}.Authenticated())
}
