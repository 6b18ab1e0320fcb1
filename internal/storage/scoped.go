package storage

import "context"

// Scoped exposes one client's slice of a Repository as a plain key-value store.
type Scoped struct {
	repo     Repository
	clientID string
}

func Scope(repo Repository, clientID string) *Scoped {
	return &Scoped{repo: repo, clientID: clientID}
}

func (s *Scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.repo.Get(ctx, s.clientID, key)
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.repo.Set(ctx, s.clientID, key, value)
}

func (s *Scoped) Remove(ctx context.Context, key string) error {
	return s.repo.Delete(ctx, s.clientID, key)
}
