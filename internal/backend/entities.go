// ABOUTME: Backend methods for connectors, workflows, dashboards and users
// ABOUTME: Upserts and deletes schedule a snapshot like any other mutation

package backend

import (
	"context"

	"github.com/2389/coven-dataengine/internal/store"
)

// withStore runs fn against the store under mu
func withStore[T any](b *Backend, fn func(*store.SQLiteStore) (T, error)) (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.ready()
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(s)
}

// mutate runs fn against the store and schedules a save when it succeeds
func mutate[T any](b *Backend, fn func(*store.SQLiteStore) (T, error)) (T, error) {
	out, err := withStore(b, fn)
	if err != nil {
		return out, err
	}
	b.afterMutation()
	return out, nil
}

func (b *Backend) UpsertConnector(ctx context.Context, c *store.Connector) (*store.Connector, error) {
	return mutate(b, func(s *store.SQLiteStore) (*store.Connector, error) {
		return c, s.UpsertConnector(ctx, c)
	})
}

func (b *Backend) DeleteConnector(ctx context.Context, id string) (DeleteResult, error) {
	return mutate(b, func(s *store.SQLiteStore) (DeleteResult, error) {
		ok, err := s.DeleteConnector(ctx, id)
		return DeleteResult{Deleted: ok}, err
	})
}

func (b *Backend) ListConnectors(ctx context.Context) ([]*store.Connector, error) {
	return withStore(b, func(s *store.SQLiteStore) ([]*store.Connector, error) {
		return s.ListConnectors(ctx)
	})
}

func (b *Backend) UpsertWorkflow(ctx context.Context, w *store.Workflow) (*store.Workflow, error) {
	return mutate(b, func(s *store.SQLiteStore) (*store.Workflow, error) {
		return w, s.UpsertWorkflow(ctx, w)
	})
}

func (b *Backend) DeleteWorkflow(ctx context.Context, id string) (DeleteResult, error) {
	return mutate(b, func(s *store.SQLiteStore) (DeleteResult, error) {
		ok, err := s.DeleteWorkflow(ctx, id)
		return DeleteResult{Deleted: ok}, err
	})
}

func (b *Backend) ListWorkflows(ctx context.Context) ([]*store.Workflow, error) {
	return withStore(b, func(s *store.SQLiteStore) ([]*store.Workflow, error) {
		return s.ListWorkflows(ctx)
	})
}

func (b *Backend) UpsertDashboard(ctx context.Context, d *store.Dashboard) (*store.Dashboard, error) {
	return mutate(b, func(s *store.SQLiteStore) (*store.Dashboard, error) {
		return d, s.UpsertDashboard(ctx, d)
	})
}

func (b *Backend) DeleteDashboard(ctx context.Context, id string) (DeleteResult, error) {
	return mutate(b, func(s *store.SQLiteStore) (DeleteResult, error) {
		ok, err := s.DeleteDashboard(ctx, id)
		return DeleteResult{Deleted: ok}, err
	})
}

func (b *Backend) ListDashboards(ctx context.Context) ([]*store.Dashboard, error) {
	return withStore(b, func(s *store.SQLiteStore) ([]*store.Dashboard, error) {
		return s.ListDashboards(ctx)
	})
}

func (b *Backend) UpsertUser(ctx context.Context, u *store.User) (*store.User, error) {
	return mutate(b, func(s *store.SQLiteStore) (*store.User, error) {
		return u, s.UpsertUser(ctx, u)
	})
}

func (b *Backend) DeleteUser(ctx context.Context, id string) (DeleteResult, error) {
	return mutate(b, func(s *store.SQLiteStore) (DeleteResult, error) {
		ok, err := s.DeleteUser(ctx, id)
		return DeleteResult{Deleted: ok}, err
	})
}

func (b *Backend) ListUsers(ctx context.Context) ([]*store.User, error) {
	return withStore(b, func(s *store.SQLiteStore) ([]*store.User, error) {
		return s.ListUsers(ctx)
	})
}
