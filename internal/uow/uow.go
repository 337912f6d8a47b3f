package uow

import (
	"context"
	"sync"
)

// AfterCommit is a function that runs after a successful unit of work,
// once the lock has been released.
type AfterCommit func(ctx context.Context)

// UoW serialises work on one wizard session.
type UoW struct {
	mu sync.Mutex
}

// Do runs fn while holding the lock. After fn returns nil, the lock is
// released and all after-commit hooks run in registration order.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, after func(AfterCommit)) error,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var hooks []AfterCommit

	err := u.locked(func() error {
		return fn(ctx, func(h AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}

func (u *UoW) locked(fn func() error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	return fn()
}
