package uow

import "context"

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// TxBeginner starts a transaction and runs the given function inside it.
// The postgres store satisfies this; test fakes run fn directly.
type TxBeginner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UoW represents a unit of work.
type UoW struct {
	tx TxBeginner
}

func New(tx TxBeginner) *UoW {
	return &UoW{tx: tx}
}

// Do runs fn inside a transaction. Hooks registered through after run
// only once the commit succeeds, so cache invalidation and notifications
// never fire for rolled-back work.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	err := u.tx.WithTx(ctx, func(ctx context.Context) error {
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
