package syncutil

import (
	"context"
	"time"

	"github.com/codemesh/codemesh/internal/errs"
)

// WithTimeout runs fn under a deadline, returning a typed ExecutionFailed
// error if it fires before fn completes, or Aborted if the parent context
// was already cancelled. fn must itself observe ctx for cancellation —
// this wrapper cannot forcibly stop a goroutine that ignores ctx.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return errs.New(errs.Aborted, "operation cancelled")
		}
		return errs.New(errs.ExecutionFailed, "operation timed out")
	}
}
