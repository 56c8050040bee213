package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// NonEmptyCheck fails while size reports zero. what names the thing counted.
func NonEmptyCheck(what string, size func() int) CheckFunc {
	return func(context.Context) error {
		if size() == 0 {
			return errors.Errorf("%s is empty", what)
		}
		return nil
	}
}

// PingCheck adapts a Ping method, as found on pgxpool.Pool, to a CheckFunc.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}
