package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks connectivity of a pool or client.
func Ping(p Pinger) CheckFunc {
	return p.Ping
}

// GoroutineLimit fails when more than limit goroutines are running.
func GoroutineLimit(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines exceed limit %d", n, limit)
		}
		return nil
	}
}
