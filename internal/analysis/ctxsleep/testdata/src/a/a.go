package a

import (
	"context"
	"time"
)

func poll(ctx context.Context) {
	time.Sleep(time.Second) // want `time\.Sleep ignores the context; use retry\.Sleep`
}

func pollLater(ctx context.Context) {
	go func() {
		time.Sleep(time.Second) // want `time\.Sleep ignores the context; use retry\.Sleep`
	}()
}

type Ctx = context.Context

func aliased(c Ctx, d time.Duration) {
	time.Sleep(d) // want `time\.Sleep ignores the context; use retry\.Sleep`
}

func noContext() {
	time.Sleep(time.Second) // OK: nothing to cancel
}

func contextInClosureOnly() {
	f := func(ctx context.Context) {
		time.Sleep(time.Second) // want `time\.Sleep ignores the context; use retry\.Sleep`
	}
	_ = f
	time.Sleep(time.Second) // OK: outside the closure
}
