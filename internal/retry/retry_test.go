package retry

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"
)

func TestBackoff_Sequence(t *testing.T) {
	b := NewBackoff(Policy{Initial: 50 * time.Millisecond, Max: 4000 * time.Millisecond})

	want := []time.Duration{50, 100, 200, 400, 800, 1600, 3200, 4000, 4000, 4000}
	for i, w := range want {
		if got := b.Next(); got != w*time.Millisecond {
			t.Fatalf("step %d: got %v, want %v", i, got, w*time.Millisecond)
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(Policy{Initial: 10 * time.Millisecond, Max: time.Second})
	b.Next()
	b.Next()
	if got := b.Peek(); got != 40*time.Millisecond {
		t.Fatalf("peek: got %v, want 40ms", got)
	}
	b.Reset()
	if got := b.Next(); got != 10*time.Millisecond {
		t.Fatalf("after reset: got %v, want 10ms", got)
	}
}

func TestBackoff_Defaults(t *testing.T) {
	b := NewBackoff(Policy{})
	if got := b.Next(); got != DefaultPolicy.Initial {
		t.Fatalf("got %v, want %v", got, DefaultPolicy.Initial)
	}

	// A cap below the seed is raised to the seed.
	b = NewBackoff(Policy{Initial: time.Second, Max: time.Millisecond})
	b.Next()
	if got := b.Next(); got != time.Second {
		t.Fatalf("got %v, want 1s", got)
	}
}

func TestDo_ImmediateSuccess(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		val, err := Do(t.Context(), DefaultPolicy, func() (int, error) {
			return 42, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != 42 {
			t.Fatalf("got %d, want 42", val)
		}
	})
}

func TestDo_RetriesOnTransientError(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		calls := 0
		val, err := Do(t.Context(), DefaultPolicy, func() (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != "ok" {
			t.Fatalf("got %q, want %q", val, "ok")
		}
		if calls != 3 {
			t.Fatalf("expected 3 calls, got %d", calls)
		}
	})
}

func TestDo_GivesUpAfterAttempts(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		_, err := Do(t.Context(), Policy{Attempts: 3}, func() (int, error) {
			calls++
			return 0, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("got %v, want boom", err)
		}
		if calls != 3 {
			t.Fatalf("expected 3 calls, got %d", calls)
		}
	})
}

func TestDo_ContextCancellation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())

		errCh := make(chan error, 1)
		go func() {
			_, err := Do(ctx, DefaultPolicy, func() (int, error) {
				return 0, errors.New("always fails")
			})
			errCh <- err
		}()

		// Let the first attempt and backoff start.
		synctest.Wait()

		cancel()
		synctest.Wait()

		err := <-errCh
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	})
}

func TestDo_ExponentialBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var timestamps []time.Duration
		start := time.Now()
		calls := 0

		val, err := Do(t.Context(), DefaultPolicy, func() (int, error) {
			timestamps = append(timestamps, time.Since(start))
			calls++
			if calls < 5 {
				return 0, errors.New("fail")
			}
			return 99, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != 99 {
			t.Fatalf("got %d, want 99", val)
		}

		// Expected schedule:
		//   call 1: t=0
		//   call 2: t=50ms   (waited 50ms)
		//   call 3: t=150ms  (waited 100ms)
		//   call 4: t=350ms  (waited 200ms)
		//   call 5: t=750ms  (waited 400ms)
		want := []time.Duration{
			0,
			50 * time.Millisecond,
			150 * time.Millisecond,
			350 * time.Millisecond,
			750 * time.Millisecond,
		}
		if len(timestamps) != len(want) {
			t.Fatalf("got %d timestamps, want %d", len(timestamps), len(want))
		}
		for i, w := range want {
			if timestamps[i] != w {
				t.Errorf("call %d: got %v, want %v", i+1, timestamps[i], w)
			}
		}
	})
}

func TestSleep(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		start := time.Now()
		if err := Sleep(t.Context(), 3*time.Second); err != nil {
			t.Fatal(err)
		}
		if got := time.Since(start); got != 3*time.Second {
			t.Fatalf("slept %v, want 3s", got)
		}

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	})
}
