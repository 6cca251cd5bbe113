package a

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	for !cond() {
		time.Sleep(time.Millisecond) // OK: no context
	}
}
