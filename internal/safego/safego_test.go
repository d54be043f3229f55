package safego

import (
	"testing"
	"time"
)

func TestGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})

	Go("run", func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("goroutine did not complete within timeout")
	}
}

func TestGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})

	// Must not crash the test process.
	Go("panicker", func() {
		defer close(done)
		panic("intentional panic in test")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("goroutine did not complete within timeout after panic")
	}
}

func TestGo_PanicDoesNotBlockSubsequentLaunches(t *testing.T) {
	Go("first", func() { panic("boom") })

	done := make(chan struct{})
	Go("second", func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("second goroutine did not run")
	}
}
