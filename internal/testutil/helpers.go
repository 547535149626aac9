// Package testutil holds shared helpers for unit and integration
// tests.
package testutil

import (
	"context"
	"testing"
	"time"
)

// TestContext returns a context that expires with a generous test
// budget and is cancelled on cleanup.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Ptr returns a pointer to v, for filter and update structs built from
// literals.
func Ptr[T any](v T) *T {
	return &v
}

// Eventually polls condition until it holds or the timeout elapses.
func Eventually(t *testing.T, condition func() bool, timeout, tick time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(tick)
	}
	t.Fatal(msg)
}
