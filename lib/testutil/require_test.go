// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"testing"
	"time"
)

type fakeT struct {
	failed  bool
	message string
}

func (f *fakeT) Helper() {}

func (f *fakeT) Fatalf(format string, args ...any) {
	f.failed = true
	f.message = fmt.Sprintf(format, args...)
	panic(f)
}

func capture(run func(t TB)) (result *fakeT) {
	result = &fakeT{}
	defer func() {
		if recovered := recover(); recovered != nil && recovered != result {
			panic(recovered)
		}
	}()
	run(result)
	return result
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second); got != 7 {
		t.Errorf("RequireReceive = %d, want 7", got)
	}

	failed := capture(func(t TB) { RequireReceive(t, ch, time.Millisecond, "shard %d", 3) })
	if !failed.failed || failed.message != "timed out after 1ms: shard 3" {
		t.Errorf("timeout message = %q", failed.message)
	}

	close(ch)
	failed = capture(func(t TB) { RequireReceive(t, ch, time.Second, "closed") })
	if !failed.failed {
		t.Error("receive from closed channel did not fail")
	}
}

func TestRequireNoReceive(t *testing.T) {
	ch := make(chan string, 1)
	RequireNoReceive(t, ch, time.Millisecond)

	ch <- "frame"
	failed := capture(func(t TB) { RequireNoReceive(t, ch, time.Second) })
	if !failed.failed {
		t.Error("buffered value not reported")
	}
}

func TestEventually(t *testing.T) {
	calls := 0
	Eventually(t, func() bool {
		calls++
		return calls == 3
	}, time.Second)

	failed := capture(func(t TB) { Eventually(t, func() bool { return false }, 5*time.Millisecond) })
	if !failed.failed {
		t.Error("Eventually did not fail on a false condition")
	}
}
