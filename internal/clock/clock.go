// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts timers so idle eviction and reconnect backoff can be
// driven by a virtual clock in tests.
package clock

import "time"

// Clock is the subset of the time package used by the session lifecycle.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer can cancel
	// the pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable scheduled call created by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns false if it already fired
// or was already stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}
