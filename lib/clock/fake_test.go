// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestFakeNowStandsStill(t *testing.T) {
	clock := Fake(epoch)
	if !clock.Now().Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", clock.Now(), epoch)
	}
	clock.Advance(90 * time.Second)
	if want := epoch.Add(90 * time.Second); !clock.Now().Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", clock.Now(), want)
	}
}

func TestFakeAfter(t *testing.T) {
	t.Run("zero duration is ready immediately", func(t *testing.T) {
		clock := Fake(epoch)
		select {
		case fired := <-clock.After(0):
			if !fired.Equal(epoch) {
				t.Errorf("fired at %v, want %v", fired, epoch)
			}
		default:
			t.Fatal("After(0) channel not ready")
		}
	})

	t.Run("fires only once deadline is reached", func(t *testing.T) {
		clock := Fake(epoch)
		channel := clock.After(time.Second)

		clock.Advance(500 * time.Millisecond)
		select {
		case <-channel:
			t.Fatal("fired before deadline")
		default:
		}
		if clock.Pending() != 1 {
			t.Errorf("Pending() = %d, want 1", clock.Pending())
		}

		clock.Advance(500 * time.Millisecond)
		select {
		case fired := <-channel:
			if want := epoch.Add(time.Second); !fired.Equal(want) {
				t.Errorf("fired at %v, want %v", fired, want)
			}
		default:
			t.Fatal("did not fire at deadline")
		}
		if clock.Pending() != 0 {
			t.Errorf("Pending() = %d, want 0", clock.Pending())
		}
	})
}

func TestFakeWaitForWaiters(t *testing.T) {
	clock := Fake(epoch)
	done := make(chan time.Time)
	go func() {
		done <- <-clock.After(time.Minute)
	}()

	clock.WaitForWaiters(1)
	clock.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("waiter never fired")
	}
}
